package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
)

type receiptResponse struct {
	TransactionID        string    `json:"transactionId"`
	UserID               string    `json:"userId"`
	Kind                 string    `json:"kind"`
	Action               string    `json:"action,omitempty"`
	Platform             string    `json:"platform,omitempty"`
	Delta                int64     `json:"delta"`
	Charged              int64     `json:"charged"`
	BalanceBefore        int64     `json:"balanceBefore"`
	BalanceAfter         int64     `json:"balanceAfter"`
	Bundled              bool      `json:"bundled"`
	RelatedTransactionID string    `json:"relatedTransactionId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	Replayed             bool      `json:"replayed"`
}

func toReceiptResponse(r credits.Receipt) receiptResponse {
	return receiptResponse{
		TransactionID:        r.TransactionID,
		UserID:               r.UserID,
		Kind:                 string(r.Kind),
		Action:               r.Action,
		Platform:             r.Platform,
		Delta:                r.Delta,
		Charged:              r.Charged(),
		BalanceBefore:        r.BalanceBefore,
		BalanceAfter:         r.BalanceAfter,
		Bundled:              r.Bundled(),
		RelatedTransactionID: r.RelatedTransactionID,
		CreatedAt:            r.CreatedAt,
		Replayed:             r.Replayed,
	}
}

type balanceResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// GetBalanceHandler handles GET /users/{userId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	bal, err := h.credits.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Balance: bal})
}

type actionRequest struct {
	Platform      string `json:"platform"`
	Action        string `json:"action"`
	TransactionID string `json:"transactionId"`
}

// parse validates the shared part of check and deduct bodies.
func (req actionRequest) parse() (costs.Platform, string, error) {
	platform, err := costs.ParsePlatform(req.Platform)
	if err != nil {
		return "", "", err
	}

	action := strings.TrimSpace(req.Action)
	if action == "" {
		return "", "", errActionRequired
	}

	return platform, action, nil
}

type quoteResponse struct {
	UserID     string `json:"userId"`
	Platform   string `json:"platform"`
	Action     string `json:"action"`
	Cost       int64  `json:"cost"`
	Balance    int64  `json:"balance"`
	Sufficient bool   `json:"sufficient"`
	Shortfall  int64  `json:"shortfall"`
	Bundled    bool   `json:"bundled"`
}

// CheckHandler handles POST /users/{userId}/credits/check
func (h *HandlerProvider) CheckHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req actionRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	platform, action, err := req.parse()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.credits.Check(r.Context(), userID, platform, action)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, quoteResponse{
		UserID:     q.UserID,
		Platform:   string(q.Platform),
		Action:     q.Action,
		Cost:       q.Cost,
		Balance:    q.Balance,
		Sufficient: q.Sufficient,
		Shortfall:  q.Shortfall,
		Bundled:    q.Bundled,
	})
}

// DeductHandler handles POST /users/{userId}/credits/deduct
func (h *HandlerProvider) DeductHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req actionRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	platform, action, err := req.parse()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.credits.Deduct(r.Context(), credits.DeductRequest{
		UserID:        userID,
		Platform:      platform,
		Action:        action,
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// RefundHandler handles POST /users/{userId}/credits/refund
func (h *HandlerProvider) RefundHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req refundRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		h.writeError(w, http.StatusBadRequest, "transactionId required")
		return
	}

	receipt, err := h.credits.Refund(r.Context(), credits.RefundRequest{
		UserID:        userID,
		TransactionID: strings.TrimSpace(req.TransactionID),
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type topUpRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Source    string `json:"source"`
}

// TopUpHandler handles POST /users/{userId}/credits/topup
func (h *HandlerProvider) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req topUpRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.credits.TopUp(r.Context(), credits.TopUpRequest{
		UserID:    userID,
		Amount:    req.Amount,
		Reference: req.Reference,
		Source:    req.Source,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

type historyResponse struct {
	UserID       string            `json:"userId"`
	Transactions []receiptResponse `json:"transactions"`
}

// parseLimit reads ?limit=; absent means the service default.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > credits.MaxHistorySize {
		return 0, errInvalidLimit
	}

	return n, nil
}

// HistoryHandler handles GET /users/{userId}/transactions
func (h *HandlerProvider) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipts, err := h.credits.History(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := historyResponse{UserID: userID, Transactions: make([]receiptResponse, 0, len(receipts))}
	for _, rc := range receipts {
		resp.Transactions = append(resp.Transactions, toReceiptResponse(rc))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type costsResponse struct {
	Platform          string        `json:"platform"`
	CommandBundleCost int64         `json:"commandBundleCost"`
	Actions           []costs.Entry `json:"actions"`
}

// CostsHandler handles GET /costs?platform=
func (h *HandlerProvider) CostsHandler(w http.ResponseWriter, r *http.Request) {
	platform, err := costs.ParsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	tbl, err := h.costs.Table(r.Context(), platform)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := costsResponse{Platform: string(platform), Actions: tbl.Entries()}
	if platform == costs.PlatformWhatsApp {
		resp.CommandBundleCost = tbl.BundleCost()
	}

	h.writeJSON(w, http.StatusOK, resp)
}
