package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AdminLoginHandler handles POST /admin/login
func (h *HandlerProvider) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	tok, err := h.admin.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
	})
}

type adminUserResponse struct {
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	Balance     int64            `json:"balance"`
	Progress    progressResponse `json:"progress"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// AdminGetUserHandler handles GET /admin/users/{userId}
func (h *HandlerProvider) AdminGetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	u, err := h.credits.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, adminUserResponse{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Balance:     u.Credits,
		Progress:    toProgressResponse(u.ID, u.Progress),
		CreatedAt:   u.CreatedAt,
	})
}

type grantRequest struct {
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	TransactionID string `json:"transactionId"`
}

// AdminGrantHandler handles POST /admin/users/{userId}/credits
func (h *HandlerProvider) AdminGrantHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req grantRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adminEmail := ""
	if claims, ok := adminClaimsFrom(r.Context()); ok {
		adminEmail = claims.Email
	}

	receipt, err := h.credits.Grant(r.Context(), credits.GrantRequest{
		UserID:        userID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		AdminEmail:    adminEmail,
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}
