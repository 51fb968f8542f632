package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/admin"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/progress"
)

const maxBodyBytes = 1 << 20

// statusClientClosedRequest marks requests the caller abandoned so they are not counted as 200s.
const statusClientClosedRequest = 499

type CreditsService interface {
	Register(ctx context.Context, userID, displayName string) (credits.Receipt, error)
	GetUser(ctx context.Context, userID string) (users.User, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	Check(ctx context.Context, userID string, platform costs.Platform, action string) (credits.Quote, error)
	Deduct(ctx context.Context, req credits.DeductRequest) (credits.Receipt, error)
	Refund(ctx context.Context, req credits.RefundRequest) (credits.Receipt, error)
	TopUp(ctx context.Context, req credits.TopUpRequest) (credits.Receipt, error)
	Grant(ctx context.Context, req credits.GrantRequest) (credits.Receipt, error)
	History(ctx context.Context, userID string, limit int) ([]credits.Receipt, error)
}

type ProgressService interface {
	Get(ctx context.Context, userID string) (users.Progress, error)
	AwardXP(ctx context.Context, userID string, xp int64) (progress.Award, error)
	RecordActivity(ctx context.Context, userID string, at time.Time) (users.Progress, error)
}

type AdminService interface {
	Login(ctx context.Context, email, password string) (admin.Token, error)
	ValidateToken(token string) (*admin.Claims, error)
}

type CostCatalog interface {
	Table(ctx context.Context, platform costs.Platform) (*costs.Table, error)
}

// Deps is everything the HTTP layer calls into.
type Deps struct {
	Credits  CreditsService
	Progress ProgressService
	Admin    AdminService
	Costs    CostCatalog
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// APIKey guards the internal routes used by the bot and payment workers.
	APIKey string
}

// HandlerProvider exposes the HTTP handlers over the services.
type HandlerProvider struct {
	credits  CreditsService
	progress ProgressService
	admin    AdminService
	costs    CostCatalog
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(d Deps) *HandlerProvider {
	return &HandlerProvider{
		credits:  d.Credits,
		progress: d.Progress,
		admin:    d.Admin,
		costs:    d.Costs,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// --- Helpers ---

func (h *HandlerProvider) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (h *HandlerProvider) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

type errorResponse struct {
	Error string `json:"error"`
}

type insufficientResponse struct {
	Error     string `json:"error"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
	Shortfall int64  `json:"shortfall"`
}

// writeServiceError maps domain errors to status codes in one place.
func (h *HandlerProvider) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *credits.InsufficientCreditsError

	switch {
	case errors.As(err, &ie):
		h.writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:     "insufficient credits",
			Required:  ie.Required,
			Available: ie.Available,
			Shortfall: ie.Shortfall,
		})
	case errors.Is(err, credits.ErrInsufficientCredits):
		h.writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, users.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, transactions.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, users.ErrUserExists):
		h.writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, credits.ErrTransactionConflict):
		h.writeError(w, http.StatusConflict, "transaction id already used")
	case errors.Is(err, credits.ErrNotRefundable):
		h.writeError(w, http.StatusConflict, "transaction is not refundable")
	case errors.Is(err, costs.ErrUnknownAction):
		h.writeError(w, http.StatusBadRequest, "unknown action")
	case errors.Is(err, costs.ErrUnknownPlatform):
		h.writeError(w, http.StatusBadRequest, "unknown platform")
	case errors.Is(err, credits.ErrInvalidRequest), errors.Is(err, progress.ErrInvalidXP):
		h.writeError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, admin.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, context.Canceled):
		// client went away; the status is for logs and metrics only
		h.logger.Debug("request canceled", zap.String("path", r.URL.Path))
		w.WriteHeader(statusClientClosedRequest)
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// validationMessage keeps the part after the sentinel, e.g. "amount must be > 0".
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, credits.ErrInvalidRequest.Error()+": "); i >= 0 {
		return msg[i+len(credits.ErrInvalidRequest.Error())+2:]
	}
	if errors.Is(err, progress.ErrInvalidXP) {
		return progress.ErrInvalidXP.Error()
	}
	return "invalid request"
}

// decodeJSON limits the body, rejects unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("empty body")
		case errors.As(err, &maxErr):
			return errors.New("body too large")
		default:
			return errors.New("invalid JSON")
		}
	}

	if dec.More() {
		return errors.New("invalid JSON")
	}

	return nil
}

// userIDFromPath reads `{userId}` from chi routes like /users/{userId}/balance.
func userIDFromPath(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "userId"))
	if id == "" {
		return "", fmt.Errorf("missing userId")
	}

	return id, nil
}
