package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/progress"
)

var (
	errActionRequired = errors.New("action required")
	errInvalidLimit   = errors.New("limit must be an integer between 1 and 200")
)

type registerRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type registerResponse struct {
	UserID        string `json:"userId"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transactionId"`
}

// RegisterHandler handles POST /users
func (h *HandlerProvider) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	receipt, err := h.credits.Register(r.Context(), userID, req.DisplayName)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, registerResponse{
		UserID:        userID,
		Balance:       receipt.BalanceAfter,
		TransactionID: receipt.TransactionID,
	})
}

type progressResponse struct {
	UserID       string `json:"userId"`
	XP           int64  `json:"xp"`
	Level        int    `json:"level"`
	Streak       int    `json:"streak"`
	LastActivity string `json:"lastActivity,omitempty"`
	LeveledUp    *bool  `json:"leveledUp,omitempty"`
}

func toProgressResponse(userID string, p users.Progress) progressResponse {
	resp := progressResponse{
		UserID: userID,
		XP:     p.XP,
		Level:  p.Level,
		Streak: p.Streak,
	}
	if !p.LastActivity.IsZero() {
		resp.LastActivity = p.LastActivity.Format(time.DateOnly)
	}
	return resp
}

// GetProgressHandler handles GET /users/{userId}/progress
func (h *HandlerProvider) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	p, err := h.progress.Get(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toProgressResponse(userID, p))
}

type xpRequest struct {
	XP int64 `json:"xp"`
}

// AwardXPHandler handles POST /users/{userId}/progress/xp
func (h *HandlerProvider) AwardXPHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req xpRequest
	err = decodeJSON(w, r, &req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.XP <= 0 {
		h.writeError(w, http.StatusBadRequest, progress.ErrInvalidXP.Error())
		return
	}

	award, err := h.progress.AwardXP(r.Context(), userID, req.XP)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := toProgressResponse(userID, award.Progress)
	resp.LeveledUp = &award.LeveledUp

	h.writeJSON(w, http.StatusOK, resp)
}

type activityRequest struct {
	// At defaults to the server clock.
	At *time.Time `json:"at"`
}

// RecordActivityHandler handles POST /users/{userId}/progress/activity
func (h *HandlerProvider) RecordActivityHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid userId in path")
		return
	}

	var req activityRequest
	if r.ContentLength != 0 {
		err = decodeJSON(w, r, &req)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	at := h.now()
	if req.At != nil {
		at = *req.At
	}

	p, err := h.progress.RecordActivity(r.Context(), userID, at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toProgressResponse(userID, p))
}
