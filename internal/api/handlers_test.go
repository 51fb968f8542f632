package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/admin"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/progress"
)

const testAPIKey = "test-key"

type testServer struct {
	handler  http.Handler
	credits  *MockCredits
	progress *MockProgress
	admin    *MockAdmin
	costs    *MockCosts
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		credits:  new(MockCredits),
		progress: new(MockProgress),
		admin:    new(MockAdmin),
		costs:    new(MockCosts),
		metrics:  metrics.New(),
	}
	ts.handler = NewRouter(Deps{
		Credits:  ts.credits,
		Progress: ts.progress,
		Admin:    ts.admin,
		Costs:    ts.costs,
		Metrics:  ts.metrics,
		Logger:   zap.NewNop(),
		APIKey:   testAPIKey,
	})

	t.Cleanup(func() {
		ts.credits.AssertExpectations(t)
		ts.progress.AssertExpectations(t)
		ts.admin.AssertExpectations(t)
		ts.costs.AssertExpectations(t)
	})

	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

func withKey() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func sampleReceipt() credits.Receipt {
	return credits.Receipt{
		TransactionID: "tx-1",
		UserID:        "263770000001",
		Kind:          transactions.KindDeduct,
		Action:        "ai_question",
		Platform:      "whatsapp",
		Delta:         -1,
		BalanceBefore: 10,
		BalanceAfter:  9,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "missing", headers: nil},
		{name: "wrong", headers: map[string]string{"X-API-Key": "nope"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/users/u1/balance", "", tc.headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGetBalanceHandler(t *testing.T) {
	tests := []struct {
		name       string
		balance    int64
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ok",
			balance:    42,
			wantStatus: http.StatusOK,
			wantBody:   `{"userId":"u1","balance":42}`,
		},
		{
			name:       "not_found",
			err:        users.ErrUserNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"user not found"}`,
		},
		{
			name:       "internal",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal error"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.credits.On("GetBalance", mock.Anything, "u1").Return(tc.balance, tc.err).Once()

			rec := ts.do(t, http.MethodGet, "/users/u1/balance", "", withKey())

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.JSONEq(t, tc.wantBody, rec.Body.String())
		})
	}
}

func TestCanceledRequest(t *testing.T) {
	ts := newTestServer(t)
	ts.credits.On("GetBalance", mock.Anything, "u1").Return(int64(0), fmt.Errorf("get balance: %w", context.Canceled)).Once()

	rec := ts.do(t, http.MethodGet, "/users/u1/balance", "", withKey())
	assert.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/users/{userId}/balance",status="499"`)
	assert.NotContains(t, rec.Body.String(), `route="/users/{userId}/balance",status="200"`)
}

func TestDeductHandler(t *testing.T) {
	t.Run("charged", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Deduct", mock.Anything, credits.DeductRequest{
			UserID:        "263770000001",
			Platform:      costs.PlatformWhatsApp,
			Action:        "ai_question",
			TransactionID: "tx-1",
		}).Return(sampleReceipt(), nil).Once()

		rec := ts.do(t, http.MethodPost, "/users/263770000001/credits/deduct",
			`{"action":"ai_question","transactionId":"tx-1"}`, withKey())

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "tx-1", body["transactionId"])
		assert.EqualValues(t, 1, body["charged"])
		assert.EqualValues(t, -1, body["delta"])
		assert.EqualValues(t, 9, body["balanceAfter"])
		assert.Equal(t, false, body["bundled"])
		assert.Equal(t, false, body["replayed"])
	})

	t.Run("insufficient", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Deduct", mock.Anything, mock.AnythingOfType("credits.DeductRequest")).
			Return(credits.Receipt{}, &credits.InsufficientCreditsError{Required: 3, Available: 1, Shortfall: 2}).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/credits/deduct",
			`{"platform":"app","action":"image_solve"}`, withKey())

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.JSONEq(t, `{"error":"insufficient credits","required":3,"available":1,"shortfall":2}`, rec.Body.String())
	})

	errCases := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{name: "unknown_action", body: `{"action":"teleport"}`, err: costs.ErrUnknownAction, wantStatus: http.StatusBadRequest},
		{name: "conflict", body: `{"action":"ai_question","transactionId":"x"}`, err: credits.ErrTransactionConflict, wantStatus: http.StatusConflict},
		{name: "user_not_found", body: `{"action":"ai_question"}`, err: users.ErrUserNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.credits.On("Deduct", mock.Anything, mock.AnythingOfType("credits.DeductRequest")).
				Return(credits.Receipt{}, tc.err).Once()

			rec := ts.do(t, http.MethodPost, "/users/u1/credits/deduct", tc.body, withKey())

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}

	badRequests := []struct {
		name string
		body string
	}{
		{name: "empty_body", body: ""},
		{name: "invalid_json", body: `{"action":`},
		{name: "unknown_field", body: `{"action":"ai_question","amount":5}`},
		{name: "trailing_data", body: `{"action":"ai_question"}{}`},
		{name: "missing_action", body: `{"platform":"whatsapp"}`},
		{name: "unknown_platform", body: `{"platform":"sms","action":"ai_question"}`},
	}

	for _, tc := range badRequests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/users/u1/credits/deduct", tc.body, withKey())

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			ts.credits.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
		})
	}
}

func TestCheckHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.credits.On("Check", mock.Anything, "u1", costs.PlatformApp, "image_solve").Return(credits.Quote{
		UserID:     "u1",
		Platform:   costs.PlatformApp,
		Action:     "image_solve",
		Cost:       3,
		Balance:    1,
		Sufficient: false,
		Shortfall:  2,
	}, nil).Once()

	rec := ts.do(t, http.MethodPost, "/users/u1/credits/check",
		`{"platform":"APP","action":"image_solve"}`, withKey())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"userId":"u1","platform":"app","action":"image_solve",
		"cost":3,"balance":1,"sufficient":false,"shortfall":2,"bundled":false
	}`, rec.Body.String())
}

func TestRefundHandler(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ts := newTestServer(t)
		r := sampleReceipt()
		r.TransactionID = "refund:tx-1"
		r.Kind = transactions.KindRefund
		r.Delta = 1
		r.BalanceBefore, r.BalanceAfter = 9, 10
		r.RelatedTransactionID = "tx-1"

		ts.credits.On("Refund", mock.Anything, credits.RefundRequest{
			UserID: "u1", TransactionID: "tx-1", Reason: "ai timeout",
		}).Return(r, nil).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/credits/refund",
			`{"transactionId":"tx-1","reason":"ai timeout"}`, withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "refund:tx-1", body["transactionId"])
		assert.Equal(t, "tx-1", body["relatedTransactionId"])
		assert.EqualValues(t, 0, body["charged"])
	})

	t.Run("missing_id", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/users/u1/credits/refund", `{"reason":"x"}`, withKey())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not_refundable", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Refund", mock.Anything, mock.AnythingOfType("credits.RefundRequest")).
			Return(credits.Receipt{}, credits.ErrNotRefundable).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/credits/refund", `{"transactionId":"tx-1"}`, withKey())

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown_transaction", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Refund", mock.Anything, mock.AnythingOfType("credits.RefundRequest")).
			Return(credits.Receipt{}, transactions.ErrTransactionNotFound).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/credits/refund", `{"transactionId":"tx-9"}`, withKey())

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTopUpHandler_InvalidAmount(t *testing.T) {
	ts := newTestServer(t)
	ts.credits.On("TopUp", mock.Anything, credits.TopUpRequest{UserID: "u1", Amount: 0, Reference: "pay-1"}).
		Return(credits.Receipt{}, errors.Join(errors.New("top up"), credits.ErrInvalidRequest)).Once()

	rec := ts.do(t, http.MethodPost, "/users/u1/credits/topup", `{"amount":0,"reference":"pay-1"}`, withKey())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryHandler(t *testing.T) {
	t.Run("default_limit", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("History", mock.Anything, "u1", 0).Return([]credits.Receipt{sampleReceipt()}, nil).Once()

		rec := ts.do(t, http.MethodGet, "/users/u1/transactions", "", withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Len(t, body["transactions"], 1)
	})

	t.Run("empty_is_array", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("History", mock.Anything, "u1", 10).Return([]credits.Receipt{}, nil).Once()

		rec := ts.do(t, http.MethodGet, "/users/u1/transactions?limit=10", "", withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"userId":"u1","transactions":[]}`, rec.Body.String())
	})

	for _, limit := range []string{"0", "201", "abc", "-1"} {
		t.Run("bad_limit_"+limit, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodGet, "/users/u1/transactions?limit="+limit, "", withKey())

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterHandler(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Register", mock.Anything, "263770000009", "Tendai").Return(credits.Receipt{
			TransactionID: "welcome:263770000009",
			BalanceAfter:  100,
		}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/users", `{"userId":"263770000009","displayName":"Tendai"}`, withKey())

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"userId":"263770000009","balance":100,"transactionId":"welcome:263770000009"}`, rec.Body.String())
	})

	t.Run("exists", func(t *testing.T) {
		ts := newTestServer(t)
		ts.credits.On("Register", mock.Anything, "u1", "").Return(credits.Receipt{}, users.ErrUserExists).Once()

		rec := ts.do(t, http.MethodPost, "/users", `{"userId":"u1"}`, withKey())

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing_user_id", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/users", `{"displayName":"x"}`, withKey())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCostsHandler(t *testing.T) {
	tbl, err := costs.NewTable([]costs.Entry{
		{Action: "ai_question", Cost: 1},
		{Action: "hint", Cost: 1, Command: true},
	}, 1)
	require.NoError(t, err)

	t.Run("whatsapp", func(t *testing.T) {
		ts := newTestServer(t)
		ts.costs.On("Table", mock.Anything, costs.PlatformWhatsApp).Return(tbl, nil).Once()

		rec := ts.do(t, http.MethodGet, "/costs", "", withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "whatsapp", body["platform"])
		assert.EqualValues(t, 1, body["commandBundleCost"])
		assert.Len(t, body["actions"], 2)
	})

	t.Run("app_has_no_bundle", func(t *testing.T) {
		ts := newTestServer(t)
		ts.costs.On("Table", mock.Anything, costs.PlatformApp).Return(tbl, nil).Once()

		rec := ts.do(t, http.MethodGet, "/costs?platform=app", "", withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 0, body["commandBundleCost"])
	})

	t.Run("unknown_platform", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodGet, "/costs?platform=telegram", "", withKey())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProgressHandlers(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("award_xp", func(t *testing.T) {
		ts := newTestServer(t)
		ts.progress.On("AwardXP", mock.Anything, "u1", int64(150)).Return(progress.Award{
			Progress:  users.Progress{XP: 150, Level: 2, Streak: 1, LastActivity: day},
			LeveledUp: true,
		}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/progress/xp", `{"xp":150}`, withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"userId":"u1","xp":150,"level":2,"streak":1,"lastActivity":"2026-03-01","leveledUp":true}`,
			rec.Body.String())
	})

	t.Run("award_xp_invalid", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodPost, "/users/u1/progress/xp", `{"xp":0}`, withKey())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("activity_explicit_time", func(t *testing.T) {
		ts := newTestServer(t)
		ts.progress.On("RecordActivity", mock.Anything, "u1", day).
			Return(users.Progress{XP: 0, Level: 1, Streak: 3, LastActivity: day}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/progress/activity", `{"at":"2026-03-01T00:00:00Z"}`, withKey())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 3, body["streak"])
	})

	t.Run("activity_no_body", func(t *testing.T) {
		ts := newTestServer(t)
		ts.progress.On("RecordActivity", mock.Anything, "u1", mock.AnythingOfType("time.Time")).
			Return(users.Progress{Level: 1, Streak: 1, LastActivity: day}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/users/u1/progress/activity", "", withKey())

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get_not_found", func(t *testing.T) {
		ts := newTestServer(t)
		ts.progress.On("Get", mock.Anything, "u1").Return(users.Progress{}, users.ErrUserNotFound).Once()

		rec := ts.do(t, http.MethodGet, "/users/u1/progress", "", withKey())

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminLoginHandler(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ok", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("Login", mock.Anything, "head@school.zw", "secret123").
			Return(admin.Token{AccessToken: "jwt", ExpiresAt: exp}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/admin/login", `{"email":"head@school.zw","password":"secret123"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"accessToken":"jwt","tokenType":"Bearer","expiresAt":"2026-01-01T12:00:00Z"}`, rec.Body.String())
	})

	t.Run("bad_credentials", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("Login", mock.Anything, "head@school.zw", "wrong").
			Return(admin.Token{}, admin.ErrInvalidCredentials).Once()

		rec := ts.do(t, http.MethodPost, "/admin/login", `{"email":"head@school.zw","password":"wrong"}`, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	claims := &admin.Claims{Email: "head@school.zw", Name: "Head"}
	bearer := map[string]string{"Authorization": "Bearer good"}

	t.Run("missing_token", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodGet, "/admin/users/u1", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad_token", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("ValidateToken", "bad").Return(nil, admin.ErrInvalidToken).Once()

		rec := ts.do(t, http.MethodGet, "/admin/users/u1", "", map[string]string{"Authorization": "Bearer bad"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("api_key_is_not_enough", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(t, http.MethodGet, "/admin/users/u1", "", withKey())

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("get_user", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("ValidateToken", "good").Return(claims, nil).Once()
		ts.credits.On("GetUser", mock.Anything, "u1").Return(users.User{
			ID:          "u1",
			DisplayName: "Rudo",
			Credits:     12,
			Progress:    users.Progress{XP: 40, Level: 1},
			CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}, nil).Once()

		rec := ts.do(t, http.MethodGet, "/admin/users/u1", "", bearer)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 12, body["balance"])
		assert.Equal(t, "Rudo", body["displayName"])
	})

	t.Run("grant_records_admin", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("ValidateToken", "good").Return(claims, nil).Once()
		ts.credits.On("Grant", mock.Anything, credits.GrantRequest{
			UserID:     "u1",
			Amount:     25,
			Reason:     "competition prize",
			AdminEmail: "head@school.zw",
		}).Return(credits.Receipt{TransactionID: "grant:1", Kind: transactions.KindGrant, Delta: 25}, nil).Once()

		rec := ts.do(t, http.MethodPost, "/admin/users/u1/credits",
			`{"amount":25,"reason":"competition prize"}`, bearer)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "grant", body["kind"])
	})

	t.Run("history", func(t *testing.T) {
		ts := newTestServer(t)
		ts.admin.On("ValidateToken", "good").Return(claims, nil).Once()
		ts.credits.On("History", mock.Anything, "u1", 5).Return([]credits.Receipt{}, nil).Once()

		rec := ts.do(t, http.MethodGet, "/admin/users/u1/transactions?limit=5", "", bearer)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.credits.On("GetBalance", mock.Anything, "u1").Return(int64(1), nil).Once()

	_ = ts.do(t, http.MethodGet, "/users/u1/balance", "", withKey())
	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nerdx_http_request_duration_seconds_count{method="GET",route="/users/{userId}/balance",status="200"} 1`)
}
