package e2etests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a stack started with APP_ENV=DEV so the seed users exist:
// 263770000001 (100 credits), 263770000002 (0), 263770000003 (1).
const (
	timeout   = 5 * time.Second
	waitReady = 20 * time.Second

	richUser  = "263770000001"
	broke     = "263770000002"
	oneCredit = "263770000003"
)

var (
	httpClient = &http.Client{Timeout: timeout}
	baseURL    = envOr("E2E_BASE_URL", "http://localhost:8080")
	apiKey     = envOr("E2E_API_KEY", "dev-api-key")
)

type receipt struct {
	TransactionID        string `json:"transactionId"`
	Kind                 string `json:"kind"`
	Delta                int64  `json:"delta"`
	Charged              int64  `json:"charged"`
	BalanceBefore        int64  `json:"balanceBefore"`
	BalanceAfter         int64  `json:"balanceAfter"`
	Bundled              bool   `json:"bundled"`
	RelatedTransactionID string `json:"relatedTransactionId"`
	Replayed             bool   `json:"replayed"`
}

func TestE2E_DeductFlow(t *testing.T) {
	waitUntilReady(t)

	start := getBalance(t, richUser)

	t.Run("deduct_charges_action_cost", func(t *testing.T) {
		tid := uniqTxID("rich-ai")
		code, body := post(t, "/users/"+richUser+"/credits/deduct", map[string]any{
			"action": "ai_question", "transactionId": tid,
		})
		require.Equal(t, http.StatusOK, code, string(body))

		var r receipt
		require.NoError(t, json.Unmarshal(body, &r))
		assert.Equal(t, int64(-1), r.Delta)
		assert.Equal(t, r.BalanceBefore+r.Delta, r.BalanceAfter)
		assert.Equal(t, start-1, getBalance(t, richUser))
	})

	t.Run("duplicate_transaction_is_replayed", func(t *testing.T) {
		tid := uniqTxID("rich-dup")
		req := map[string]any{"action": "exam_question", "transactionId": tid}

		code, body := post(t, "/users/"+richUser+"/credits/deduct", req)
		require.Equal(t, http.StatusOK, code, string(body))
		before := getBalance(t, richUser)

		code, body = post(t, "/users/"+richUser+"/credits/deduct", req)
		require.Equal(t, http.StatusOK, code, string(body))

		var r receipt
		require.NoError(t, json.Unmarshal(body, &r))
		assert.True(t, r.Replayed)
		assert.Equal(t, before, getBalance(t, richUser))
	})

	t.Run("refund_restores_balance", func(t *testing.T) {
		tid := uniqTxID("rich-refund")
		code, body := post(t, "/users/"+richUser+"/credits/deduct", map[string]any{
			"action": "image_solve", "transactionId": tid,
		})
		require.Equal(t, http.StatusOK, code, string(body))
		afterCharge := getBalance(t, richUser)

		code, body = post(t, "/users/"+richUser+"/credits/refund", map[string]any{
			"transactionId": tid, "reason": "ai timeout",
		})
		require.Equal(t, http.StatusOK, code, string(body))

		var r receipt
		require.NoError(t, json.Unmarshal(body, &r))
		assert.Equal(t, "refund", r.Kind)
		assert.Equal(t, tid, r.RelatedTransactionID)
		assert.Equal(t, afterCharge+3, getBalance(t, richUser))

		code, _ = post(t, "/users/"+richUser+"/credits/refund", map[string]any{"transactionId": tid})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, afterCharge+3, getBalance(t, richUser))
	})

	t.Run("history_lists_newest_first", func(t *testing.T) {
		code, body := get(t, "/users/"+richUser+"/transactions?limit=3")
		require.Equal(t, http.StatusOK, code, string(body))

		var h struct {
			Transactions []receipt `json:"transactions"`
		}
		require.NoError(t, json.Unmarshal(body, &h))
		require.Len(t, h.Transactions, 3)
		assert.Equal(t, "refund", h.Transactions[0].Kind)
	})
}

func TestE2E_InsufficientAndValidation(t *testing.T) {
	waitUntilReady(t)

	t.Run("zero_balance_is_payment_required", func(t *testing.T) {
		code, body := post(t, "/users/"+broke+"/credits/deduct", map[string]any{
			"action": "ai_question", "transactionId": uniqTxID("broke"),
		})
		require.Equal(t, http.StatusPaymentRequired, code, string(body))

		var e struct {
			Required  int64 `json:"required"`
			Available int64 `json:"available"`
			Shortfall int64 `json:"shortfall"`
		}
		require.NoError(t, json.Unmarshal(body, &e))
		assert.Equal(t, int64(1), e.Shortfall)
		assert.Equal(t, int64(0), getBalance(t, broke))
	})

	t.Run("check_does_not_charge", func(t *testing.T) {
		code, body := post(t, "/users/"+oneCredit+"/credits/check", map[string]any{"action": "graph_practice"})
		require.Equal(t, http.StatusOK, code, string(body))

		var q struct {
			Sufficient bool  `json:"sufficient"`
			Shortfall  int64 `json:"shortfall"`
		}
		require.NoError(t, json.Unmarshal(body, &q))
		assert.False(t, q.Sufficient)
		assert.Equal(t, int64(1), q.Shortfall)
		assert.Equal(t, int64(1), getBalance(t, oneCredit))
	})

	t.Run("unknown_action", func(t *testing.T) {
		code, _ := post(t, "/users/"+oneCredit+"/credits/deduct", map[string]any{"action": "teleport"})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown_platform", func(t *testing.T) {
		code, _ := post(t, "/users/"+oneCredit+"/credits/deduct", map[string]any{
			"platform": "sms", "action": "ai_question",
		})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown_user", func(t *testing.T) {
		code, _ := get(t, "/users/263779999999/balance")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("missing_api_key", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/users/"+richUser+"/balance", nil)
		require.NoError(t, err)

		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestE2E_TopUp(t *testing.T) {
	waitUntilReady(t)

	ref := uniqTxID("paynow")
	before := getBalance(t, broke)

	code, body := post(t, "/users/"+broke+"/credits/topup", map[string]any{
		"amount": 10, "reference": ref, "source": "paynow",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, before+10, getBalance(t, broke))

	code, body = post(t, "/users/"+broke+"/credits/topup", map[string]any{
		"amount": 10, "reference": ref, "source": "paynow",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, before+10, getBalance(t, broke), "same reference must be applied once")
}

/* -------------------- helpers -------------------- */

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func do(t *testing.T, method, path string, payload any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, b
}

func get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	return do(t, http.MethodGet, path, nil)
}

func post(t *testing.T, path string, payload any) (int, []byte) {
	t.Helper()
	return do(t, http.MethodPost, path, payload)
}

func getBalance(t *testing.T, userID string) int64 {
	t.Helper()

	code, body := get(t, "/users/"+userID+"/balance")
	require.Equal(t, http.StatusOK, code, string(body))

	var payload struct {
		UserID  string `json:"userId"`
		Balance int64  `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, userID, payload.UserID)

	return payload.Balance
}

// waitUntilReady polls /healthz until the service answers or waitReady passes.
func waitUntilReady(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitReady)
	defer cancel()

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("service not ready at %s within %s", baseURL, waitReady)
		case <-tick.C:
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
			resp, err := httpClient.Do(req)
			if err != nil {
				// dial errors while the container starts
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
	}
}

func uniqTxID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
