package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/gateway/circuitbreaker"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
)

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Mode:         config.ModeSandbox,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ClientURL:    "http://localhost:3000",
		BrandName:    "TDB",
	}
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	p, err := policy.NewRetryPolicy(policy.DefaultCreateRules())
	require.NoError(t, err)
	c := NewClient(testConfig(), &http.Client{Timeout: 2 * time.Second}, p, nil)
	c.baseURL = serverURL
	return c
}

func tokenHandler(calls *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","expires_in":3600,"token_type":"Bearer"}`)
	}
}

func TestGetAccessToken(t *testing.T) {
	t.Run("success and caching", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/oauth2/token", r.URL.Path)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "client-id", user)
			assert.Equal(t, "client-secret", pass)
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "grant_type=client_credentials")
			tokenHandler(&calls)(w, r)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		tok, err := c.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-123", tok.AccessToken)
		assert.True(t, tok.Valid())

		// Second call is served from the cache.
		_, err = c.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("non-2xx is AuthFailed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.GetAccessToken(context.Background())
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindAuthFailed, gerr.Kind)
		assert.Equal(t, http.StatusUnauthorized, gerr.HTTPStatus)
	})

	t.Run("malformed body is AuthFailed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"expires_in":3600}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.GetAccessToken(context.Background())
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindAuthFailed, gerr.Kind)
	})

	t.Run("expired cached token is not served", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(tokenHandler(&calls))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		c.cachedToken = Token{AccessToken: "stale", ExpiresAt: time.Now().Add(-time.Minute)}

		tok, err := c.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-123", tok.AccessToken)
		assert.Equal(t, 1, calls)
	})
}

func TestCreateOrder(t *testing.T) {
	token := Token{AccessToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)}

	t.Run("success serializes amount with two decimals", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/checkout/orders", r.URL.Path)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "CAPTURE", payload["intent"])

			units := payload["purchase_units"].([]interface{})
			amount := units[0].(map[string]interface{})["amount"].(map[string]interface{})
			assert.Equal(t, "27.00", amount["value"])
			assert.Equal(t, "GBP", amount["currency_code"])

			appCtx := payload["application_context"].(map[string]interface{})
			assert.Equal(t, "TDB", appCtx["brand_name"])
			assert.Equal(t, "http://localhost:3000/order-success", appCtx["return_url"])
			assert.Equal(t, "http://localhost:3000/cart", appCtx["cancel_url"])

			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"REMOTE-1","status":"CREATED"}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		order, err := c.CreateOrder(context.Background(), token, 27.00, "GBP", "order test")
		require.NoError(t, err)
		assert.Equal(t, "REMOTE-1", order.ID)
		assert.NotEmpty(t, order.Raw)
	})

	t.Run("non-positive amount rejected without a call", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:0")
		_, err := c.CreateOrder(context.Background(), token, 0, "GBP", "")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindCreateFailed, gerr.Kind)
	})

	t.Run("retries transient 500 then succeeds", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				http.Error(w, `{"message":"internal"}`, http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"REMOTE-2"}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		order, err := c.CreateOrder(context.Background(), token, 10, "GBP", "")
		require.NoError(t, err)
		assert.Equal(t, "REMOTE-2", order.ID)
		assert.Equal(t, 2, calls)
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, `{"message":"bad request"}`, http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.CreateOrder(context.Background(), token, 10, "GBP", "")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindCreateFailed, gerr.Kind)
		assert.Equal(t, 1, calls)
	})

	t.Run("retry budget is bounded", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.CreateOrder(context.Background(), token, 10, "GBP", "")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindCreateFailed, gerr.Kind)
		assert.Equal(t, 3, calls, "initial attempt plus two retries")
	})
}

const captureBody = `{
	"id": "REMOTE-1",
	"status": "COMPLETED",
	"update_time": "2026-08-01T10:00:00Z",
	"payer": {"email_address": "buyer@example.com"},
	"purchase_units": [{
		"payments": {"captures": [{
			"id": "CAP-1",
			"status": "COMPLETED",
			"amount": {"currency_code": "GBP", "value": "27.00"},
			"update_time": "2026-08-01T10:00:05Z"
		}]}
	}]
}`

func TestCaptureOrder(t *testing.T) {
	token := Token{AccessToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)}

	t.Run("success parses capture fields", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/checkout/orders/REMOTE-1/capture", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, captureBody)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		result, err := c.CaptureOrder(context.Background(), token, "REMOTE-1")
		require.NoError(t, err)
		assert.Equal(t, "CAP-1", result.TransactionID)
		assert.Equal(t, "COMPLETED", result.Status)
		assert.Equal(t, "buyer@example.com", result.PayerEmail)
		assert.InDelta(t, 27.00, result.Amount, 0.001)
		assert.Equal(t, "GBP", result.Currency)
		assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 5, 0, time.UTC), result.SettledAt)
	})

	t.Run("empty remote order id rejected", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:0")
		_, err := c.CaptureOrder(context.Background(), token, "")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindCaptureFailed, gerr.Kind)
	})

	t.Run("5xx fails without a second remote attempt", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, `{"message":"internal"}`, http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL)
		_, err := c.CaptureOrder(context.Background(), token, "REMOTE-1")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, KindCaptureFailed, gerr.Kind)
		assert.True(t, gerr.Transient())
		assert.Equal(t, 1, calls, "capture must not retry the remote attempt")
	})
}

func TestLookupOrder(t *testing.T) {
	token := Token{AccessToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders/REMOTE-1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"id":"REMOTE-1","status":"COMPLETED"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	status, err := c.LookupOrder(context.Background(), token, "REMOTE-1")
	require.NoError(t, err)
	assert.Equal(t, "REMOTE-1", status.ID)
	assert.True(t, status.Completed())
}

func TestClient_CircuitBreaker(t *testing.T) {
	token := Token{AccessToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"message":"internal"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := policy.NewRetryPolicy(nil) // no retries, simpler failure counting
	require.NoError(t, err)
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	c := NewClient(testConfig(), &http.Client{Timeout: 2 * time.Second}, p, breaker)
	c.baseURL = srv.URL

	_, err = c.CaptureOrder(context.Background(), token, "REMOTE-1")
	require.Error(t, err)
	_, err = c.CaptureOrder(context.Background(), token, "REMOTE-1")
	require.Error(t, err)

	// Breaker is open now: the third call never reaches the wire.
	_, err = c.CaptureOrder(context.Background(), token, "REMOTE-1")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUnavailable, gerr.Kind)
	assert.Equal(t, 2, calls)

	// Create path is independent of the tripped capture path.
	_, err = c.CreateOrder(context.Background(), token, 10, "GBP", "")
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindCreateFailed, gerr.Kind)
}
