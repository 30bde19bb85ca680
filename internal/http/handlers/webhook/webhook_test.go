package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradervault/subscription-backend/internal/config"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/providers"
	"github.com/tradervault/subscription-backend/internal/services/entitlement"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) ApplyEvent(ctx context.Context, ev *models.SubscriptionEvent) (*entitlement.ApplyResult, error) {
	args := m.Called(ctx, ev)
	res, _ := args.Get(0).(*entitlement.ApplyResult)
	return res, args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

const whopSecret = "whop_secret"

func newTestRouter(service Service) chi.Router {
	registry := providers.NewRegistry(config.Providers{
		Stripe: config.ProviderConfig{WebhookSecret: "stripe_secret"},
		Whop:   config.ProviderConfig{WebhookSecret: whopSecret},
	}, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/{provider}", New(newNoopLogger(), service, registry).ServeHTTP)
	return r
}

func whopSign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(whopSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func doRequest(t *testing.T, router chi.Router, provider string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+provider, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Whop-Signature", signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookHandler_ServeHTTP(t *testing.T) {
	validBody := []byte(`{"action":"membership.went_valid","data":{"id":"mem_1","user":{"email":"t@example.com"}}}`)

	t.Run("unknown provider", func(t *testing.T) {
		router := newTestRouter(new(ServiceMock))
		rr := doRequest(t, router, "paypal", validBody, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		router := newTestRouter(new(ServiceMock))
		rr := doRequest(t, router, "whop", validBody, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		router := newTestRouter(new(ServiceMock))
		rr := doRequest(t, router, "whop", validBody, "sha256=deadbeef")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("valid event applied", func(t *testing.T) {
		service := new(ServiceMock)
		service.On("ApplyEvent", mock.Anything, mock.MatchedBy(func(ev *models.SubscriptionEvent) bool {
			return ev.Kind == models.EventActivated && ev.Provider == "whop"
		})).Return(&entitlement.ApplyResult{Kind: models.EventActivated, Applied: true}, nil)

		router := newTestRouter(service)
		rr := doRequest(t, router, "whop", validBody, whopSign(validBody))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Status string         `json:"status"`
			Data   map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "OK", resp.Status)
		assert.Equal(t, true, resp.Data["received"])
		service.AssertExpectations(t)
	})

	t.Run("duplicate acknowledged with 200", func(t *testing.T) {
		service := new(ServiceMock)
		service.On("ApplyEvent", mock.Anything, mock.Anything).
			Return(&entitlement.ApplyResult{Kind: models.EventActivated, Applied: false}, nil)

		router := newTestRouter(service)
		rr := doRequest(t, router, "whop", validBody, whopSign(validBody))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unrecognized event acknowledged with 200", func(t *testing.T) {
		service := new(ServiceMock)
		body := []byte(`{"action":"dispute.created","data":{}}`)

		router := newTestRouter(service)
		rr := doRequest(t, router, "whop", body, whopSign(body))
		assert.Equal(t, http.StatusOK, rr.Code)
		service.AssertNotCalled(t, "ApplyEvent", mock.Anything, mock.Anything)
	})

	t.Run("empty body rejected", func(t *testing.T) {
		router := newTestRouter(new(ServiceMock))
		rr := doRequest(t, router, "whop", nil, whopSign(nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("transient processing error returns 500 for retry", func(t *testing.T) {
		service := new(ServiceMock)
		service.On("ApplyEvent", mock.Anything, mock.Anything).
			Return(nil, errors.New("db connection lost"))

		router := newTestRouter(service)
		rr := doRequest(t, router, "whop", validBody, whopSign(validBody))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
