package admingrant_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tradervault/subscription-backend/internal/http/handlers/admingrant"
	"github.com/tradervault/subscription-backend/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Grant(ctx context.Context, userUID, plan string, periodEnd time.Time) (*models.Entitlement, error) {
	args := m.Called(ctx, userUID, plan, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Entitlement), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func doRequest(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/subscriptions/grant",
		bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGrantHandler(t *testing.T) {
	const userUID = "123e4567-e89b-12d3-a456-426614174000"

	t.Run("successful grant", func(t *testing.T) {
		until := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

		serviceMock := new(ServiceMock)
		serviceMock.On("Grant", mock.Anything, userUID, "monthly", until).
			Return(&models.Entitlement{
				UserUID:          userUID,
				Plan:             "monthly",
				Status:           models.StatusActive,
				CurrentPeriodEnd: &until,
			}, nil).Once()

		handler := admingrant.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, `{"user_uid":"`+userUID+`","plan":"monthly","until":"2025-12-31"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"active"`)
		serviceMock.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		handler := admingrant.New(newNoopLogger(), serviceMock)

		rec := doRequest(handler, `{invalid`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		serviceMock.AssertNotCalled(t, "Grant")
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{
				name: "user_uid is not a uuid",
				body: `{"user_uid":"not-a-uuid","plan":"monthly","until":"2025-12-31"}`,
			},
			{
				name: "unknown plan",
				body: `{"user_uid":"` + userUID + `","plan":"lifetime","until":"2025-12-31"}`,
			},
			{
				name: "malformed until date",
				body: `{"user_uid":"` + userUID + `","plan":"monthly","until":"31.12.2025"}`,
			},
			{
				name: "missing fields",
				body: `{}`,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				serviceMock := new(ServiceMock)
				handler := admingrant.New(newNoopLogger(), serviceMock)

				rec := doRequest(handler, tt.body)

				assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
				serviceMock.AssertNotCalled(t, "Grant")
			})
		}
	})

	t.Run("service error", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		serviceMock.On("Grant", mock.Anything, userUID, "monthly", mock.Anything).
			Return(nil, errors.New("user not found")).Once()

		handler := admingrant.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, `{"user_uid":"`+userUID+`","plan":"monthly","until":"2025-12-31"}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		serviceMock.AssertExpectations(t)
	})
}
