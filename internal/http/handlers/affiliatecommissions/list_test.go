package affiliatecommissions_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tradervault/subscription-backend/internal/http/handlers/affiliatecommissions"
	"github.com/tradervault/subscription-backend/internal/http/middlewarectx"
	"github.com/tradervault/subscription-backend/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) List(ctx context.Context, affiliateUID string, limit, offset int) ([]*models.AffiliateCommission, error) {
	args := m.Called(ctx, affiliateUID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AffiliateCommission), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func doRequest(handler http.Handler, target, userUID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userUID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, userUID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListHandler(t *testing.T) {
	t.Run("returns commissions with default pagination", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		serviceMock.On("List", mock.Anything, "uid-123", 50, 0).
			Return([]*models.AffiliateCommission{
				{ID: 2, AffiliateUID: "uid-123", Amount: 4.9},
				{ID: 1, AffiliateUID: "uid-123", Amount: 14.9},
			}, nil).Once()

		handler := affiliatecommissions.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, "/api/v1/affiliate/commissions", "uid-123")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":2`)
		serviceMock.AssertExpectations(t)
	})

	t.Run("clamps out of range pagination parameters", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		serviceMock.On("List", mock.Anything, "uid-123", 50, 0).
			Return([]*models.AffiliateCommission{}, nil).Once()

		handler := affiliatecommissions.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, "/api/v1/affiliate/commissions?limit=1000&offset=-5", "uid-123")

		assert.Equal(t, http.StatusOK, rec.Code)
		serviceMock.AssertExpectations(t)
	})

	t.Run("passes explicit pagination parameters", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		serviceMock.On("List", mock.Anything, "uid-123", 10, 20).
			Return([]*models.AffiliateCommission{}, nil).Once()

		handler := affiliatecommissions.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, "/api/v1/affiliate/commissions?limit=10&offset=20", "uid-123")

		assert.Equal(t, http.StatusOK, rec.Code)
		serviceMock.AssertExpectations(t)
	})

	t.Run("missing user identity", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		handler := affiliatecommissions.New(newNoopLogger(), serviceMock)

		rec := doRequest(handler, "/api/v1/affiliate/commissions", "")

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		serviceMock.AssertNotCalled(t, "List")
	})

	t.Run("service error", func(t *testing.T) {
		serviceMock := new(ServiceMock)
		serviceMock.On("List", mock.Anything, "uid-123", 50, 0).
			Return(nil, errors.New("storage down")).Once()

		handler := affiliatecommissions.New(newNoopLogger(), serviceMock)
		rec := doRequest(handler, "/api/v1/affiliate/commissions", "uid-123")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		serviceMock.AssertExpectations(t)
	})
}
