// Package subscriptionstatus реализует HTTP-обработчик пути чтения:
// текущий статус подписки аутентифицированного пользователя.
package subscriptionstatus

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/tradervault/subscription-backend/internal/http/middlewarectx"
	"github.com/tradervault/subscription-backend/internal/http/response"
	"github.com/tradervault/subscription-backend/internal/lib/sl"
	"github.com/tradervault/subscription-backend/internal/services/entitlement"
)

// Service описывает интерфейс ядра для получения статуса подписки.
type Service interface {
	Status(ctx context.Context, userUID string) (*entitlement.StatusResponse, error)
}

// Handler обрабатывает запросы статуса подписки.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Статус подписки текущего пользователя
// @Description Возвращает статус, план и дату окончания подписки, а также итоговый признак доступа к платным функциям.
// @Tags Subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Статус подписки"
// @Failure 401 {object} response.ErrorResponse "Пользователь не аутентифицирован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /subscription/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscriptionstatus"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("user identification missing")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user identification missing"))
		return
	}

	status, err := h.service.Status(r.Context(), userUID)
	if err != nil {
		log.Error("failed to get subscription status", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to get subscription status"))
		return
	}

	log.Info("subscription status returned",
		slog.String("user_uid", userUID),
		slog.String("status", status.Status))
	render.JSON(w, r, response.OKWithData(status))
}
