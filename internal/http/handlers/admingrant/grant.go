// Package admingrant реализует HTTP-обработчик ручной выдачи подписки
// администратором, минуя платёжных провайдеров.
package admingrant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/tradervault/subscription-backend/internal/http/response"
	"github.com/tradervault/subscription-backend/internal/lib/sl"
	"github.com/tradervault/subscription-backend/internal/models"
)

// Request — структура входных данных для выдачи подписки.
type Request struct {
	UserUID string `json:"user_uid" validate:"required,uuid"`
	Plan    string `json:"plan" validate:"required,oneof=weekly monthly quarterly"`
	Until   string `json:"until" validate:"required,datetime=2006-01-02"`
}

// Service описывает интерфейс ядра для ручной активации подписки.
type Service interface {
	Grant(ctx context.Context, userUID, plan string, periodEnd time.Time) (*models.Entitlement, error)
}

// Handler обрабатывает запросы ручной выдачи подписки.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Ручная выдача подписки пользователю
// @Description Активирует или продлевает подписку без участия платёжного провайдера. Партнёрская комиссия не начисляется. Доступно только администратору.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "UID пользователя, план и дата окончания"
// @Success 200 {object} map[string]any "Подписка выдана"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /admin/subscriptions/grant [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admingrant"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.Any("request", req))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	until, err := time.Parse("2006-01-02", req.Until)
	if err != nil {
		log.Error("failed to parse until date", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("invalid until date"))
		return
	}

	ent, err := h.service.Grant(r.Context(), req.UserUID, req.Plan, until)
	if err != nil {
		log.Error("failed to grant subscription", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to grant subscription"))
		return
	}

	log.Info("subscription granted",
		slog.String("user_uid", req.UserUID),
		slog.String("plan", req.Plan))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user_uid":   ent.UserUID,
		"plan":       ent.Plan,
		"status":     ent.Status,
		"expires_at": ent.CurrentPeriodEnd,
	}))
}
