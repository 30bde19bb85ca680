// Package affiliatecommissions реализует HTTP-обработчик списка
// партнёрских комиссий, начисленных текущему пользователю.
package affiliatecommissions

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/tradervault/subscription-backend/internal/http/middlewarectx"
	"github.com/tradervault/subscription-backend/internal/http/response"
	"github.com/tradervault/subscription-backend/internal/lib/sl"
	"github.com/tradervault/subscription-backend/internal/models"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service описывает интерфейс движка комиссий для чтения списка.
type Service interface {
	List(ctx context.Context, affiliateUID string, limit, offset int) ([]*models.AffiliateCommission, error)
}

// Handler обрабатывает запросы списка комиссий.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Список партнёрских комиссий текущего пользователя
// @Description Возвращает комиссии, начисленные за оплаты приглашённых пользователей, от новых к старым.
// @Tags Affiliate
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Максимум записей (по умолчанию 50, не более 200)"
// @Param offset query int false "Смещение"
// @Success 200 {object} map[string]any "commissions: массив, count: число"
// @Failure 401 {object} response.ErrorResponse "Пользователь не аутентифицирован"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка сервера"
// @Router /affiliate/commissions [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.affiliatecommissions"

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

	limit := queryInt(r, "limit", defaultLimit)
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	commissions, err := h.service.List(r.Context(), userUID, limit, offset)
	if err != nil {
		log.Error("failed to list commissions", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to list commissions"))
		return
	}

	log.Info("commissions listed",
		slog.String("affiliate_uid", userUID),
		slog.Int("count", len(commissions)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":       len(commissions),
		"commissions": commissions,
	}))
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
