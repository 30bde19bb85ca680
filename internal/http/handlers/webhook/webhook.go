// Package webhook реализует HTTP-обработчик для приёма webhook'ов
// платёжных провайдеров: проверка подписи, нормализация события и
// передача его в ядро. Провайдеры доставляют события минимум один раз,
// поэтому обработчик отвечает 200 и на дубликаты, и на нераспознанные
// события — повторная доставка таких событий бессмысленна.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/tradervault/subscription-backend/internal/http/response"
	"github.com/tradervault/subscription-backend/internal/lib/sl"
	"github.com/tradervault/subscription-backend/internal/metrics"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/providers"
	"github.com/tradervault/subscription-backend/internal/services/entitlement"
)

// Service описывает интерфейс ядра для применения канонического события.
type Service interface {
	ApplyEvent(ctx context.Context, ev *models.SubscriptionEvent) (*entitlement.ApplyResult, error)
}

// Handler обрабатывает входящие webhook'и всех провайдеров.
type Handler struct {
	log      *slog.Logger
	service  Service
	registry providers.Registry
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service, registry providers.Registry) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		registry: registry,
	}
}

// ServeHTTP godoc
// @Summary Приём webhook'а платёжного провайдера
// @Description Проверяет подпись, нормализует событие и применяет его к подписке пользователя. Дубликаты и нераспознанные события подтверждаются со статусом 200.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Имя провайдера (stripe или whop)"
// @Success 200 {object} map[string]any "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Пустое тело запроса либо подпись отсутствует или неверна"
// @Failure 404 {object} response.ErrorResponse "Неизвестный провайдер"
// @Failure 500 {object} response.ErrorResponse "Временная ошибка обработки, провайдер повторит доставку"
// @Router /webhooks/{provider} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.webhook"

	providerName := chi.URLParam(r, "provider")
	log := h.log.With(
		slog.String("op", op),
		slog.String("provider", providerName),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	provider, err := h.registry.Get(providerName)
	if err != nil {
		log.Error("unknown provider in webhook url")
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown provider"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		log.Error("failed to read webhook body", sl.Err(err))
		metrics.WebhookEvents.WithLabelValues(providerName, "unknown", metrics.ResultRejected).Inc()
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("empty request body"))
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(provider.SignatureHeader())
	if err := provider.VerifySignature(body, signature); err != nil {
		log.Error("webhook signature verification failed", sl.Err(err))
		metrics.WebhookEvents.WithLabelValues(providerName, "unknown", metrics.ResultRejected).Inc()
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	ev, err := provider.Normalize(body)
	if err != nil {
		// Нераспознанные и неразбираемые события подтверждаются: ретрай
		// провайдера не изменит их содержимое.
		switch {
		case errors.Is(err, providers.ErrUnrecognizedEvent):
			log.Info("unrecognized webhook event ignored")
			metrics.WebhookEvents.WithLabelValues(providerName, "unknown", metrics.ResultIgnored).Inc()
		case errors.Is(err, providers.ErrMalformedPayload):
			log.Error("malformed webhook payload acknowledged", sl.Err(err))
			metrics.WebhookEvents.WithLabelValues(providerName, "unknown", metrics.ResultError).Inc()
		default:
			log.Error("failed to normalize webhook payload", sl.Err(err))
			metrics.WebhookEvents.WithLabelValues(providerName, "unknown", metrics.ResultError).Inc()
		}
		render.JSON(w, r, response.OKWithData(map[string]any{"received": true}))
		return
	}

	result, err := h.service.ApplyEvent(r.Context(), ev)
	if err != nil {
		log.Error("failed to apply webhook event",
			slog.String("event", string(ev.Kind)), sl.Err(err))
		metrics.WebhookEvents.WithLabelValues(providerName, string(ev.Kind), metrics.ResultError).Inc()
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	outcome := metrics.ResultApplied
	if !result.Applied {
		outcome = metrics.ResultDuplicate
	}
	metrics.WebhookEvents.WithLabelValues(providerName, string(ev.Kind), outcome).Inc()

	log.Info("webhook processed",
		slog.String("event", string(ev.Kind)),
		slog.String("raw_event", ev.RawEventName),
		slog.Bool("applied", result.Applied))
	render.JSON(w, r, response.OKWithData(map[string]any{"received": true}))
}
