// Package providers содержит интеграции с платёжными провайдерами:
// проверку подписи входящих webhook'ов и приведение провайдерских
// событий к каноническому виду.
package providers

import (
	"errors"

	"github.com/tradervault/subscription-backend/internal/config"
	"github.com/tradervault/subscription-backend/internal/models"
)

// Ошибки обработки webhook'ов.
var (
	// ErrInvalidSignature — подпись отсутствует или не совпала.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnrecognizedEvent — провайдер прислал событие, которое система
	// не обрабатывает. Не является ошибкой: подтверждается как no-op.
	ErrUnrecognizedEvent = errors.New("unrecognized event type")
	// ErrMalformedPayload — тело запроса не разобралось.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrUnknownProvider — в URL указан неизвестный провайдер.
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// DeactivatePolicy определяет, что происходит с планом пользователя
// при отмене подписки у конкретного провайдера.
type DeactivatePolicy int

const (
	// ResetPlan — план сбрасывается на free.
	ResetPlan DeactivatePolicy = iota
	// PreservePlan — план остаётся последним оплаченным, меняется только статус.
	PreservePlan
)

// Provider описывает одного платёжного провайдера: его схему подписи,
// нормализацию событий и политику деактивации.
type Provider interface {
	// Name возвращает каноническое имя провайдера (сегмент URL webhook'а).
	Name() string
	// SignatureHeader возвращает имя заголовка с подписью.
	SignatureHeader() string
	// VerifySignature проверяет подпись сырого тела запроса.
	VerifySignature(body []byte, signature string) error
	// Normalize приводит провайдерский payload к каноническому событию.
	// Для событий вне каталога возвращает ErrUnrecognizedEvent.
	Normalize(body []byte) (*models.SubscriptionEvent, error)
	// OnDeactivate возвращает политику обработки отмены подписки.
	OnDeactivate() DeactivatePolicy
}

// Registry — реестр провайдеров по имени.
type Registry map[string]Provider

// NewRegistry собирает реестр из конфигурации. skipVerify содержит имена
// провайдеров, для которых проверка подписи отключена: это допустимо
// только вне production и решение принимается явно на старте приложения.
func NewRegistry(cfg config.Providers, skipVerify map[string]bool) Registry {
	return Registry{
		"stripe": NewStripe(cfg.Stripe.WebhookSecret, skipVerify["stripe"]),
		"whop":   NewWhop(cfg.Whop.WebhookSecret, skipVerify["whop"]),
	}
}

// Get возвращает провайдера по имени.
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}
