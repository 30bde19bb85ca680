// Package notifier публикует исходящие уведомления в RabbitMQ.
// Уведомления — побочный эффект с наилучшими усилиями: ошибка публикации
// логируется и никогда не влияет на результат применения события.
package notifier

import (
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/tradervault/subscription-backend/internal/lib/rabbitmq"
	"github.com/tradervault/subscription-backend/internal/lib/sl"
)

// ActivatedMessage — уведомление о активации подписки.
type ActivatedMessage struct {
	UserUID   string     `json:"user_uid"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// NewAccount — учётная запись создана автоматически по первому платежу:
	// письмо должно содержать инструкции по установке пароля.
	NewAccount bool `json:"new_account"`
}

// CommissionMessage — уведомление реферера о начислении.
type CommissionMessage struct {
	AffiliateUID     string  `json:"affiliate_uid"`
	ReferredUsername string  `json:"referred_username"`
	Plan             string  `json:"plan"`
	Amount           float64 `json:"amount"`
	Rate             float64 `json:"rate"`
}

// Notifier публикует сообщения в exchange уведомлений.
type Notifier struct {
	ch  *amqp.Channel
	log *slog.Logger
}

// New создает новый экземпляр Notifier.
func New(ch *amqp.Channel, log *slog.Logger) *Notifier {
	return &Notifier{ch: ch, log: log}
}

// SubscriptionActivated отправляет уведомление об активации подписки.
func (n *Notifier) SubscriptionActivated(msg ActivatedMessage) {
	if err := rabbitmq.PublishMessage(n.ch, "notifications", "subscription_activated", msg); err != nil {
		n.log.Error("failed to publish subscription activated notification", sl.Err(err))
	}
}

// CommissionEarned отправляет рефереру уведомление о начислении.
func (n *Notifier) CommissionEarned(msg CommissionMessage) {
	if err := rabbitmq.PublishMessage(n.ch, "notifications", "commission_earned", msg); err != nil {
		n.log.Error("failed to publish commission earned notification", sl.Err(err))
	}
}
