package models

import "time"

// EventKind — вид канонического события жизненного цикла подписки.
type EventKind string

// Канонический набор событий, к которому сводятся события обоих провайдеров.
const (
	EventActivated     EventKind = "activated"
	EventRenewed       EventKind = "renewed"
	EventPaymentFailed EventKind = "payment_failed"
	EventDeactivated   EventKind = "deactivated"
)

// SubscriptionEvent — провайдеро-независимое представление события платёжного
// жизненного цикла. Провайдерские payload'ы приводятся к этой структуре
// нормализатором, дальше вся обработка работает только с ней.
//
// Email может отсутствовать у событий, адресуемых по внешним идентификаторам
// (PaymentFailed, Deactivated): такие события находят пользователя по
// SubscriptionID или CustomerID.
type SubscriptionEvent struct {
	Kind     EventKind // Вид события
	Provider string    // Имя провайдера-источника: stripe или whop

	Email          string     // Почта плательщика (может быть пустой)
	CustomerID     string     // Внешний идентификатор клиента
	SubscriptionID string     // Внешний идентификатор подписки / membership
	PlanHint       string     // Сырое название плана/продукта от провайдера
	PeriodEnd      *time.Time // Конец оплаченного периода, если провайдер его сообщил

	RawEventName string // Исходное имя события у провайдера, для логов
}
