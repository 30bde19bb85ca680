package models

import "time"

// Статусы записи Entitlement.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusExpired  = "expired"
	StatusCanceled = "canceled"
)

// Entitlement — каноническая запись о праве пользователя на платные функции.
// На одного пользователя приходится ровно одна живая запись
// (уникальность по user_uid обеспечивается базой).
//
// Запись изменяется только через слой применения событий,
// обработчики запросов её не мутируют.
type Entitlement struct {
	ID       int64  // Суррогатный ключ записи
	UserUID  string // Пользователь, которому принадлежит запись (1:1)
	Plan     string // Тарифный план: free, weekly, monthly, quarterly
	Status   string // active, past_due, expired, canceled
	Provider string // Провайдер, от которого пришло последнее событие

	ProviderCustomerID     *string // Внешний идентификатор клиента у провайдера
	ProviderSubscriptionID *string // Внешний идентификатор подписки (membership)

	CurrentPeriodStart *time.Time // Начало оплаченного периода
	CurrentPeriodEnd   *time.Time // Конец оплаченного периода

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaidActive сообщает, даёт ли запись доступ к платным функциям.
func (e *Entitlement) IsPaidActive() bool {
	return e != nil && e.Status == StatusActive && e.Plan != "" && e.Plan != "free"
}
