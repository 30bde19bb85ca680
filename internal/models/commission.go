package models

import "time"

// Статусы комиссии партнёрской программы.
const (
	CommissionApproved = "approved"
	CommissionPaid     = "paid"
	CommissionReversed = "reversed"
)

// AffiliateCommission — строка журнала партнёрских начислений.
// Журнал только пополняется: после создания запись не меняется,
// кроме перевода статуса отдельным процессом выплат.
type AffiliateCommission struct {
	ID             int64      // Суррогатный ключ
	AffiliateUID   string     // Реферер, которому начислена комиссия
	ReferredUID    string     // Приглашённый пользователь, чья подписка активировалась
	EntitlementID  int64      // Запись Entitlement, породившая начисление
	Amount         float64    // Сумма начисления
	CommissionRate float64    // Ставка в процентах на момент начисления
	Status         string     // approved, paid, reversed
	PeriodStart    *time.Time // Начало оплаченного периода
	PeriodEnd      *time.Time // Конец оплаченного периода
	CreatedAt      time.Time
}
