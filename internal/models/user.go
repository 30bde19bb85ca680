// Package models содержит доменные структуры системы: пользователей,
// записи о праве доступа (entitlement), комиссии партнёрской программы
// и канонические события жизненного цикла подписки.
package models

import "time"

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User представляет пользователя платформы.
//
// Поля SubscriptionStatus, SubscriptionPlan и SubscriptionExpiresAt —
// денормализованное зеркало записи Entitlement, обновляется в той же
// транзакции, что и сама запись.
type User struct {
	UID            string   // Уникальный идентификатор пользователя
	Email          string   // Электронная почта (уникальная, без учёта регистра)
	Username       string   // Отображаемое имя (уникальное)
	PasswordHash   string   // Хэш пароля
	Role           string   // Роль: admin или user
	IsActive       bool     // Активна ли учётная запись
	IsBlocked      bool     // Заблокирован ли пользователь
	IsVerified     bool     // Подтверждена ли почта
	ReferredBy     *string  // UID пригласившего, задаётся один раз при регистрации
	CommissionRate *float64 // Персональная ставка комиссии реферера (nil — ставка по умолчанию)

	StripeCustomerID *string // Идентификатор клиента в Stripe
	WhopUserID       *string // Идентификатор пользователя в Whop

	SubscriptionStatus    string     // Зеркало статуса подписки
	SubscriptionPlan      *string    // Зеркало тарифного плана
	SubscriptionExpiresAt *time.Time // Зеркало даты окончания подписки

	CreatedAt time.Time
}
