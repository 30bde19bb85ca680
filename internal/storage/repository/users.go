package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tradervault/subscription-backend/internal/models"
)

const userColumns = `uid, email, username, password_hash, role, is_active, is_blocked,
			      is_verified, referred_by, commission_rate, stripe_customer_id, whop_user_id,
			      subscription_status, subscription_plan, subscription_expires_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var referredBy, stripeCustomerID, whopUserID, subscriptionPlan sql.NullString
	var commissionRate sql.NullFloat64
	var subscriptionExpiresAt sql.NullTime
	if err := row.Scan(&u.UID, &u.Email, &u.Username, &u.PasswordHash, &u.Role,
		&u.IsActive, &u.IsBlocked, &u.IsVerified, &referredBy, &commissionRate,
		&stripeCustomerID, &whopUserID, &u.SubscriptionStatus, &subscriptionPlan,
		&subscriptionExpiresAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.String
	}
	if commissionRate.Valid {
		u.CommissionRate = &commissionRate.Float64
	}
	if stripeCustomerID.Valid {
		u.StripeCustomerID = &stripeCustomerID.String
	}
	if whopUserID.Valid {
		u.WhopUserID = &whopUserID.String
	}
	if subscriptionPlan.Valid {
		u.SubscriptionPlan = &subscriptionPlan.String
	}
	if subscriptionExpiresAt.Valid {
		u.SubscriptionExpiresAt = &subscriptionExpiresAt.Time
	}
	return u, nil
}

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по почте без учёта регистра.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE lower(email) = lower($1)`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CreateProvisionedUser сохраняет автоматически созданного пользователя.
// Конфликт по почте не является ошибкой: при одновременной доставке
// одного и того же события второй вызов возвращает уже существующего
// пользователя вместо создания дубликата.
func (s *Storage) CreateProvisionedUser(ctx context.Context, user models.User) (*models.User, error) {
	const op = "storage.CreateProvisionedUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (uid, email, username, password_hash, role,
			      is_active, is_blocked, is_verified, subscription_status)
			  VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
			  ON CONFLICT (lower(email)) DO NOTHING
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query,
		user.UID, user.Email, user.Username, user.PasswordHash, user.Role,
		user.IsActive, user.IsBlocked, user.IsVerified, user.SubscriptionStatus))
	if errors.Is(err, sql.ErrNoRows) {
		// Почта уже занята: событие доставлено повторно, берём существующего.
		return s.GetUserByEmail(ctx, user.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdateProviderCustomerID сохраняет внешний идентификатор клиента
// у соответствующего провайдера.
func (s *Storage) UpdateProviderCustomerID(ctx context.Context, userUID, provider, customerID string) error {
	const op = "storage.UpdateProviderCustomerID"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	column := "stripe_customer_id"
	if provider == "whop" {
		column = "whop_user_id"
	}
	query := `UPDATE users SET ` + column + ` = $1 WHERE uid = $2`
	if _, err := s.DB.ExecContext(ctx, query, customerID, userUID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
