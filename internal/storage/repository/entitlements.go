package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tradervault/subscription-backend/internal/models"
)

const entitlementColumns = `id, user_uid, plan, status, provider, provider_customer_id,
			      provider_subscription_id, current_period_start, current_period_end,
			      created_at, updated_at`

func scanEntitlement(row interface{ Scan(...any) error }) (*models.Entitlement, error) {
	e := &models.Entitlement{}
	var customerID, subscriptionID sql.NullString
	var periodStart, periodEnd sql.NullTime
	if err := row.Scan(&e.ID, &e.UserUID, &e.Plan, &e.Status, &e.Provider,
		&customerID, &subscriptionID, &periodStart, &periodEnd,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if customerID.Valid {
		e.ProviderCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		e.ProviderSubscriptionID = &subscriptionID.String
	}
	if periodStart.Valid {
		e.CurrentPeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		e.CurrentPeriodEnd = &periodEnd.Time
	}
	return e, nil
}

// GetEntitlementByUser возвращает запись Entitlement пользователя.
func (s *Storage) GetEntitlementByUser(ctx context.Context, userUID string) (*models.Entitlement, error) {
	const op = "storage.GetEntitlementByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + entitlementColumns + `
			  FROM entitlements
			  WHERE user_uid = $1`
	e, err := scanEntitlement(s.DB.QueryRowContext(ctx, query, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// FindEntitlementBySubscriptionID ищет запись по внешнему идентификатору
// подписки у провайдера. Быстрый путь резолюции пользователя: совпадение
// по внешнему идентификатору гарантирует идемпотентность повторных доставок.
func (s *Storage) FindEntitlementBySubscriptionID(ctx context.Context, provider, subscriptionID string) (*models.Entitlement, error) {
	const op = "storage.FindEntitlementBySubscriptionID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + entitlementColumns + `
			  FROM entitlements
			  WHERE provider = $1 AND provider_subscription_id = $2`
	e, err := scanEntitlement(s.DB.QueryRowContext(ctx, query, provider, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// FindEntitlementByCustomerID ищет запись по внешнему идентификатору
// клиента. Используется событиями, в которых провайдер не сообщает
// идентификатор подписки.
func (s *Storage) FindEntitlementByCustomerID(ctx context.Context, provider, customerID string) (*models.Entitlement, error) {
	const op = "storage.FindEntitlementByCustomerID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + entitlementColumns + `
			  FROM entitlements
			  WHERE provider = $1 AND provider_customer_id = $2`
	e, err := scanEntitlement(s.DB.QueryRowContext(ctx, query, provider, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}
