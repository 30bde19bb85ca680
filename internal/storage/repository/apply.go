package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tradervault/subscription-backend/internal/models"
)

// CommissionParams — параметры начисления комиссии, вычисленные заранее
// движком комиссий. Строка журнала пишется в той же транзакции,
// что и активация entitlement.
type CommissionParams struct {
	AffiliateUID string
	Rate         float64
	Amount       float64
}

// ActivationParams — параметры применения события Activated.
type ActivationParams struct {
	UserUID        string
	Plan           string
	Provider       string
	CustomerID     string
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	// PeriodEndExplicit — дата окончания пришла от провайдера, а не выведена
	// из длительности плана. Только явная дата может продлить период:
	// выведенная растёт с каждой повторной доставкой и сравнению не подлежит.
	PeriodEndExplicit bool
	Commission        *CommissionParams // nil, если у пользователя нет реферера
}

// ActivationResult — итог применения события Activated.
type ActivationResult struct {
	Entitlement     *models.Entitlement
	Applied         bool  // false — повторная доставка, состояние не изменилось
	FirstActivation bool  // true — переход в active, а не продление периода
	CommissionID    int64 // 0, если комиссия не начислялась
}

// lockEntitlementTx читает запись entitlement пользователя с блокировкой
// строки до конца транзакции. Блокировка по user_uid сериализует
// конкурирующие доставки событий одного пользователя; события разных
// пользователей не мешают друг другу.
func lockEntitlementTx(ctx context.Context, tx *sql.Tx, userUID string) (*models.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + `
			  FROM entitlements
			  WHERE user_uid = $1
			  FOR UPDATE`
	e, err := scanEntitlement(tx.QueryRowContext(ctx, query, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// mirrorUserTx обновляет денормализованные поля подписки на пользователе.
// Вызывается только внутри транзакции применения события.
func mirrorUserTx(ctx context.Context, tx *sql.Tx, userUID, status string, plan *string, expiresAt *time.Time) error {
	query := `UPDATE users
			  SET subscription_status = $1,
			      subscription_plan = COALESCE($2, subscription_plan),
			      subscription_expires_at = COALESCE($3, subscription_expires_at)
			  WHERE uid = $4`
	_, err := tx.ExecContext(ctx, query, status, plan, expiresAt, userUID)
	return err
}

// ApplyActivation применяет событие Activated атомарно: upsert записи
// entitlement, зеркальные поля пользователя, внешний идентификатор клиента
// и, при первой активации приглашённого пользователя, строка комиссии —
// всё в одной транзакции.
//
// Повторная доставка того же события (та же внешняя подписка, запись уже
// активна, период не позже записанного) не меняет состояние и не создаёт
// вторую комиссию.
func (s *Storage) ApplyActivation(ctx context.Context, params ActivationParams) (*ActivationResult, error) {
	const op = "storage.ApplyActivation"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := lockEntitlementTx(ctx, tx, params.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sameSubscription := existing != nil &&
		existing.ProviderSubscriptionID != nil &&
		*existing.ProviderSubscriptionID == params.SubscriptionID &&
		existing.Provider == params.Provider

	samePeriod := !params.PeriodEndExplicit ||
		(existing != nil && existing.CurrentPeriodEnd != nil &&
			!params.PeriodEnd.After(*existing.CurrentPeriodEnd))

	if sameSubscription && existing.Status == models.StatusActive && samePeriod {
		// Дубликат уже применённого события: подтверждаем без изменений.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &ActivationResult{Entitlement: existing, Applied: false}, nil
	}

	firstActivation := existing == nil || existing.Status != models.StatusActive

	query := `INSERT INTO entitlements (user_uid, plan, status, provider,
			      provider_customer_id, provider_subscription_id,
			      current_period_start, current_period_end, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			  ON CONFLICT (user_uid) DO UPDATE
			  SET plan = EXCLUDED.plan,
			      status = EXCLUDED.status,
			      provider = EXCLUDED.provider,
			      provider_customer_id = EXCLUDED.provider_customer_id,
			      provider_subscription_id = EXCLUDED.provider_subscription_id,
			      current_period_start = EXCLUDED.current_period_start,
			      current_period_end = GREATEST(entitlements.current_period_end, EXCLUDED.current_period_end),
			      updated_at = now()
			  RETURNING ` + entitlementColumns
	applied, err := scanEntitlement(tx.QueryRowContext(ctx, query,
		params.UserUID, params.Plan, models.StatusActive, params.Provider,
		nullIfEmpty(params.CustomerID), nullIfEmpty(params.SubscriptionID),
		params.PeriodStart, params.PeriodEnd))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := mirrorUserTx(ctx, tx, params.UserUID, models.StatusActive, &params.Plan, applied.CurrentPeriodEnd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if params.CustomerID != "" {
		column := "stripe_customer_id"
		if params.Provider == "whop" {
			column = "whop_user_id"
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET `+column+` = $1 WHERE uid = $2`,
			params.CustomerID, params.UserUID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	result := &ActivationResult{
		Entitlement:     applied,
		Applied:         true,
		FirstActivation: firstActivation,
	}

	// Комиссия начисляется только на первую активацию и только в той же
	// транзакции: активная подписка без записанной комиссии (или наоборот)
	// после сбоя невозможна.
	if firstActivation && params.Commission != nil {
		commissionQuery := `INSERT INTO affiliate_commissions (affiliate_uid, referred_uid,
				      entitlement_id, amount, commission_rate, status, period_start, period_end)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				  RETURNING id`
		if err := tx.QueryRowContext(ctx, commissionQuery,
			params.Commission.AffiliateUID, params.UserUID, applied.ID,
			params.Commission.Amount, params.Commission.Rate,
			models.CommissionApproved, params.PeriodStart, params.PeriodEnd,
		).Scan(&result.CommissionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ApplyRenewal продлевает оплаченный период: период двигается только вперёд,
// статус становится active. Новая комиссия не начисляется.
func (s *Storage) ApplyRenewal(ctx context.Context, userUID string, periodEnd time.Time) (*models.Entitlement, error) {
	const op = "storage.ApplyRenewal"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := lockEntitlementTx(ctx, tx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}

	query := `UPDATE entitlements
			  SET status = $1,
			      current_period_end = GREATEST(current_period_end, $2),
			      updated_at = now()
			  WHERE user_uid = $3
			  RETURNING ` + entitlementColumns
	renewed, err := scanEntitlement(tx.QueryRowContext(ctx, query, models.StatusActive, periodEnd, userUID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := mirrorUserTx(ctx, tx, userUID, models.StatusActive, &renewed.Plan, renewed.CurrentPeriodEnd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return renewed, nil
}

// ApplyPaymentFailure переводит запись в past_due. План и дата окончания
// не трогаются: льготный период — забота провайдера.
func (s *Storage) ApplyPaymentFailure(ctx context.Context, userUID string) (*models.Entitlement, error) {
	const op = "storage.ApplyPaymentFailure"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE entitlements
			  SET status = $1, updated_at = now()
			  WHERE user_uid = $2
			  RETURNING ` + entitlementColumns
	e, err := scanEntitlement(tx.QueryRowContext(ctx, query, models.StatusPastDue, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := mirrorUserTx(ctx, tx, userUID, models.StatusPastDue, nil, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// ApplyDeactivation переводит запись в неактивный статус. При resetPlan=true
// план сбрасывается на free, иначе остаётся последним оплаченным —
// политика зависит от провайдера.
func (s *Storage) ApplyDeactivation(ctx context.Context, userUID, status string, resetPlan bool) (*models.Entitlement, error) {
	const op = "storage.ApplyDeactivation"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE entitlements
			  SET status = $1,
			      plan = CASE WHEN $2 THEN 'free' ELSE plan END,
			      updated_at = now()
			  WHERE user_uid = $3
			  RETURNING ` + entitlementColumns
	e, err := scanEntitlement(tx.QueryRowContext(ctx, query, status, resetPlan, userUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrEntitlementNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var planMirror *string
	if resetPlan {
		planMirror = &e.Plan
	}
	if err := mirrorUserTx(ctx, tx, userUID, status, planMirror, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
