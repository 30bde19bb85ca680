package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tradervault/subscription-backend/internal/models"
)

// ListCommissionsByAffiliate возвращает журнал начислений реферера
// с пагинацией, новые записи первыми.
func (s *Storage) ListCommissionsByAffiliate(ctx context.Context, affiliateUID string, limit, offset int) ([]*models.AffiliateCommission, error) {
	const op = "storage.ListCommissionsByAffiliate"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, affiliate_uid, referred_uid, entitlement_id, amount,
			      commission_rate, status, period_start, period_end, created_at
			  FROM affiliate_commissions
			  WHERE affiliate_uid = $1
			  ORDER BY id DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, affiliateUID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.AffiliateCommission
	for rows.Next() {
		var c models.AffiliateCommission
		var periodStart, periodEnd sql.NullTime
		if err := rows.Scan(&c.ID, &c.AffiliateUID, &c.ReferredUID, &c.EntitlementID,
			&c.Amount, &c.CommissionRate, &c.Status, &periodStart, &periodEnd,
			&c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if periodStart.Valid {
			c.PeriodStart = &periodStart.Time
		}
		if periodEnd.Valid {
			c.PeriodEnd = &periodEnd.Time
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountCommissionsForEntitlement возвращает число начислений по записи
// entitlement. Используется в проверках идемпотентности и тестах.
func (s *Storage) CountCommissionsForEntitlement(ctx context.Context, entitlementID int64) (int, error) {
	const op = "storage.CountCommissionsForEntitlement"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var count int
	query := `SELECT COUNT(*) FROM affiliate_commissions WHERE entitlement_id = $1`
	if err := s.DB.QueryRowContext(ctx, query, entitlementID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}
