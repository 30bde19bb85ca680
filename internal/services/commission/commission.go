// Package commission реализует движок партнёрских комиссий: вычисление
// суммы начисления реферера при активации подписки приглашённого
// пользователя и чтение журнала начислений.
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tradervault/subscription-backend/internal/lib/plan"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/storage/repository"
)

// Repository определяет методы хранилища, нужные движку комиссий.
type Repository interface {
	// GetUser возвращает пользователя по UID.
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	// ListCommissionsByAffiliate возвращает журнал начислений реферера.
	ListCommissionsByAffiliate(ctx context.Context, affiliateUID string, limit, offset int) ([]*models.AffiliateCommission, error)
}

// Engine вычисляет комиссии по статической таблице цен и ставке реферера.
type Engine struct {
	repo        Repository
	prices      plan.PriceTable
	defaultRate float64
	log         *slog.Logger
}

// New создает новый экземпляр Engine.
func New(repo Repository, prices plan.PriceTable, defaultRate float64, log *slog.Logger) *Engine {
	return &Engine{
		repo:        repo,
		prices:      prices,
		defaultRate: defaultRate,
		log:         log,
	}
}

// Prepare вычисляет параметры начисления для активации подписки
// пользователя user на плане planName. Возвращает nil без ошибки,
// если начисление не положено: у пользователя нет реферера.
//
// Неизвестная цена плана не блокирует активацию: берётся цена месячного
// плана, расхождение логируется.
func (e *Engine) Prepare(ctx context.Context, user *models.User, planName string) (*repository.CommissionParams, error) {
	const op = "commission.Prepare"
	if user.ReferredBy == nil {
		return nil, nil
	}

	referrer, err := e.repo.GetUser(ctx, *user.ReferredBy)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Реферер исчез из базы: активация важнее начисления.
			e.log.Warn("referrer not found, skipping commission",
				slog.String("referrer_uid", *user.ReferredBy),
				slog.String("referred_uid", user.UID))
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rate := e.defaultRate
	if referrer.CommissionRate != nil {
		rate = *referrer.CommissionRate
	}

	price, known := e.prices.Price(planName)
	if !known {
		e.log.Warn("plan price missing from price table, using monthly fallback",
			slog.String("plan", planName))
	}

	return &repository.CommissionParams{
		AffiliateUID: referrer.UID,
		Rate:         rate,
		Amount:       round2(price * rate / 100),
	}, nil
}

// List возвращает журнал начислений реферера с пагинацией.
func (e *Engine) List(ctx context.Context, affiliateUID string, limit, offset int) ([]*models.AffiliateCommission, error) {
	return e.repo.ListCommissionsByAffiliate(ctx, affiliateUID, limit, offset)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
