// Package entitlement содержит ядро системы: применение канонических
// событий платёжного жизненного цикла к записи Entitlement пользователя
// и путь чтения «есть ли у пользователя доступ к платным функциям».
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tradervault/subscription-backend/internal/lib/plan"
	"github.com/tradervault/subscription-backend/internal/metrics"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/providers"
	"github.com/tradervault/subscription-backend/internal/services/notifier"
	"github.com/tradervault/subscription-backend/internal/storage/repository"
)

// ErrUnresolvedUser — событие активации не удалось привязать ни к
// существующему пользователю, ни к почте для провижининга.
var ErrUnresolvedUser = errors.New("cannot resolve event to a user")

// Repository определяет методы хранилища, нужные ядру.
type Repository interface {
	GetUser(ctx context.Context, userUID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetEntitlementByUser(ctx context.Context, userUID string) (*models.Entitlement, error)
	FindEntitlementBySubscriptionID(ctx context.Context, provider, subscriptionID string) (*models.Entitlement, error)
	FindEntitlementByCustomerID(ctx context.Context, provider, customerID string) (*models.Entitlement, error)
	ApplyActivation(ctx context.Context, params repository.ActivationParams) (*repository.ActivationResult, error)
	ApplyRenewal(ctx context.Context, userUID string, periodEnd time.Time) (*models.Entitlement, error)
	ApplyPaymentFailure(ctx context.Context, userUID string) (*models.Entitlement, error)
	ApplyDeactivation(ctx context.Context, userUID, status string, resetPlan bool) (*models.Entitlement, error)
}

// Cache описывает методы для кэширования статуса подписки.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Provisioner создаёт учётную запись для плательщика без пользователя.
type Provisioner interface {
	EnsureUser(ctx context.Context, email string) (*models.User, bool, error)
}

// CommissionEngine вычисляет параметры начисления реферера.
type CommissionEngine interface {
	Prepare(ctx context.Context, user *models.User, planName string) (*repository.CommissionParams, error)
}

// Notifier отправляет исходящие уведомления с наилучшими усилиями.
type Notifier interface {
	SubscriptionActivated(msg notifier.ActivatedMessage)
	CommissionEarned(msg notifier.CommissionMessage)
}

// ApplyResult — итог применения канонического события.
type ApplyResult struct {
	Kind        models.EventKind
	Applied     bool // false — дубликат или no-op
	Entitlement *models.Entitlement
}

// StatusResponse — ответ пути чтения статуса подписки.
type StatusResponse struct {
	Status    string     `json:"status"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
}

const statusCacheTTL = 5 * time.Minute

// Service реализует применение событий и путь чтения.
type Service struct {
	repo        Repository
	cache       Cache
	provisioner Provisioner
	commissions CommissionEngine
	notifier    Notifier
	registry    providers.Registry
	adminEmail  string
	locks       *keyedMutex
	log         *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, cache Cache, prov Provisioner, engine CommissionEngine,
	n Notifier, registry providers.Registry, adminEmail string, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		cache:       cache,
		provisioner: prov,
		commissions: engine,
		notifier:    n,
		registry:    registry,
		adminEmail:  adminEmail,
		locks:       newKeyedMutex(),
		log:         log,
	}
}

// ApplyEvent применяет каноническое событие идемпотентно. Обработка
// сериализуется по пользователю; события разных пользователей идут
// параллельно. Провайдеры доставляют события минимум один раз и без
// гарантий порядка, поэтому любой исход повторной доставки — no-op.
func (s *Service) ApplyEvent(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	unlock := s.locks.Lock(s.lockKey(ev))
	defer unlock()

	switch ev.Kind {
	case models.EventActivated:
		return s.applyActivated(ctx, ev)
	case models.EventRenewed:
		return s.applyRenewed(ctx, ev)
	case models.EventPaymentFailed:
		return s.applyPaymentFailed(ctx, ev)
	case models.EventDeactivated:
		return s.applyDeactivated(ctx, ev)
	}
	return nil, fmt.Errorf("entitlement.ApplyEvent: unsupported event kind %q", ev.Kind)
}

// lockKey выбирает ключ сериализации: внешний идентификатор подписки,
// затем клиента, затем почта.
func (s *Service) lockKey(ev *models.SubscriptionEvent) string {
	switch {
	case ev.SubscriptionID != "":
		return ev.Provider + ":sub:" + ev.SubscriptionID
	case ev.CustomerID != "":
		return ev.Provider + ":cus:" + ev.CustomerID
	default:
		return "email:" + strings.ToLower(ev.Email)
	}
}

// resolveUser находит пользователя события: сначала по внешнему
// идентификатору подписки (быстрый путь, гарантирует идемпотентность
// повторных доставок), затем по идентификатору клиента, затем по почте.
func (s *Service) resolveUser(ctx context.Context, ev *models.SubscriptionEvent) (*models.User, error) {
	if ev.SubscriptionID != "" {
		ent, err := s.repo.FindEntitlementBySubscriptionID(ctx, ev.Provider, ev.SubscriptionID)
		if err == nil {
			return s.repo.GetUser(ctx, ent.UserUID)
		}
		if !errors.Is(err, repository.ErrEntitlementNotFound) {
			return nil, err
		}
	}
	if ev.CustomerID != "" {
		ent, err := s.repo.FindEntitlementByCustomerID(ctx, ev.Provider, ev.CustomerID)
		if err == nil {
			return s.repo.GetUser(ctx, ent.UserUID)
		}
		if !errors.Is(err, repository.ErrEntitlementNotFound) {
			return nil, err
		}
	}
	if ev.Email != "" {
		u, err := s.repo.GetUserByEmail(ctx, ev.Email)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnresolvedUser
}

func (s *Service) applyActivated(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	const op = "entitlement.applyActivated"

	user, err := s.resolveUser(ctx, ev)
	newAccount := false
	if errors.Is(err, ErrUnresolvedUser) {
		user, newAccount, err = s.provisioner.EnsureUser(ctx, ev.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	planName := plan.Resolve(ev.PlanHint)
	periodStart := time.Now().UTC()
	// Явная дата окончания от провайдера важнее выведенной из длительности плана.
	periodEnd := periodStart.Add(plan.Duration(planName))
	if ev.PeriodEnd != nil {
		periodEnd = *ev.PeriodEnd
	}

	commission, err := s.commissions.Prepare(ctx, user, planName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.repo.ApplyActivation(ctx, repository.ActivationParams{
		UserUID:           user.UID,
		Plan:              planName,
		Provider:          ev.Provider,
		CustomerID:        ev.CustomerID,
		SubscriptionID:    ev.SubscriptionID,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
		PeriodEndExplicit: ev.PeriodEnd != nil,
		Commission:        commission,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateStatus(user.UID)

	if !res.Applied {
		s.log.Info("duplicate activation acknowledged",
			slog.String("provider", ev.Provider),
			slog.String("subscription_id", ev.SubscriptionID))
		return &ApplyResult{Kind: ev.Kind, Applied: false, Entitlement: res.Entitlement}, nil
	}

	s.log.Info("subscription activated",
		slog.String("user_uid", user.UID),
		slog.String("plan", planName),
		slog.String("provider", ev.Provider),
		slog.Bool("first_activation", res.FirstActivation))

	// Уведомления — вне транзакции и с наилучшими усилиями: их сбой
	// не повод для ретрая провайдером уже применённого события.
	s.notifier.SubscriptionActivated(notifier.ActivatedMessage{
		UserUID:    user.UID,
		Email:      user.Email,
		Username:   user.Username,
		Plan:       planName,
		ExpiresAt:  res.Entitlement.CurrentPeriodEnd,
		NewAccount: newAccount,
	})
	if res.CommissionID != 0 && commission != nil {
		metrics.CommissionsCreated.Inc()
		s.notifier.CommissionEarned(notifier.CommissionMessage{
			AffiliateUID:     commission.AffiliateUID,
			ReferredUsername: user.Username,
			Plan:             planName,
			Amount:           commission.Amount,
			Rate:             commission.Rate,
		})
	}

	return &ApplyResult{Kind: ev.Kind, Applied: true, Entitlement: res.Entitlement}, nil
}

func (s *Service) applyRenewed(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	const op = "entitlement.applyRenewed"

	user, err := s.resolveUser(ctx, ev)
	if errors.Is(err, ErrUnresolvedUser) {
		// Продление до активации: провайдер переставил события местами.
		// Применяем как активацию целиком, включая комиссию — пришедшее
		// позже событие активации будет распознано как дубликат и второй
		// комиссии не породит.
		if ev.Email == "" {
			s.log.Warn("renewal for unknown subscription ignored",
				slog.String("provider", ev.Provider),
				slog.String("subscription_id", ev.SubscriptionID))
			return &ApplyResult{Kind: ev.Kind, Applied: false}, nil
		}
		return s.renewAsActivation(ctx, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	periodEnd := time.Now().UTC().Add(plan.Duration(plan.Resolve(ev.PlanHint)))
	if ev.PeriodEnd != nil {
		periodEnd = *ev.PeriodEnd
	}

	ent, err := s.repo.ApplyRenewal(ctx, user.UID, periodEnd)
	if errors.Is(err, repository.ErrEntitlementNotFound) {
		return s.renewAsActivation(ctx, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateStatus(user.UID)
	s.log.Info("subscription renewed",
		slog.String("user_uid", user.UID),
		slog.Time("period_end", periodEnd))
	return &ApplyResult{Kind: ev.Kind, Applied: true, Entitlement: ent}, nil
}

func (s *Service) renewAsActivation(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	activated := *ev
	activated.Kind = models.EventActivated
	res, err := s.applyActivated(ctx, &activated)
	if err != nil {
		return nil, err
	}
	res.Kind = ev.Kind
	return res, nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	const op = "entitlement.applyPaymentFailed"

	user, err := s.resolveUser(ctx, ev)
	if errors.Is(err, ErrUnresolvedUser) {
		s.log.Warn("payment failure for unknown customer ignored",
			slog.String("provider", ev.Provider),
			slog.String("customer_id", ev.CustomerID))
		return &ApplyResult{Kind: ev.Kind, Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ent, err := s.repo.ApplyPaymentFailure(ctx, user.UID)
	if errors.Is(err, repository.ErrEntitlementNotFound) {
		return &ApplyResult{Kind: ev.Kind, Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateStatus(user.UID)
	s.log.Info("subscription past due", slog.String("user_uid", user.UID))
	return &ApplyResult{Kind: ev.Kind, Applied: true, Entitlement: ent}, nil
}

func (s *Service) applyDeactivated(ctx context.Context, ev *models.SubscriptionEvent) (*ApplyResult, error) {
	const op = "entitlement.applyDeactivated"

	user, err := s.resolveUser(ctx, ev)
	if errors.Is(err, ErrUnresolvedUser) {
		s.log.Warn("deactivation for unknown subscription ignored",
			slog.String("provider", ev.Provider),
			slog.String("subscription_id", ev.SubscriptionID))
		return &ApplyResult{Kind: ev.Kind, Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Политика провайдера решает, сбрасывается ли план на free.
	// Расхождение между провайдерами намеренное.
	resetPlan := false
	status := models.StatusExpired
	if p, perr := s.registry.Get(ev.Provider); perr == nil && p.OnDeactivate() == providers.ResetPlan {
		resetPlan = true
		status = models.StatusCanceled
	}

	ent, err := s.repo.ApplyDeactivation(ctx, user.UID, status, resetPlan)
	if errors.Is(err, repository.ErrEntitlementNotFound) {
		return &ApplyResult{Kind: ev.Kind, Applied: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateStatus(user.UID)
	s.log.Info("subscription deactivated",
		slog.String("user_uid", user.UID),
		slog.String("status", status),
		slog.Bool("plan_reset", resetPlan))
	return &ApplyResult{Kind: ev.Kind, Applied: true, Entitlement: ent}, nil
}

// Grant активирует или продлевает подписку вручную, минуя провайдеров.
// Пишет через тот же контракт, что и событие Activated; провижининг
// не выполняется — пользователь обязан существовать. Комиссия не
// начисляется: ручная выдача — не оплата.
func (s *Service) Grant(ctx context.Context, userUID, planName string, periodEnd time.Time) (*models.Entitlement, error) {
	const op = "entitlement.Grant"

	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock := s.locks.Lock("manual:" + user.UID)
	defer unlock()

	res, err := s.repo.ApplyActivation(ctx, repository.ActivationParams{
		UserUID:           user.UID,
		Plan:              planName,
		Provider:          "manual",
		PeriodStart:       time.Now().UTC(),
		PeriodEnd:         periodEnd,
		PeriodEndExplicit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidateStatus(user.UID)
	s.log.Info("subscription granted manually",
		slog.String("user_uid", user.UID),
		slog.String("plan", planName),
		slog.Time("period_end", periodEnd))
	return res.Entitlement, nil
}

// HasAccess отвечает, вправе ли пользователь пользоваться платными
// функциями. Порядок правил:
//
//  1. почта платформенного администратора или роль admin — доступ всегда;
//  2. живая запись Entitlement со статусом active и планом не free;
//  3. зеркальные поля пользователя (хранилища могут временно разойтись,
//     доступ даёт любое из двух — доступность важнее строгой согласованности).
func (s *Service) HasAccess(ctx context.Context, user *models.User) (bool, error) {
	if s.adminEmail != "" && strings.EqualFold(user.Email, s.adminEmail) {
		return true, nil
	}
	if user.Role == models.RoleAdmin {
		return true, nil
	}

	ent, err := s.repo.GetEntitlementByUser(ctx, user.UID)
	if err != nil && !errors.Is(err, repository.ErrEntitlementNotFound) {
		return false, err
	}
	if ent.IsPaidActive() {
		return true, nil
	}

	if user.SubscriptionStatus == models.StatusActive &&
		user.SubscriptionPlan != nil && *user.SubscriptionPlan != plan.Free {
		return true, nil
	}
	return false, nil
}

// Status возвращает статус подписки пользователя для пути чтения,
// с кешированием.
func (s *Service) Status(ctx context.Context, userUID string) (*StatusResponse, error) {
	const op = "entitlement.Status"

	var cached StatusResponse
	cacheKey := statusCacheKey(userUID)
	if found, err := s.cache.Get(cacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	user, err := s.repo.GetUser(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp := &StatusResponse{Status: models.StatusExpired, Plan: plan.Free}
	ent, err := s.repo.GetEntitlementByUser(ctx, user.UID)
	if err != nil && !errors.Is(err, repository.ErrEntitlementNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ent != nil {
		resp.Status = ent.Status
		resp.Plan = ent.Plan
		resp.ExpiresAt = ent.CurrentPeriodEnd
	} else if user.SubscriptionStatus != "" {
		resp.Status = user.SubscriptionStatus
		if user.SubscriptionPlan != nil {
			resp.Plan = *user.SubscriptionPlan
		}
		resp.ExpiresAt = user.SubscriptionExpiresAt
	}

	hasAccess, err := s.HasAccess(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp.IsActive = hasAccess

	if err := s.cache.Set(cacheKey, resp, statusCacheTTL); err != nil {
		s.log.Warn("failed to cache subscription status",
			slog.String("key", cacheKey), slog.Any("err", err))
	}
	return resp, nil
}

func statusCacheKey(userUID string) string {
	return "entitlement:status:" + userUID
}

func (s *Service) invalidateStatus(userUID string) {
	if err := s.cache.Invalidate(statusCacheKey(userUID)); err != nil {
		s.log.Warn("failed to invalidate status cache",
			slog.String("user_uid", userUID), slog.Any("err", err))
	}
}
