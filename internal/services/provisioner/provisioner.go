// Package provisioner создаёт учётные записи для плательщиков,
// у которых ещё нет пользователя: первое успешное списание — достаточное
// подтверждение, что почта существует и принадлежит плательщику.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tradervault/subscription-backend/internal/lib/password"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/storage/repository"
)

// UserRepository определяет методы хранилища, нужные провижинингу.
type UserRepository interface {
	// GetUserByEmail возвращает пользователя по почте без учёта регистра.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// CreateProvisionedUser сохраняет нового пользователя; конфликт по
	// почте разрешается возвратом уже существующего пользователя.
	CreateProvisionedUser(ctx context.Context, user models.User) (*models.User, error)
}

// Service реализует автоматическое создание учётных записей.
type Service struct {
	repo UserRepository
	log  *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo UserRepository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// EnsureUser возвращает пользователя по почте, создавая его при
// отсутствии. Второй результат — true, если пользователь был создан.
//
// Конкурирующая доставка одного события не создаёт двух пользователей:
// уникальность почты в базе схлопывает второй insert в чтение.
func (s *Service) EnsureUser(ctx context.Context, email string) (*models.User, bool, error) {
	const op = "provisioner.EnsureUser"
	if email == "" {
		return nil, false, fmt.Errorf("%s: empty payer email", op)
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	randomPassword, err := password.GenerateRandom()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := password.GetHash(randomPassword)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	uid := uuid.NewString()
	user := models.User{
		UID:          uid,
		Email:        strings.ToLower(email),
		Username:     generateHandle(uid),
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
		IsBlocked:    false,
		// Оплата — подтверждение доставляемости почты.
		IsVerified:         true,
		SubscriptionStatus: models.StatusExpired,
	}

	created, err := s.repo.CreateProvisionedUser(ctx, user)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	wasCreated := created.UID == uid
	if wasCreated {
		s.log.Info("provisioned account for paying email",
			slog.String("user_uid", created.UID),
			slog.String("username", created.Username))
	} else {
		s.log.Info("provisioning raced with existing account, reusing it",
			slog.String("user_uid", created.UID))
	}
	return created, wasCreated, nil
}

// generateHandle выводит отображаемое имя из UID пользователя:
// суффикс из UUID исключает коллизии между автосозданными учётками.
func generateHandle(uid string) string {
	return "trader_" + strings.ReplaceAll(uid, "-", "")[:12]
}
