// Package sender отправляет письма пользователям по сообщениям из
// очередей RabbitMQ: приветствие и подтверждение активации подписки,
// уведомление реферера о начисленной комиссии.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tradervault/subscription-backend/internal/lib/sl"
	smtplib "github.com/tradervault/subscription-backend/internal/lib/smtp"
	"github.com/tradervault/subscription-backend/internal/models"
	"github.com/tradervault/subscription-backend/internal/services/notifier"
)

type SenderService struct {
	transport Transport
	users     UserRepository
	log       *slog.Logger
}

type Transport interface {
	Connect() (smtplib.Client, error)
	GetSMTPUser() string
}

// UserRepository нужен, чтобы найти почту реферера по его UID.
type UserRepository interface {
	GetUser(ctx context.Context, userUID string) (*models.User, error)
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(log *slog.Logger, transport Transport, users UserRepository) *SenderService {
	return &SenderService{
		transport: transport,
		users:     users,
		log:       log,
	}
}

// SendSubscriptionActivated отправляет письмо об активации подписки.
// Для только что созданной учётной записи текст дополняется приветствием.
func (s *SenderService) SendSubscriptionActivated(body []byte) error {
	var message notifier.ActivatedMessage
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("Failed to unmarshal message body", "error", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	to := []string{message.Email}
	subject := "Подписка активирована"
	var bodyText string
	if message.NewAccount {
		subject = "Добро пожаловать! Подписка активирована"
		bodyText = fmt.Sprintf("Здравствуйте!\n\nМы создали для вас учётную запись %s и активировали подписку по плану %q.\n\nДля входа воспользуйтесь восстановлением пароля по этой почте.",
			message.Username, message.Plan)
	} else {
		bodyText = fmt.Sprintf("Здравствуйте, %s!\n\nВаша подписка по плану %q активирована.",
			message.Username, message.Plan)
	}
	if message.ExpiresAt != nil {
		bodyText += fmt.Sprintf("\n\nПодписка действует до %s.",
			message.ExpiresAt.Format("02.01.2006"))
	}

	return s.sendEmail(to, subject, bodyText)
}

// SendCommissionEarned уведомляет реферера о начисленной комиссии.
// Почта получателя запрашивается у хранилища по UID из сообщения.
func (s *SenderService) SendCommissionEarned(body []byte) error {
	var message notifier.CommissionMessage
	if err := json.Unmarshal(body, &message); err != nil {
		s.log.Error("Failed to unmarshal message body", "error", sl.Err(err))
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	affiliate, err := s.users.GetUser(context.Background(), message.AffiliateUID)
	if err != nil {
		s.log.Error("Failed to find affiliate for commission email",
			"affiliate_uid", message.AffiliateUID, "error", sl.Err(err))
		return fmt.Errorf("error finding affiliate: %w", err)
	}

	to := []string{affiliate.Email}
	subject := "Вам начислена партнёрская комиссия"
	bodyText := fmt.Sprintf("Здравствуйте, %s!\n\nПриглашённый вами пользователь %s оплатил подписку по плану %q.\nВам начислена комиссия %.2f (ставка %.1f%%).",
		affiliate.Username, message.ReferredUsername, message.Plan, message.Amount, message.Rate)

	return s.sendEmail(to, subject, bodyText)
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	msg := strings.Join([]string{
		"From: " + s.transport.GetSMTPUser(),
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("Failed to connect to SMTP server", "error", sl.Err(err))
		return err
	}
	defer client.Close()

	if err := client.Mail(s.transport.GetSMTPUser()); err != nil {
		s.log.Error("Failed to set MAIL FROM", "from", s.transport.GetSMTPUser(), "error", sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("Failed to set RCPT TO", "recipient", addr, "error", sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("Failed to get Data writer", "error", sl.Err(err))
		return err
	}

	_, err = wc.Write([]byte(msg))
	if err != nil {
		s.log.Error("Failed to write email body", "error", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("Failed to close Data writer", "error", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("Failed to quit SMTP client", "error", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", "to", to)
	return nil
}
