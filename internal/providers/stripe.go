package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tradervault/subscription-backend/internal/models"
)

// Stripe реализует Provider для Stripe.
//
// Подпись: заголовок Stripe-Signature вида "t=<unix>,v1=<hex>", где v1 —
// HMAC-SHA256 от строки "<t>.<body>" на webhook-секрете.
type Stripe struct {
	webhookSecret string
	skipVerify    bool
}

// NewStripe создаёт интеграцию Stripe. skipVerify=true допустим только
// вне production, когда секрет не задан.
func NewStripe(secret string, skipVerify bool) *Stripe {
	return &Stripe{webhookSecret: secret, skipVerify: skipVerify}
}

// Name возвращает имя провайдера.
func (s *Stripe) Name() string { return "stripe" }

// SignatureHeader возвращает имя заголовка с подписью.
func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

// OnDeactivate: отмена подписки Stripe возвращает пользователя на план free.
func (s *Stripe) OnDeactivate() DeactivatePolicy { return ResetPlan }

// VerifySignature проверяет подпись тела запроса.
func (s *Stripe) VerifySignature(body []byte, signature string) error {
	if s.skipVerify {
		return nil
	}
	var timestamp, v1 string
	for _, part := range strings.Split(signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			if v1 == "" {
				v1 = v
			}
		}
	}
	if timestamp == "" || v1 == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return ErrInvalidSignature
	}
	return nil
}

// Имена событий Stripe, которые обрабатывает система. Несколько имён
// сводятся к одному каноническому событию.
const (
	stripeCheckoutCompleted   = "checkout.session.completed"
	stripeInvoicePaid         = "invoice.paid"
	stripeInvoicePaySucceeded = "invoice.payment_succeeded"
	stripeInvoicePayFailed    = "invoice.payment_failed"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
)

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	Customer        string `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Lines         struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Plan struct {
				Nickname string `json:"nickname"`
			} `json:"plan"`
			Price struct {
				Nickname string `json:"nickname"`
			} `json:"price"`
			Description string `json:"description"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// Normalize приводит событие Stripe к каноническому виду.
func (s *Stripe) Normalize(body []byte) (*models.SubscriptionEvent, error) {
	const op = "providers.stripe.Normalize"
	var env stripeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
	}

	ev := &models.SubscriptionEvent{
		Provider:     s.Name(),
		RawEventName: env.Type,
	}

	switch env.Type {
	case stripeCheckoutCompleted:
		var session stripeCheckoutSession
		if err := json.Unmarshal(env.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
		}
		ev.Kind = models.EventActivated
		ev.Email = firstNonEmpty(session.CustomerDetails.Email, session.CustomerEmail)
		ev.CustomerID = session.Customer
		ev.SubscriptionID = session.Subscription
		ev.PlanHint = session.Metadata["plan"]
		return ev, nil

	case stripeInvoicePaid, stripeInvoicePaySucceeded:
		var invoice stripeInvoice
		if err := json.Unmarshal(env.Data.Object, &invoice); err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
		}
		// Первый счёт подписки — активация, последующие — продление.
		if invoice.BillingReason == "subscription_create" {
			ev.Kind = models.EventActivated
		} else {
			ev.Kind = models.EventRenewed
		}
		ev.Email = invoice.CustomerEmail
		ev.CustomerID = invoice.Customer
		ev.SubscriptionID = invoice.Subscription
		if len(invoice.Lines.Data) > 0 {
			line := invoice.Lines.Data[0]
			ev.PlanHint = firstNonEmpty(line.Price.Nickname, line.Plan.Nickname, line.Description)
			if line.Period.End > 0 {
				end := time.Unix(line.Period.End, 0).UTC()
				ev.PeriodEnd = &end
			}
		}
		return ev, nil

	case stripeInvoicePayFailed:
		var invoice stripeInvoice
		if err := json.Unmarshal(env.Data.Object, &invoice); err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
		}
		ev.Kind = models.EventPaymentFailed
		ev.Email = invoice.CustomerEmail
		ev.CustomerID = invoice.Customer
		ev.SubscriptionID = invoice.Subscription
		return ev, nil

	case stripeSubscriptionDeleted:
		var sub stripeSubscription
		if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
		}
		ev.Kind = models.EventDeactivated
		ev.CustomerID = sub.Customer
		ev.SubscriptionID = sub.ID
		return ev, nil
	}

	return nil, fmt.Errorf("%s: %s: %w", op, env.Type, ErrUnrecognizedEvent)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
