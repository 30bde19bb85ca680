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

// Whop реализует Provider для Whop.
//
// Подпись: заголовок X-Whop-Signature вида "sha256=<hex>" —
// HMAC-SHA256 от сырого тела запроса на webhook-секрете.
type Whop struct {
	webhookSecret string
	skipVerify    bool
}

// NewWhop создаёт интеграцию Whop. skipVerify=true допустим только
// вне production, когда секрет не задан.
func NewWhop(secret string, skipVerify bool) *Whop {
	return &Whop{webhookSecret: secret, skipVerify: skipVerify}
}

// Name возвращает имя провайдера.
func (w *Whop) Name() string { return "whop" }

// SignatureHeader возвращает имя заголовка с подписью.
func (w *Whop) SignatureHeader() string { return "X-Whop-Signature" }

// OnDeactivate: Whop оставляет последний оплаченный план, меняется
// только статус. Расхождение с политикой Stripe намеренное.
func (w *Whop) OnDeactivate() DeactivatePolicy { return PreservePlan }

// VerifySignature проверяет подпись тела запроса.
func (w *Whop) VerifySignature(body []byte, signature string) error {
	if w.skipVerify {
		return nil
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(w.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Каталог событий Whop. Одно и то же понятие провайдер исторически
// спеллит несколькими способами, все варианты сведены к одному
// каноническому событию.
var whopEventTable = map[string]models.EventKind{
	"membership.went_valid":   models.EventActivated,
	"membership_went_valid":   models.EventActivated,
	"membership.activated":    models.EventActivated,
	"payment.succeeded":       models.EventRenewed,
	"payment_succeeded":       models.EventRenewed,
	"payment.failed":          models.EventPaymentFailed,
	"payment_failed":          models.EventPaymentFailed,
	"membership.went_invalid": models.EventDeactivated,
	"membership_went_invalid": models.EventDeactivated,
	"membership.canceled":     models.EventDeactivated,
	"membership.expired":      models.EventDeactivated,
}

type whopEnvelope struct {
	Action string `json:"action"`
	Event  string `json:"event"`
	Data   struct {
		ID   string `json:"id"`
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Email   string `json:"email"`
		Product struct {
			Title string `json:"title"`
		} `json:"product"`
		Plan struct {
			Name string `json:"name"`
		} `json:"plan"`
		RenewalPeriodEnd int64  `json:"renewal_period_end"`
		ExpiresAt        int64  `json:"expires_at"`
		Membership       string `json:"membership"`
	} `json:"data"`
}

// Normalize приводит событие Whop к каноническому виду.
func (w *Whop) Normalize(body []byte) (*models.SubscriptionEvent, error) {
	const op = "providers.whop.Normalize"
	var env whopEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedPayload)
	}

	name := firstNonEmpty(env.Action, env.Event)
	kind, ok := whopEventTable[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", op, name, ErrUnrecognizedEvent)
	}

	ev := &models.SubscriptionEvent{
		Kind:         kind,
		Provider:     w.Name(),
		RawEventName: name,
		Email:        firstNonEmpty(env.Data.User.Email, env.Data.Email),
		CustomerID:   env.Data.User.ID,
		// Для платежей membership лежит отдельным полем, для событий
		// membership сам объект и есть membership.
		SubscriptionID: firstNonEmpty(env.Data.Membership, env.Data.ID),
		PlanHint:       firstNonEmpty(env.Data.Product.Title, env.Data.Plan.Name),
	}
	if ts := maxInt64(env.Data.RenewalPeriodEnd, env.Data.ExpiresAt); ts > 0 {
		end := time.Unix(ts, 0).UTC()
		ev.PeriodEnd = &end
	}
	return ev, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
