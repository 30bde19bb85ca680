package providers

import "github.com/tradervault/subscription-backend/internal/config"

func testProvidersConfig() config.Providers {
	return config.Providers{
		Stripe: config.ProviderConfig{WebhookSecret: "stripe_secret"},
		Whop:   config.ProviderConfig{WebhookSecret: "whop_secret"},
	}
}
