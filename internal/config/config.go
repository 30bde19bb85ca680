// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Окружения, в которых запускается сервис. В production отсутствие
// webhook-секрета провайдера — фатальная ошибка конфигурации, в остальных
// окружениях подпись можно отключить явно, с громким предупреждением.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string        `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string        `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	RabbitMQURL             string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries      int           `yaml:"rabbitmq_max_retries" env-default:"5"`
	RabbitMQRetryDelay      time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	SMTP                    `yaml:"smtp"`
	Providers               `yaml:"providers"`
	Affiliate               `yaml:"affiliate"`

	// AdminEmail — почта платформенного администратора: совпадение почты
	// пользователя с ней даёт безусловный доступ независимо от подписки.
	AdminEmail string `yaml:"admin_email" env:"ADMIN_EMAIL"`

	// PlanPrices — статическая таблица план → цена в долларах,
	// используется движком комиссий.
	PlanPrices map[string]float64 `yaml:"plan_prices"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном.
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// SMTP настройки исходящей почты для сервиса уведомлений.
type SMTP struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
}

// Providers — настройки обоих платёжных провайдеров.
type Providers struct {
	Stripe ProviderConfig `yaml:"stripe"`
	Whop   ProviderConfig `yaml:"whop"`
}

// ProviderConfig — секреты одного провайдера: ключ подписи webhook'ов
// и API-ключ для внеполосной проверки membership.
type ProviderConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	APIKey        string `yaml:"api_key"`
}

// Affiliate — параметры партнёрской программы.
type Affiliate struct {
	// DefaultCommissionRate — ставка комиссии в процентах, применяется
	// когда у реферера нет персональной ставки.
	DefaultCommissionRate float64 `yaml:"default_commission_rate" env-default:"10"`
}

// MustLoad функция для загрузки конфига. Путь берётся из CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// ValidateProviderSecrets проверяет наличие webhook-секретов. В production
// отсутствие секрета — ошибка; в остальных окружениях возвращает список
// провайдеров, для которых проверка подписи будет пропущена.
func (c *Config) ValidateProviderSecrets() ([]string, error) {
	var unsigned []string
	for name, p := range map[string]ProviderConfig{
		"stripe": c.Providers.Stripe,
		"whop":   c.Providers.Whop,
	} {
		if p.WebhookSecret == "" {
			if c.IsProduction() {
				return nil, fmt.Errorf("webhook secret for provider %s is not configured", name)
			}
			unsigned = append(unsigned, name)
		}
	}
	return unsigned, nil
}
