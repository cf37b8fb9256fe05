package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CARD_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CARD_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for back-office API key hashing" flag:"api-key-pepper"`
	Payme        PaymeConfig
	Telegram     TelegramConfig
	Delivery     DeliveryConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// PaymeConfig holds the merchant-side gateway parameters.
type PaymeConfig struct {
	MerchantID   string `usage:"Cabinet-issued merchant id"`
	MerchantKey  string `usage:"Shared secret the gateway authenticates with" flag:"merchant-key"`
	Login        string `default:"Paycom" usage:"Basic auth login the gateway presents"`
	CheckoutHost string `default:"https://checkout.paycom.uz" usage:"Hosted checkout base URL" flag:"checkout-host"`
	CallbackURL  string `usage:"Public URL of the merchant endpoint" flag:"callback-url"`
	ReturnURL    string `usage:"Where the customer lands after paying" flag:"return-url"`
	Debug        bool   `default:"false" usage:"Expose checkout diagnostics as JSON"`
}

// TelegramConfig holds the optional settlement notifier parameters. Leaving
// the token empty disables notifications.
type TelegramConfig struct {
	Token  string `usage:"Telegram bot token (empty disables notifications)"`
	ChatID string `usage:"Telegram chat to notify" flag:"chat-id"`
}

// DeliveryConfig holds deployment-level pricing knobs.
type DeliveryConfig struct {
	CourierFee string `default:"30000" usage:"Courier delivery fee in major currency units" flag:"courier-fee"`
}

// RateLimitConfig controls the per-client rate limiter on customer
// endpoints.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CARD",
		Files:     []string{"config.yaml", "/etc/cardforge/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CARD_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Payme.MerchantKey == "" {
		return nil, errors.New("merchant key is required: set CARD_PAYME_MERCHANT_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's CARD_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
