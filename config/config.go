package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	Env     string `mapstructure:"APP_ENV" validate:"oneof=development test production"`
	GinMode string `mapstructure:"GIN_MODE"`

	MongoURI          string `mapstructure:"MONGODB_URI" validate:"required"`
	MongoDatabase     string `mapstructure:"MONGODB_DATABASE" validate:"required"`
	MongoTransactions bool   `mapstructure:"MONGO_TRANSACTIONS"`

	JWTSecret string        `mapstructure:"JWT_SECRET" validate:"required,min=16"`
	JWTTTL    time.Duration `mapstructure:"JWT_TTL"`

	RedisURL         string        `mapstructure:"REDIS_URL"`
	IdentityCacheTTL time.Duration `mapstructure:"IDENTITY_CACHE_TTL"`

	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitPerMinute int      `mapstructure:"RATE_LIMIT_PER_MINUTE" validate:"gt=0"`

	VAPIDPublicKey  string `mapstructure:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `mapstructure:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `mapstructure:"VAPID_SUBSCRIBER"`

	WhatsAppToken         string `mapstructure:"WHATSAPP_TOKEN"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAPIURL        string `mapstructure:"WHATSAPP_API_URL" validate:"url"`
	WhatsAppTemplate      string `mapstructure:"WHATSAPP_TEMPLATE"`

	OTPTTL         time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int           `mapstructure:"OTP_MAX_ATTEMPTS" validate:"gt=0"`

	SentryDSN    string `mapstructure:"SENTRY_DSN"`
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("MONGODB_URI", "")
	v.SetDefault("MONGODB_DATABASE", "devconnect")
	v.SetDefault("MONGO_TRANSACTIONS", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("IDENTITY_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("VAPID_PUBLIC_KEY", "")
	v.SetDefault("VAPID_PRIVATE_KEY", "")
	v.SetDefault("VAPID_SUBSCRIBER", "mailto:admin@devconnect.app")
	v.SetDefault("WHATSAPP_TOKEN", "")
	v.SetDefault("WHATSAPP_PHONE_NUMBER_ID", "")
	v.SetDefault("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0")
	v.SetDefault("WHATSAPP_TEMPLATE", "")
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(cfg.CORSOrigins)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GoogleLinkingEnabled reports whether account linking has OAuth client credentials.
func (c *Config) GoogleLinkingEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
