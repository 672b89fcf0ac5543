package config // package config loads application configuration from environment variables

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Optional integrations (Stripe, Resend, RabbitMQ)
// are left empty when not configured and the components that depend on them
// degrade as documented on the component.
type Config struct {
	Env  string `env:"APP_ENV" envDefault:"dev"` // application environment (dev, test, prod)
	Port string `env:"APP_PORT,required"`        // HTTP port to listen on
	// AppURL is the public base URL used in email links and checkout redirects.
	AppURL string `env:"APP_URL" envDefault:"http://localhost:6060"`

	DBUser  string `env:"DB_USER,required"`
	DBPass  string `env:"DB_PASS"` // empty allowed
	DBHost  string `env:"DB_HOST,required"`
	DBPort  string `env:"DB_PORT,required"`
	DBName  string `env:"DB_NAME,required"`
	Migrate bool   `env:"MIGRATE" envDefault:"false"` // apply schema.sql on startup

	// JWTSecret verifies access tokens issued by the auth provider.
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	// AdminEmails lists the platform administrators.
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency            string `env:"CURRENCY" envDefault:"usd"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"Last-Min <onboarding@resend.dev>"`

	RabbitURL    string `env:"RABBITMQ_URL"`
	NotifyQueue  string `env:"NOTIFY_QUEUE" envDefault:"booking.notifications"`
	NotifyWorker bool   `env:"NOTIFY_WORKER" envDefault:"true"` // run the queue consumer in-process

	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
}

// IsDev reports whether the service runs in local development mode.
func (c Config) IsDev() bool { return strings.EqualFold(c.Env, "dev") }

// LoadDotEnv preloads variables from the given files (default ".env").  A
// missing file is not an error; variables already set in the process win.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load parses the environment into a Config.  Missing required variables
// are reported in a single error.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimit = cfg.RateLimit.normalize()
	cfg.Cache.Methods = parseMethods(cfg.Cache.MethodList)
	return cfg, nil
}
