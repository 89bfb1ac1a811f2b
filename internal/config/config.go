package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minAuthSecretLength = 32

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Env      string
	Port     string
	LogLevel string
	Auth     AuthConfig
	Composio ComposioConfig
	Models   ModelConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	CORS     CORSConfig
}

type AuthConfig struct {
	Secret         string
	URL            string
	SessionTTL     time.Duration
	CookieSameSite string
	CookieDomain   string
}

type ComposioConfig struct {
	APIKey       string
	AuthConfigID string
	BaseURL      string
}

type ModelConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	DefaultModel    string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type RedisConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// IsProduction reports whether cookies must be marked Secure.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// CallbackURL is where the account-linking provider sends the browser back.
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.Auth.URL, "/") + "/auth/callback"
}

// Load reads a local .env file when present, then the process environment,
// and validates every required value.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:      getenv("APP_ENV", "development"),
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Auth: AuthConfig{
			Secret:         firstEnv("AUTH_SECRET", "NEXTAUTH_SECRET"),
			URL:            getenv("AUTH_URL", "http://localhost:3000"),
			CookieSameSite: os.Getenv("AUTH_COOKIE_SAMESITE"),
			CookieDomain:   os.Getenv("AUTH_COOKIE_DOMAIN"),
		},
		Composio: ComposioConfig{
			APIKey:       os.Getenv("COMPOSIO_API_KEY"),
			AuthConfigID: firstEnv("AUTH_CONFIG_ID", "COMPOSIO_AUTH_CONFIG_ID"),
			BaseURL:      getenv("COMPOSIO_BASE_URL", "https://backend.composio.dev"),
		},
		Models: ModelConfig{
			OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			GoogleAPIKey:    firstEnv("GOOGLE_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY"),
			DefaultModel:    getenv("DEFAULT_MODEL", "openai/gpt-5.2"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
	}

	ttl, err := time.ParseDuration(getenv("SESSION_TTL", "720h"))
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("%w: invalid SESSION_TTL", ErrInvalidConfig)
	}
	cfg.Auth.SessionTTL = ttl

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values the process cannot run without.
func (c Config) Validate() error {
	var problems []string

	switch c.Env {
	case "development", "test", "production":
	default:
		problems = append(problems, "APP_ENV must be development, test or production")
	}

	if _, err := c.Postgres.URL(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(c.Auth.Secret) < minAuthSecretLength {
		problems = append(problems, fmt.Sprintf("AUTH_SECRET must be at least %d characters", minAuthSecretLength))
	}
	if !isHTTPURL(c.Auth.URL) {
		problems = append(problems, "AUTH_URL must be an absolute http(s) URL")
	}
	if strings.TrimSpace(c.Composio.APIKey) == "" {
		problems = append(problems, "COMPOSIO_API_KEY is required")
	}
	if strings.TrimSpace(c.Composio.AuthConfigID) == "" {
		problems = append(problems, "AUTH_CONFIG_ID is required")
	}
	if !isHTTPURL(c.Composio.BaseURL) {
		problems = append(problems, "COMPOSIO_BASE_URL must be an absolute http(s) URL")
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			problems = append(problems, "REDIS_URL is malformed")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// URL returns DATABASE_URL, or assembles one from the PG* parts.
func (p PostgresConfig) URL() (string, error) {
	if p.DatabaseURL != "" {
		u, err := url.Parse(p.DatabaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("DATABASE_URL must be a valid URL")
		}
		return p.DatabaseURL, nil
	}

	if p.User == "" || p.Database == "" {
		return "", fmt.Errorf("missing required env: DATABASE_URL or PGUSER/PGDATABASE")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, p.Port),
		Path:   p.Database,
	}
	if p.Password == "" {
		u.User = url.User(p.User)
	} else {
		u.User = url.UserPassword(p.User, p.Password)
	}
	q := u.Query()
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
