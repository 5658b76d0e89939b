package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
)

type DbConfig struct {
	Host     string `env:"MANDATE_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"MANDATE_PG_PORT" env-default:"5432"`
	Database string `env:"MANDATE_PG_DATABASE" env-default:"mandate_db"`
	User     string `env:"MANDATE_PG_USER" env-default:"mandate"`
	Password string `env:"MANDATE_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"MANDATE_PG_SCHEMA" env-default:"public"`
}

func (d DbConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type ServerConfig struct {
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:4000"`
}

type BrokerConfig struct {
	ClientID               string   `env:"BROKER_CLIENT_ID" env-default:"relying-party"`
	ClientSecret           string   `env:"BROKER_CLIENT_SECRET" env-default:"relying-party-secret"`
	RedirectURIs           []string `env:"BROKER_REDIRECT_URIS" env-separator:"," env-default:"http://localhost:3000/callback"`
	PostLogoutRedirectURIs []string `env:"BROKER_POST_LOGOUT_REDIRECT_URIS" env-separator:"," env-default:"http://localhost:3000/logged-out"`
	IdentitySourceURL      string   `env:"BROKER_IDENTITY_SOURCE_URL" env-default:"http://localhost:5000/authorize"`
	SessionTTL             string   `env:"BROKER_SESSION_TTL" env-default:"10m"`
}

// SessionTTLDuration parses the configured TTL.
func (b BrokerConfig) SessionTTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(b.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid BROKER_SESSION_TTL: %w", err)
	}
	return d, nil
}

type AttestationConfig struct {
	Salt         string `env:"ATTESTATION_SALT" env-default:"change-me"`
	TemplatePath string `env:"ATTESTATION_TEMPLATE_PATH" env-default:""`
}

type JwtConfig struct {
	Secret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
}

type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:""`
	Password string `env:"EMAIL_PASSWORD" env-default:""`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.org"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

type NotificationConfig struct {
	ExpiringThresholdDays int `env:"MANDATE_EXPIRING_THRESHOLD_DAYS" env-default:"30"`
}

// Config is the full process configuration, loaded once at startup and
// passed explicitly to the components that need it.
type Config struct {
	DbConfig           DbConfig
	AppConfig          app.AppConfig
	ServerConfig       ServerConfig
	BrokerConfig       BrokerConfig
	AttestationConfig  AttestationConfig
	JwtConfig          JwtConfig
	EmailConfig        EmailConfig
	NotificationConfig NotificationConfig
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	loadEnvFile()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// loadEnvFile loads variables from a .env file in the working directory if
// one exists. Already-set variables win.
func loadEnvFile() {
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		slog.Error("Failed to load .env file", "error", err)
		return
	}
	slog.Info("Configuration loaded from .env file")
}
