package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/chi-demo/app"

	"github.com/opencivics/simple-mandate/pkg/attestation"
	"github.com/opencivics/simple-mandate/pkg/broker"
	brokerapi "github.com/opencivics/simple-mandate/pkg/broker/api"
	"github.com/opencivics/simple-mandate/pkg/config"
	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/journal"
	journalapi "github.com/opencivics/simple-mandate/pkg/journal/api"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	mandateapi "github.com/opencivics/simple-mandate/pkg/mandate/api"
	"github.com/opencivics/simple-mandate/pkg/notification"
	"github.com/opencivics/simple-mandate/pkg/procedure"
	"github.com/opencivics/simple-mandate/pkg/ratelimit"
	"github.com/opencivics/simple-mandate/pkg/secondfactor"
	secondfactorapi "github.com/opencivics/simple-mandate/pkg/secondfactor/api"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(-1)
	}

	sessionTTL, err := cfg.BrokerConfig.SessionTTLDuration()
	if err != nil {
		slog.Error("Invalid broker session TTL", "error", err)
		os.Exit(-1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DbConfig.ToDatabaseURL())
	if err != nil {
		slog.Error("Failed to create database pool", "error", err)
		os.Exit(-1)
	}
	defer pool.Close()

	// Repositories
	journalRepo := journal.NewPostgresRepository(pool)
	mandateRepo := mandate.NewPostgresRepository(pool)
	sessionRepo := broker.NewPostgresRepository(pool)
	cardRepo := secondfactor.NewPostgresRepository(pool)
	iamRepo := iam.NewPostgresRepository(pool)

	// Services
	journalService := journal.NewService(journalRepo)
	attestationService := newAttestationService(cfg.AttestationConfig)
	cardService := secondfactor.NewService(cardRepo, secondfactor.NewTOTPValidator(), journalService)
	iamService := iam.NewService(iamRepo, cardService)
	mandateService := mandate.NewService(mandateRepo, procedure.DefaultCatalog(),
		attestationService, journalService, iamService)

	// Post-commit notices to helpers. Delivery problems are logged and never
	// unwind ledger state.
	notificationManager, err := notification.NewNotificationManager(
		notification.WithSMTP(notification.SMTPConfig{
			Host:     cfg.EmailConfig.Host,
			Port:     int(cfg.EmailConfig.Port),
			TLS:      cfg.EmailConfig.TLS,
			Username: cfg.EmailConfig.Username,
			Password: cfg.EmailConfig.Password,
			From:     cfg.EmailConfig.From,
		}),
		notification.WithMandateRevokedTemplate(),
		notification.WithCardConfirmedTemplate(),
	)
	if err != nil {
		slog.Error("Failed to initialize notification manager", "error", err)
		os.Exit(-1)
	}
	dispatcher := notification.NewDispatcher(notificationManager, iamService)
	mandateService = mandateService.WithNotifier(dispatcher)
	cardService = cardService.WithNotifier(dispatcher)
	brokerService := broker.NewService(sessionRepo, broker.RelyingParty{
		ClientID:               cfg.BrokerConfig.ClientID,
		ClientSecret:           cfg.BrokerConfig.ClientSecret,
		RedirectURIs:           cfg.BrokerConfig.RedirectURIs,
		PostLogoutRedirectURIs: cfg.BrokerConfig.PostLogoutRedirectURIs,
	}, cfg.BrokerConfig.IdentitySourceURL, sessionTTL,
		mandateService, cardService, iamService, journalService)

	server := app.DefaultWithoutRoutes()

	app.RoutesHealthz(server.R)

	// Slow down code and passcode guessing on the broker endpoints.
	rateLimitConfig := ratelimit.DefaultConfig()
	rateLimitConfig.EndpointLimits = map[string]ratelimit.EndpointLimit{
		"POST /oauth2/token": {Capacity: 10, RefillRate: 10.0 / 60.0},
	}
	rateLimitConfig.BucketTTL = time.Hour
	server.R.Use(ratelimit.NewMiddleware(rateLimitConfig).Handler)

	server.R.Mount("/oauth2", brokerapi.Routes(brokerapi.NewHandler(brokerService)))

	// Admin API, authenticated by bearer JWT.
	jwtAuth := jwtauth.New("HS256", []byte(cfg.JwtConfig.Secret), nil)
	server.R.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(jwtAuth))
		r.Use(jwtauth.Authenticator(jwtAuth))
		r.Mount("/mandates", mandateapi.Routes(mandateapi.NewHandler(mandateService)))
		r.Mount("/cards", secondfactorapi.Routes(secondfactorapi.NewHandler(cardService)))
		r.Mount("/journal", journalapi.Routes(journalapi.NewHandler(journalRepo)))
	})

	slog.Info("Mandate server ready",
		"base_url", cfg.ServerConfig.BaseURL,
		"client_id", cfg.BrokerConfig.ClientID,
		"session_ttl", sessionTTL)

	server.Run()
}

// newAttestationService loads the attestation template named by the
// configuration. A missing path still yields a working service; the template
// hash then covers empty content, which VerifyMandate reports as a mismatch
// for documents produced with a real template.
func newAttestationService(cfg config.AttestationConfig) *attestation.Service {
	if cfg.TemplatePath == "" {
		slog.Warn("No attestation template configured, hashing empty template")
		return attestation.NewService(cfg.Salt, nil)
	}
	content, err := os.ReadFile(cfg.TemplatePath)
	if err != nil {
		slog.Error("Failed to read attestation template", "path", cfg.TemplatePath, "error", err)
		os.Exit(-1)
	}
	return attestation.NewService(cfg.Salt, content)
}
