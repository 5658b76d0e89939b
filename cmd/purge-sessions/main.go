// Command purge-sessions is the periodic maintenance job: it deletes lapsed
// connection sessions and emails organizations whose mandates expire within
// the configured threshold. Mandates themselves are never swept; expiration
// is computed at read time.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencivics/simple-mandate/pkg/broker"
	"github.com/opencivics/simple-mandate/pkg/config"
	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(-1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DbConfig.ToDatabaseURL())
	if err != nil {
		slog.Error("Failed to create database pool", "error", err)
		os.Exit(-1)
	}
	defer pool.Close()

	sessionRepo := broker.NewPostgresRepository(pool)
	mandateRepo := mandate.NewPostgresRepository(pool)
	iamRepo := iam.NewPostgresRepository(pool)

	now := time.Now().UTC()
	deleted, err := sessionRepo.DeleteExpiredBefore(ctx, now)
	if err != nil {
		slog.Error("Failed to purge expired sessions", "error", err)
		os.Exit(-1)
	}
	slog.Info("Purged expired connection sessions", "deleted", deleted)

	notificationManager, err := notification.NewNotificationManager(
		notification.WithSMTP(notification.SMTPConfig{
			Host:     cfg.EmailConfig.Host,
			Port:     int(cfg.EmailConfig.Port),
			TLS:      cfg.EmailConfig.TLS,
			Username: cfg.EmailConfig.Username,
			Password: cfg.EmailConfig.Password,
			From:     cfg.EmailConfig.From,
		}),
		notification.WithMandateExpiringTemplate(),
	)
	if err != nil {
		slog.Error("Failed to initialize notification manager", "error", err)
		os.Exit(-1)
	}

	threshold := cfg.NotificationConfig.ExpiringThresholdDays
	expiring, err := mandateRepo.FindExpiringBetween(ctx, now, now.Add(time.Duration(threshold)*24*time.Hour))
	if err != nil {
		slog.Error("Failed to list expiring mandates", "error", err)
		os.Exit(-1)
	}

	notified := 0
	for _, m := range expiring {
		org, err := iamRepo.GetOrganization(ctx, m.OrganizationID)
		if err != nil {
			slog.Error("Failed to load organization for expiring mandate",
				"mandate_id", m.ID, "organization_id", m.OrganizationID, "error", err)
			continue
		}
		if org.ContactEmail == "" {
			slog.Warn("Organization has no contact email, skipping notice",
				"mandate_id", m.ID, "organization_id", m.OrganizationID)
			continue
		}

		auths, err := mandateRepo.FindAuthorizationsByMandate(ctx, m.ID)
		if err != nil {
			slog.Error("Failed to load authorizations for expiring mandate",
				"mandate_id", m.ID, "error", err)
			continue
		}
		procedures := make([]string, 0, len(auths))
		for _, a := range auths {
			if a.RevokedAt == nil {
				procedures = append(procedures, string(a.Procedure))
			}
		}

		err = notificationManager.Send(notification.MandateExpiringSoon, notification.EmailSystem,
			notification.NotificationData{
				To: org.ContactEmail,
				Data: map[string]string{
					"MandateID":  m.ID.String(),
					"Procedures": strings.Join(procedures, ", "),
					"ExpiresAt":  m.ExpiresAt.Format("02/01/2006"),
				},
			})
		if err != nil {
			slog.Error("Failed to send expiring mandate notice",
				"mandate_id", m.ID, "to", org.ContactEmail, "error", err)
			continue
		}
		notified++
	}

	slog.Info("Expiring mandate notices sent",
		"threshold_days", threshold, "expiring", len(expiring), "notified", notified)
}
