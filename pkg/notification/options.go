package notification

import (
	"embed"
	"log/slog"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP adds an email notifier with the provided SMTP configuration
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithMandateExpiringTemplate registers the expiring-mandate warning template
func WithMandateExpiringTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(MandateExpiringSoon, EmailSystem, NoticeTemplate{
			Subject: "Un mandat arrive bientôt à expiration",
			Html:    loadTemplate("templates/email/mandate_expiring.html"),
		})
	}
}

// WithMandateRevokedTemplate registers the revocation confirmation template
func WithMandateRevokedTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(MandateRevoked, EmailSystem, NoticeTemplate{
			Subject: "Mandat révoqué",
			Html:    loadTemplate("templates/email/mandate_revoked.html"),
		})
	}
}

// WithCardConfirmedTemplate registers the card pairing confirmation template
func WithCardConfirmedTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(CardConfirmed, EmailSystem, NoticeTemplate{
			Subject: "Votre carte a été activée",
			Html:    loadTemplate("templates/email/card_confirmed.html"),
		})
	}
}
