package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationManager(t *testing.T) {
	t.Run("sends a registered notice through the registered notifier", func(t *testing.T) {
		nm, err := NewNotificationManager(WithMandateExpiringTemplate())
		require.NoError(t, err)

		mock := &MockNotifier{}
		nm.RegisterNotifier(EmailSystem, mock)

		err = nm.Send(MandateExpiringSoon, EmailSystem, NotificationData{
			To: "referent@asso.example.org",
			Data: map[string]string{
				"MandateID":  "a2b4",
				"Procedures": "argent, famille",
				"ExpiresAt":  "2026-05-01",
			},
		})
		require.NoError(t, err)
		require.Len(t, mock.SentNotifications, 1)
		assert.Equal(t, "referent@asso.example.org", mock.SentNotifications[0].To)
		assert.Equal(t, MandateExpiringSoon, mock.SentTypes[0])
	})

	t.Run("fails when no template is registered for the notice type", func(t *testing.T) {
		nm, err := NewNotificationManager()
		require.NoError(t, err)
		nm.RegisterNotifier(EmailSystem, &MockNotifier{})

		err = nm.Send(MandateRevoked, EmailSystem, NotificationData{To: "a@b.example"})
		assert.Error(t, err)
	})

	t.Run("fails when no notifier is registered for the system", func(t *testing.T) {
		nm, err := NewNotificationManager(WithMandateRevokedTemplate())
		require.NoError(t, err)

		err = nm.Send(MandateRevoked, EmailSystem, NotificationData{To: "a@b.example"})
		assert.Error(t, err)
	})

	t.Run("registers all built-in templates", func(t *testing.T) {
		nm, err := NewNotificationManager(
			WithMandateExpiringTemplate(),
			WithMandateRevokedTemplate(),
			WithCardConfirmedTemplate(),
		)
		require.NoError(t, err)

		mock := &MockNotifier{}
		nm.RegisterNotifier(EmailSystem, mock)
		for _, noticeType := range []NoticeType{MandateExpiringSoon, MandateRevoked, CardConfirmed} {
			require.NoError(t, nm.Send(noticeType, EmailSystem, NotificationData{To: "a@b.example"}))
		}
		assert.Len(t, mock.SentNotifications, 3)
	})
}
