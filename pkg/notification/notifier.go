package notification

// NotificationData carries the per-recipient content of one notice.
type NotificationData struct {
	To      string            // Recipient identifier (email address for the email system)
	Subject string            // Optional subject override
	Body    string            // Optional pre-rendered body
	Data    map[string]string // Template variables
}

// NoticeTemplate holds the rendering material for one notice type on one
// system.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers a notice over one system.
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
