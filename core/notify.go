package core

import "time"

// Notification kinds; each maps to an email template of the same name.
const (
	NotifSessionLive        = "session_live"
	NotifSessionEnded       = "session_ended"
	NotifSessionCancelled   = "session_cancelled"
	NotifSessionRescheduled = "session_rescheduled"
	NotifEndRequested       = "end_class_requested"
	NotifEndDecided         = "end_class_decided"
	NotifCancelRequested    = "cancellation_requested"
	NotifCancelDecided      = "cancellation_decided"
	NotifChangeDecided      = "change_request_decided"
)

type (
	// Recipient is one (identity, role) pair a notification fans out to.
	Recipient struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}

	// Notification is one domain event to be fanned out to its recipients.
	// Payload carries template data; it must be JSON-serializable since
	// notifications travel through the broker.
	Notification struct {
		Kind       string                 `json:"kind"`
		SessionID  string                 `json:"session_id"`
		Subject    string                 `json:"subject"`
		Recipients []Recipient            `json:"recipients"`
		Payload    map[string]interface{} `json:"payload,omitempty"`
		CreatedAt  time.Time              `json:"created_at"`
	}

	// Notifier dispatches notifications. Implementations must never block the
	// caller nor surface delivery failures to it; the state change that
	// triggered the notification is already committed.
	Notifier interface {
		Notify(n Notification)
	}
)
