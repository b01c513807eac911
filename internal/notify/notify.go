// Package notify delivers lifecycle notifications to users: dispatched,
// confirmed, failed, expired.
package notify

import (
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/metrics"
)

// maxMessageLen bounds notification text so a stringified stack trace
// never reaches a user.
const maxMessageLen = 300

// Event names a notification lifecycle moment.
type Event string

// Notification events.
const (
	EventDispatched Event = "dispatched"
	EventConfirmed  Event = "confirmed"
	EventFailed     Event = "failed"
	EventExpired    Event = "expired"
)

// Payload carries the structured fields alongside the message text.
type Payload struct {
	Event          Event
	RequestID      string
	Slot           string
	Court          int
	ConfirmationID string
}

// Notifier delivers one notification to one user.
type Notifier interface {
	Notify(userID, message string, payload Payload)
}

// Truncate bounds a message to the notification length limit.
func Truncate(message string) string {
	if len(message) <= maxMessageLen {
		return message
	}
	return message[:maxMessageLen-3] + "..."
}

// LogNotifier writes notifications to the structured log. It is the
// default sink and the pattern for real transports (a messaging bot, a
// webhook) to follow.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(userID, message string, payload Payload) {
	log.Info().
		Str("user_id", userID).
		Str("event", string(payload.Event)).
		Str("request_id", payload.RequestID).
		Str("slot", payload.Slot).
		Int("court", payload.Court).
		Str("confirmation_id", payload.ConfirmationID).
		Str("message", Truncate(message)).
		Msg("User notification")
}

// Fanout delivers each notification to every wrapped notifier.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(userID, message string, payload Payload) {
	metrics.NotificationsTotal.WithLabelValues(string(payload.Event)).Inc()
	for _, n := range f {
		n.Notify(userID, message, payload)
	}
}
