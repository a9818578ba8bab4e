package session

import (
	"context"
	"time"
)

// Session event types. The event log is append-only; it serves audit and the
// derived end-request state, never as a mutable flag store.
const (
	EventRoomStarted     = "room_started"
	EventRoomEnded       = "room_ended"
	EventRoomEndedForced = "room_ended_forced"

	EventEndRequested = "end_class_requested"
	EventEndApproved  = "end_class_approved"
	EventEndDenied    = "end_class_denied"

	EventSessionCancelled   = "session_cancelled"
	EventSessionRescheduled = "session_rescheduled"

	EventCancellationRequested = "cancellation_requested"
	EventCancellationApproved  = "cancellation_approved"
	EventCancellationRejected  = "cancellation_rejected"

	EventChangeRequested = "change_requested"
	EventChangeApproved  = "change_approved"
	EventChangeRejected  = "change_rejected"
	EventChangeWithdrawn = "change_withdrawn"
)

// Event is one append-only ledger entry for a session.
type Event struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	ActorID   string                 `json:"actor_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}

type EventRepository interface {
	AppendEvent(ctx context.Context, ev Event) (Event, error)
	// QueryEvents returns a session's events ordered by CreatedAt ascending.
	QueryEvents(ctx context.Context, sessionID string, types ...string) ([]Event, error)
	// LatestEvent returns the most recent event of any of the given types;
	// ErrEventNotFound when none exists.
	LatestEvent(ctx context.Context, sessionID string, types ...string) (Event, error)
}
