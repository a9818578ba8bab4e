package session

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
)

func newID() string { return uuid.New().String() }

// Status is the persisted session lifecycle status.
// The only legal transitions are scheduled→live, scheduled→cancelled,
// live→ended and live→cancelled; ended and cancelled are terminal
// (an approved reschedule may re-activate a cancelled session to scheduled).
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Session is one scheduled class instance.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	StartsAt      time.Time `json:"starts_at"` // UTC
	Duration      int       `json:"duration"`  // minutes
	TeacherID     string    `json:"teacher_id"`
	CoordinatorID string    `json:"coordinator_id"`
	RoomName      string    `json:"room_name"`

	// PendingEndRequestID points at the one unresolved early-end request, if any.
	PendingEndRequestID *string `json:"pending_end_request_id,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (s Session) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.Duration) * time.Minute)
}

// IsEarly reports whether `now` falls before the scheduled end of the session.
func (s Session) IsEarly(now time.Time) bool {
	return now.Before(s.EndsAt())
}

// EffectiveStatus presents a live session whose scheduled time has fully
// elapsed as "ended" on read paths. A display safety net, not a transition;
// the stored status is never mutated by it.
func (s Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusLive && !s.IsEarly(now) {
		return StatusEnded
	}
	return s.Status
}

// NewSession contains information needed to schedule a new Session.
type NewSession struct {
	Name          string    `json:"name" validate:"required"`
	StartsAt      time.Time `json:"starts_at" validate:"required"`
	Duration      int       `json:"duration" validate:"required,gt=0"`
	TeacherID     string    `json:"teacher_id" validate:"required"`
	CoordinatorID string    `json:"coordinator_id" validate:"required"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	return validate.Struct(ns)
}

type QueryFilter struct {
	Status    Status    `query:"status"`
	TeacherID string    `query:"teacher_id"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Status == "" && qf.TeacherID == "" && qf.From.IsZero() && qf.To.IsZero()
}

// EndRequestState is the polled view of the early-end approval protocol.
// Requesters poll it on a fixed interval while their request is pending;
// after a bounded client-side wait they may fall back to a forced end.
type EndRequestState struct {
	Status      string     `json:"status"` // none | pending | approved | denied
	RequestID   string     `json:"request_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

const (
	EndRequestNone     = "none"
	EndRequestPending  = "pending"
	EndRequestApproved = "approved"
	EndRequestDenied   = "denied"
)
