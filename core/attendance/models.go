package attendance

import (
	"time"
)

// Status is the terminal per-participant classification for a session.
// Once a non-absent status is set it is never downgraded back to absent;
// the only forward transition after join-time classification is
// present/late → left_early via an approved leave.
type Status string

const (
	StatusPresent   Status = "present"
	StatusLate      Status = "late"
	StatusAbsent    Status = "absent"
	StatusLeftEarly Status = "left_early"
)

// Summary is the cumulative presence record of one participant in one session.
type Summary struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ParticipantID string     `json:"participant_id"`
	Role          string     `json:"role"`
	Status        Status     `json:"status"`
	FirstJoinAt   *time.Time `json:"first_join_at,omitempty"` // UTC
	LastLeaveAt   *time.Time `json:"last_leave_at,omitempty"` // UTC
	JoinCount     int        `json:"join_count"`
	LateBySec     int        `json:"late_by_sec"`
	TotalSec      int        `json:"total_duration_sec"`
	LeaveApproved bool       `json:"leave_approved"`
	CreatedAt     time.Time  `json:"created_at"` // UTC
	UpdatedAt     time.Time  `json:"updated_at"` // UTC
}

// Timeline entry kinds.
const (
	EntryJoin          = "join"
	EntryLateJoin      = "late_join"
	EntryRejoin        = "rejoin"
	EntryLeave         = "leave"
	EntryLeaveRequest  = "leave_request"
	EntryLeaveApproved = "leave_approved"
	EntryLeaveDenied   = "leave_denied"
)

// Entry is one timeline event for a participant. The timeline is a log;
// the Summary counters stay authoritative when labels race.
type Entry struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	ParticipantID string                 `json:"participant_id"`
	Kind          string                 `json:"kind"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	CreatedAt     time.Time              `json:"created_at"` // UTC
}

// Report is the derived per-session aggregate; computed on read, never stored.
type Report struct {
	SessionID   string    `json:"session_id"`
	Present     int       `json:"present"`
	Late        int       `json:"late"`
	Absent      int       `json:"absent"`
	LeftEarly   int       `json:"left_early"`
	AvgSec      int       `json:"avg_duration_sec"`
	Summaries   []Summary `json:"summaries"`
	GeneratedAt time.Time `json:"generated_at"` // UTC
}
