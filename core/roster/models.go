package roster

import (
	"time"
)

// Enrollment links a student to a session.
type Enrollment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// GuardianLink links a guardian to a student they answer for.
type GuardianLink struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	GuardianID string    `json:"guardian_id"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}
