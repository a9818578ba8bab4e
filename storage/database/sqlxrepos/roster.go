package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
)

type enrollmentRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	StudentID string    `db:"student_id"`
	CreatedAt time.Time `db:"created_at"`
}

type guardianLinkRow struct {
	ID         string    `db:"id"`
	StudentID  string    `db:"student_id"`
	GuardianID string    `db:"guardian_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type rosterRepository struct {
	db *sqlx.DB
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *sql.DB) roster.Repository {
	return &rosterRepository{db: wrap(db)}
}

func (repo *rosterRepository) CreateEnrollment(ctx context.Context, e roster.Enrollment) (roster.Enrollment, error) {
	query := `
INSERT INTO enrollment (session_id, student_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, student_id) DO UPDATE SET session_id = EXCLUDED.session_id
RETURNING id, session_id, student_id, created_at`
	var row enrollmentRow
	if err := repo.db.GetContext(ctx, &row, query, e.SessionID, e.StudentID, e.CreatedAt); err != nil {
		return roster.Enrollment{}, errors.Wrap(err, "creating enrollment")
	}
	return roster.Enrollment(row), nil
}

func (repo *rosterRepository) QueryEnrollments(ctx context.Context, sessionID string) ([]roster.Enrollment, error) {
	var rows []enrollmentRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, student_id, created_at FROM enrollment WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]roster.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrollments = append(enrollments, roster.Enrollment(row))
	}
	return enrollments, nil
}

func (repo *rosterRepository) DeleteEnrollment(ctx context.Context, sessionID, studentID string) error {
	res, err := repo.db.ExecContext(ctx,
		`DELETE FROM enrollment WHERE session_id = $1 AND student_id = $2`, sessionID, studentID)
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	if n == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (repo *rosterRepository) CreateGuardianLink(ctx context.Context, gl roster.GuardianLink) (roster.GuardianLink, error) {
	query := `
INSERT INTO guardian_link (student_id, guardian_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (student_id, guardian_id) DO UPDATE SET student_id = EXCLUDED.student_id
RETURNING id, student_id, guardian_id, created_at`
	var row guardianLinkRow
	if err := repo.db.GetContext(ctx, &row, query, gl.StudentID, gl.GuardianID, gl.CreatedAt); err != nil {
		return roster.GuardianLink{}, errors.Wrap(err, "creating guardian link")
	}
	return roster.GuardianLink(row), nil
}

func (repo *rosterRepository) QueryGuardians(ctx context.Context, studentIDs []string) ([]roster.GuardianLink, error) {
	var rows []guardianLinkRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT id, student_id, guardian_id, created_at FROM guardian_link WHERE student_id = ANY($1)`,
		pq.Array(studentIDs))
	if err != nil {
		return nil, errors.Wrap(err, "querying guardian links")
	}
	links := make([]roster.GuardianLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, roster.GuardianLink(row))
	}
	return links, nil
}

// timetableMirror keeps the timetable_entry table opportunistically in sync
// with session status and schedule changes; it is a best-effort cache.
type timetableMirror struct {
	db *sqlx.DB
}

var _ session.TimetableMirror = (*timetableMirror)(nil) // interface compliance check

func NewTimetableMirror(db *sql.DB) session.TimetableMirror {
	return &timetableMirror{db: wrap(db)}
}

func (m *timetableMirror) SyncStatus(ctx context.Context, sessionID string, status session.Status) error {
	_, err := m.db.ExecContext(ctx, `
INSERT INTO timetable_entry (session_id, status, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (session_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		sessionID, status)
	return errors.Wrap(err, "syncing timetable status")
}

func (m *timetableMirror) SyncSchedule(ctx context.Context, sessionID string, startsAt time.Time, duration int) error {
	_, err := m.db.ExecContext(ctx, `
INSERT INTO timetable_entry (session_id, starts_at, duration, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id) DO UPDATE SET starts_at = EXCLUDED.starts_at, duration = EXCLUDED.duration, updated_at = now()`,
		sessionID, startsAt, duration)
	return errors.Wrap(err, "syncing timetable schedule")
}
