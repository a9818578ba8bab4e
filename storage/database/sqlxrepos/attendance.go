package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/attendance"
)

type summaryRow struct {
	ID            string       `db:"id"`
	SessionID     string       `db:"session_id"`
	ParticipantID string       `db:"participant_id"`
	Role          string       `db:"role"`
	Status        string       `db:"status"`
	FirstJoinAt   sql.NullTime `db:"first_join_at"`
	LastLeaveAt   sql.NullTime `db:"last_leave_at"`
	JoinCount     int          `db:"join_count"`
	LateBySec     int          `db:"late_by_sec"`
	TotalSec      int          `db:"total_sec"`
	LeaveApproved bool         `db:"leave_approved"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r summaryRow) toSummary() attendance.Summary {
	sum := attendance.Summary{
		ID:            r.ID,
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		Role:          r.Role,
		Status:        attendance.Status(r.Status),
		JoinCount:     r.JoinCount,
		LateBySec:     r.LateBySec,
		TotalSec:      r.TotalSec,
		LeaveApproved: r.LeaveApproved,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.FirstJoinAt.Valid {
		at := r.FirstJoinAt.Time.UTC()
		sum.FirstJoinAt = &at
	}
	if r.LastLeaveAt.Valid {
		at := r.LastLeaveAt.Time.UTC()
		sum.LastLeaveAt = &at
	}
	return sum
}

const summaryCols = `id, session_id, participant_id, role, status, first_join_at, last_leave_at, join_count, late_by_sec, total_sec, leave_approved, created_at, updated_at`

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sql.DB) attendance.Repository {
	return &attendanceRepository{db: wrap(db)}
}

func (repo *attendanceRepository) GetSummary(ctx context.Context, sessionID, participantID string) (attendance.Summary, error) {
	var row summaryRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT `+summaryCols+` FROM attendance_summary WHERE session_id = $1 AND participant_id = $2`,
		sessionID, participantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return attendance.Summary{}, attendance.ErrNotFound
		}
		return attendance.Summary{}, errors.Wrap(err, "getting attendance summary")
	}
	return row.toSummary(), nil
}

func (repo *attendanceRepository) CreateSummary(ctx context.Context, s attendance.Summary) (attendance.Summary, error) {
	var firstJoinAt, lastLeaveAt interface{}
	if s.FirstJoinAt != nil {
		firstJoinAt = *s.FirstJoinAt
	}
	if s.LastLeaveAt != nil {
		lastLeaveAt = *s.LastLeaveAt
	}
	query := `
INSERT INTO attendance_summary (session_id, participant_id, role, status, first_join_at, last_leave_at, join_count, late_by_sec, total_sec, leave_approved, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + summaryCols
	var row summaryRow
	err := repo.db.GetContext(ctx, &row, query,
		s.SessionID, s.ParticipantID, s.Role, s.Status, firstJoinAt, lastLeaveAt, s.JoinCount, s.LateBySec, s.TotalSec,
		s.LeaveApproved, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return attendance.Summary{}, errors.Wrap(err, "creating attendance summary")
	}
	return row.toSummary(), nil
}

func (repo *attendanceRepository) UpdateSummary(ctx context.Context, s attendance.Summary) (attendance.Summary, error) {
	var lastLeaveAt interface{}
	if s.LastLeaveAt != nil {
		lastLeaveAt = *s.LastLeaveAt
	}
	query := `
UPDATE attendance_summary
SET status = $2, last_leave_at = $3, join_count = $4, late_by_sec = $5, total_sec = $6, leave_approved = $7, updated_at = $8
WHERE id = $1
RETURNING ` + summaryCols
	var row summaryRow
	err := repo.db.GetContext(ctx, &row, query,
		s.ID, s.Status, lastLeaveAt, s.JoinCount, s.LateBySec, s.TotalSec, s.LeaveApproved, s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return attendance.Summary{}, attendance.ErrNotFound
		}
		return attendance.Summary{}, errors.Wrap(err, "updating attendance summary")
	}
	return row.toSummary(), nil
}

// InsertSummaryIfAbsent leans on the (session_id, participant_id) unique
// constraint; ON CONFLICT DO NOTHING makes the fill-in idempotent.
func (repo *attendanceRepository) InsertSummaryIfAbsent(ctx context.Context, s attendance.Summary) (bool, error) {
	query := `
INSERT INTO attendance_summary (session_id, participant_id, role, status, join_count, late_by_sec, total_sec, leave_approved, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (session_id, participant_id) DO NOTHING`
	res, err := repo.db.ExecContext(ctx, query,
		s.SessionID, s.ParticipantID, s.Role, s.Status, s.JoinCount, s.LateBySec, s.TotalSec,
		s.LeaveApproved, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return false, errors.Wrap(err, "inserting attendance summary")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "inserting attendance summary")
	}
	return n == 1, nil
}

func (repo *attendanceRepository) QuerySummaries(ctx context.Context, sessionID string) ([]attendance.Summary, error) {
	var rows []summaryRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+summaryCols+` FROM attendance_summary WHERE session_id = $1 ORDER BY participant_id ASC`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance summaries")
	}
	sums := make([]attendance.Summary, 0, len(rows))
	for _, row := range rows {
		sums = append(sums, row.toSummary())
	}
	return sums, nil
}

type entryRow struct {
	ID            string    `db:"id"`
	SessionID     string    `db:"session_id"`
	ParticipantID string    `db:"participant_id"`
	Kind          string    `db:"kind"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r entryRow) toEntry() attendance.Entry {
	return attendance.Entry{
		ID:            r.ID,
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		Kind:          r.Kind,
		Payload:       unmarshalPayload(r.Payload),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func (repo *attendanceRepository) AppendEntry(ctx context.Context, e attendance.Entry) (attendance.Entry, error) {
	payload, err := marshalPayload(e.Payload)
	if err != nil {
		return attendance.Entry{}, errors.Wrap(err, "marshaling entry payload")
	}
	query := `
INSERT INTO attendance_entry (session_id, participant_id, kind, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, session_id, participant_id, kind, payload, created_at`
	var row entryRow
	if err := repo.db.GetContext(ctx, &row, query, e.SessionID, e.ParticipantID, e.Kind, payload, e.CreatedAt); err != nil {
		return attendance.Entry{}, errors.Wrap(err, "appending attendance entry")
	}
	return row.toEntry(), nil
}

func (repo *attendanceRepository) QueryEntries(ctx context.Context, sessionID, participantID string, kinds ...string) ([]attendance.Entry, error) {
	query := `SELECT id, session_id, participant_id, kind, payload, created_at FROM attendance_entry
WHERE session_id = $1 AND participant_id = $2`
	args := []interface{}{sessionID, participantID}
	if len(kinds) > 0 {
		query += ` AND kind = ANY($3)`
		args = append(args, pq.Array(kinds))
	}
	query += ` ORDER BY created_at ASC`

	var rows []entryRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying attendance entries")
	}
	entries := make([]attendance.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry())
	}
	return entries, nil
}

func (repo *attendanceRepository) LatestEntry(ctx context.Context, sessionID, participantID string, kinds ...string) (attendance.Entry, error) {
	query := `SELECT id, session_id, participant_id, kind, payload, created_at FROM attendance_entry
WHERE session_id = $1 AND participant_id = $2`
	args := []interface{}{sessionID, participantID}
	if len(kinds) > 0 {
		query += ` AND kind = ANY($3)`
		args = append(args, pq.Array(kinds))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var row entryRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Entry{}, attendance.ErrNotFound
		}
		return attendance.Entry{}, errors.Wrap(err, "getting latest attendance entry")
	}
	return row.toEntry(), nil
}
