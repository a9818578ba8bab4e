package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
)

type sessionRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Status              string         `db:"status"`
	StartsAt            time.Time      `db:"starts_at"`
	Duration            int            `db:"duration"`
	TeacherID           string         `db:"teacher_id"`
	CoordinatorID       string         `db:"coordinator_id"`
	RoomName            string         `db:"room_name"`
	PendingEndRequestID sql.NullString `db:"pending_end_request_id"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r sessionRow) toSession() session.Session {
	sess := session.Session{
		ID:            r.ID,
		Name:          r.Name,
		Status:        session.Status(r.Status),
		StartsAt:      r.StartsAt.UTC(),
		Duration:      r.Duration,
		TeacherID:     r.TeacherID,
		CoordinatorID: r.CoordinatorID,
		RoomName:      r.RoomName,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.PendingEndRequestID.Valid {
		id := r.PendingEndRequestID.String
		sess.PendingEndRequestID = &id
	}
	return sess
}

const sessionCols = `id, name, status, starts_at, duration, teacher_id, coordinator_id, room_name, pending_end_request_id, created_at, updated_at`

type sessionRepository struct {
	db *sqlx.DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sql.DB) session.Repository {
	return &sessionRepository{db: wrap(db)}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	query := `
INSERT INTO session (name, status, starts_at, duration, teacher_id, coordinator_id, room_name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + sessionCols
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, query,
		sess.Name, sess.Status, sess.StartsAt, sess.Duration, sess.TeacherID, sess.CoordinatorID, sess.RoomName,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "creating session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+sessionCols+` FROM session WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) QuerySessions(ctx context.Context, filter *session.QueryFilter, ordering []core.DBOrdering) ([]session.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM session`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Status != "" {
			conds = append(conds, "status = "+arg(filter.Status))
		}
		if filter.TeacherID != "" {
			conds = append(conds, "teacher_id = "+arg(filter.TeacherID))
		}
		if !filter.From.IsZero() {
			conds = append(conds, "starts_at >= "+arg(filter.From.UTC()))
		}
		if !filter.To.IsZero() {
			conds = append(conds, "starts_at <= "+arg(filter.To.UTC()))
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, "starts_at ASC")

	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]session.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toSession())
	}
	return sessions, nil
}

// TransitionStatus is the single conditional write the lifecycle relies on.
func (repo *sessionRepository) TransitionStatus(ctx context.Context, id string, from, to session.Status) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE session SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, errors.Wrap(err, "transitioning session status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "transitioning session status")
	}
	return n == 1, nil
}

func (repo *sessionRepository) UpdateSchedule(ctx context.Context, id string, startsAt time.Time, duration int) (session.Session, error) {
	query := `
UPDATE session
SET starts_at = $2, duration = $3, status = 'scheduled', updated_at = now()
WHERE id = $1
RETURNING ` + sessionCols
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, query, id, startsAt, duration)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, errors.Wrap(err, "updating session schedule")
	}
	return row.toSession(), nil
}

func (repo *sessionRepository) ClaimPendingEndRequest(ctx context.Context, id, requestID string) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE session SET pending_end_request_id = $2, updated_at = now()
		 WHERE id = $1 AND pending_end_request_id IS NULL`, id, requestID)
	if err != nil {
		return false, errors.Wrap(err, "claiming pending end request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "claiming pending end request")
	}
	return n == 1, nil
}

func (repo *sessionRepository) ClearPendingEndRequest(ctx context.Context, id, requestID string) (bool, error) {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE session SET pending_end_request_id = NULL, updated_at = now()
		 WHERE id = $1 AND pending_end_request_id = $2`, id, requestID)
	if err != nil {
		return false, errors.Wrap(err, "clearing pending end request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "clearing pending end request")
	}
	return n == 1, nil
}

type eventRow struct {
	ID        string         `db:"id"`
	SessionID string         `db:"session_id"`
	Type      string         `db:"type"`
	ActorID   sql.NullString `db:"actor_id"`
	Payload   []byte         `db:"payload"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r eventRow) toEvent() session.Event {
	return session.Event{
		ID:        r.ID,
		SessionID: r.SessionID,
		Type:      r.Type,
		ActorID:   r.ActorID.String,
		Payload:   unmarshalPayload(r.Payload),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type eventRepository struct {
	db *sqlx.DB
}

var _ session.EventRepository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *sql.DB) session.EventRepository {
	return &eventRepository{db: wrap(db)}
}

func (repo *eventRepository) AppendEvent(ctx context.Context, ev session.Event) (session.Event, error) {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return session.Event{}, errors.Wrap(err, "marshaling event payload")
	}
	var actorID interface{}
	if ev.ActorID != "" {
		actorID = ev.ActorID
	}

	query := `
INSERT INTO session_event (session_id, type, actor_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, session_id, type, actor_id, payload, created_at`
	var row eventRow
	if err := repo.db.GetContext(ctx, &row, query, ev.SessionID, ev.Type, actorID, payload, ev.CreatedAt); err != nil {
		return session.Event{}, errors.Wrap(err, "appending session event")
	}
	return row.toEvent(), nil
}

func (repo *eventRepository) QueryEvents(ctx context.Context, sessionID string, types ...string) ([]session.Event, error) {
	query := `SELECT id, session_id, type, actor_id, payload, created_at FROM session_event WHERE session_id = $1`
	args := []interface{}{sessionID}
	if len(types) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, pq.Array(types))
	}
	query += ` ORDER BY created_at ASC`

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying session events")
	}
	events := make([]session.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

func (repo *eventRepository) LatestEvent(ctx context.Context, sessionID string, types ...string) (session.Event, error) {
	query := `SELECT id, session_id, type, actor_id, payload, created_at FROM session_event WHERE session_id = $1`
	args := []interface{}{sessionID}
	if len(types) > 0 {
		query += ` AND type = ANY($2)`
		args = append(args, pq.Array(types))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var row eventRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return session.Event{}, session.ErrEventNotFound
		}
		return session.Event{}, errors.Wrap(err, "getting latest session event")
	}
	return row.toEvent(), nil
}
