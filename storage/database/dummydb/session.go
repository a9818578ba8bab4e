package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
)

type sessionRepository struct {
	db *sessionTable
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) session.Repository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess.ID = newID()
	repo.db.table[sess.ID] = &sess
	return sess, nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return *sess, nil
	}
	return session.Session{}, session.ErrNotFound
}

func (repo *sessionRepository) QuerySessions(_ context.Context, filter *session.QueryFilter, _ []core.DBOrdering) ([]session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]session.Session, 0, len(repo.db.table))
	for _, sess := range repo.db.table {
		if filter != nil {
			if filter.Status != "" && sess.Status != filter.Status {
				continue
			}
			if filter.TeacherID != "" && sess.TeacherID != filter.TeacherID {
				continue
			}
			if !filter.From.IsZero() && sess.StartsAt.Before(filter.From.UTC()) {
				continue
			}
			if !filter.To.IsZero() && sess.StartsAt.After(filter.To.UTC()) {
				continue
			}
		}
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartsAt.Before(sessions[j].StartsAt) })
	return sessions, nil
}

func (repo *sessionRepository) TransitionStatus(_ context.Context, id string, from, to session.Status) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.table[id]
	if !ok {
		return false, session.ErrNotFound
	}
	if sess.Status != from {
		return false, nil
	}
	sess.Status = to
	sess.UpdatedAt = core.NowUTC()
	return true, nil
}

func (repo *sessionRepository) UpdateSchedule(_ context.Context, id string, startsAt time.Time, duration int) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.table[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	sess.StartsAt = startsAt
	sess.Duration = duration
	sess.Status = session.StatusScheduled
	sess.UpdatedAt = core.NowUTC()
	return *sess, nil
}

func (repo *sessionRepository) ClaimPendingEndRequest(_ context.Context, id, requestID string) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.table[id]
	if !ok {
		return false, session.ErrNotFound
	}
	if sess.PendingEndRequestID != nil {
		return false, nil
	}
	sess.PendingEndRequestID = &requestID
	sess.UpdatedAt = core.NowUTC()
	return true, nil
}

func (repo *sessionRepository) ClearPendingEndRequest(_ context.Context, id, requestID string) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sess, ok := repo.db.table[id]
	if !ok {
		return false, session.ErrNotFound
	}
	if sess.PendingEndRequestID == nil || *sess.PendingEndRequestID != requestID {
		return false, nil
	}
	sess.PendingEndRequestID = nil
	sess.UpdatedAt = core.NowUTC()
	return true, nil
}

type eventRepository struct {
	db *eventTable
}

var _ session.EventRepository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *DB) session.EventRepository {
	return &eventRepository{db: db.event}
}

func (repo *eventRepository) AppendEvent(_ context.Context, ev session.Event) (session.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	ev.ID = newID()
	repo.db.rows = append(repo.db.rows, ev)
	return ev, nil
}

func (repo *eventRepository) QueryEvents(_ context.Context, sessionID string, types ...string) ([]session.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var events []session.Event
	for _, ev := range repo.db.rows {
		if ev.SessionID != sessionID {
			continue
		}
		if len(types) > 0 && !containsStr(types, ev.Type) {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (repo *eventRepository) LatestEvent(_ context.Context, sessionID string, types ...string) (session.Event, error) {
	events, err := repo.QueryEvents(context.Background(), sessionID, types...)
	if err != nil {
		return session.Event{}, err
	}
	if len(events) == 0 {
		return session.Event{}, session.ErrEventNotFound
	}
	return events[len(events)-1], nil
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
