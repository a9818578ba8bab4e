package dummydb

import (
	"context"
	"time"

	"github.com/trezcool/darasa/core/session"
)

// timetableRow mirrors the subset of session fields the scheduling views read.
type timetableRow struct {
	SessionID string
	Status    session.Status
	StartsAt  time.Time
	Duration  int
}

type timetableMirror struct {
	db *timetableTable
}

var _ session.TimetableMirror = (*timetableMirror)(nil) // interface compliance check

func NewTimetableMirror(db *DB) session.TimetableMirror {
	return &timetableMirror{db: db.timetable}
}

func (m *timetableMirror) SyncStatus(_ context.Context, sessionID string, status session.Status) error {
	m.db.Lock()
	defer m.db.Unlock()

	row, ok := m.db.rows[sessionID]
	if !ok {
		row = &timetableRow{SessionID: sessionID}
		m.db.rows[sessionID] = row
	}
	row.Status = status
	return nil
}

func (m *timetableMirror) SyncSchedule(_ context.Context, sessionID string, startsAt time.Time, duration int) error {
	m.db.Lock()
	defer m.db.Unlock()

	row, ok := m.db.rows[sessionID]
	if !ok {
		row = &timetableRow{SessionID: sessionID}
		m.db.rows[sessionID] = row
	}
	row.StartsAt = startsAt
	row.Duration = duration
	return nil
}
