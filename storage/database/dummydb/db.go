package dummydb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/cancellation"
	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

type (
	DB struct {
		user        *userTable
		session     *sessionTable
		event       *eventTable
		cancel      *cancelTable
		change      *changeTable
		attendance  *attendanceTable
		roster      *rosterTable
		timetable   *timetableTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}
	sessionTable struct {
		sync.RWMutex
		table map[string]*session.Session
	}
	eventTable struct {
		sync.RWMutex
		rows []session.Event
	}
	cancelTable struct {
		sync.RWMutex
		table map[string]*cancellation.Request
	}
	changeTable struct {
		sync.RWMutex
		table map[string]*cancellation.ChangeRequest
	}
	attendanceTable struct {
		sync.RWMutex
		summaries map[string]*attendance.Summary // key: sessionID+"/"+participantID
		entries   []attendance.Entry
	}
	rosterTable struct {
		sync.RWMutex
		enrollments []roster.Enrollment
		guardians   []roster.GuardianLink
	}
	timetableTable struct {
		sync.RWMutex
		rows map[string]*timetableRow
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		session:    &sessionTable{table: make(map[string]*session.Session)},
		event:      &eventTable{},
		cancel:     &cancelTable{table: make(map[string]*cancellation.Request)},
		change:     &changeTable{table: make(map[string]*cancellation.ChangeRequest)},
		attendance: &attendanceTable{summaries: make(map[string]*attendance.Summary)},
		roster:     &rosterTable{},
		timetable:  &timetableTable{rows: make(map[string]*timetableRow)},
	}
	return db, nil
}

func newID() string { return uuid.New().String() }
