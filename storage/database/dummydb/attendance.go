package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core/attendance"
)

type attendanceRepository struct {
	db *attendanceTable
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

func summaryKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}

func (repo *attendanceRepository) GetSummary(_ context.Context, sessionID, participantID string) (attendance.Summary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sum, ok := repo.db.summaries[summaryKey(sessionID, participantID)]; ok {
		return *sum, nil
	}
	return attendance.Summary{}, attendance.ErrNotFound
}

func (repo *attendanceRepository) CreateSummary(_ context.Context, s attendance.Summary) (attendance.Summary, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = newID()
	repo.db.summaries[summaryKey(s.SessionID, s.ParticipantID)] = &s
	return s, nil
}

func (repo *attendanceRepository) UpdateSummary(_ context.Context, s attendance.Summary) (attendance.Summary, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := summaryKey(s.SessionID, s.ParticipantID)
	if _, ok := repo.db.summaries[key]; !ok {
		return attendance.Summary{}, attendance.ErrNotFound
	}
	repo.db.summaries[key] = &s
	return s, nil
}

func (repo *attendanceRepository) InsertSummaryIfAbsent(_ context.Context, s attendance.Summary) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := summaryKey(s.SessionID, s.ParticipantID)
	if _, ok := repo.db.summaries[key]; ok {
		return false, nil
	}
	s.ID = newID()
	repo.db.summaries[key] = &s
	return true, nil
}

func (repo *attendanceRepository) QuerySummaries(_ context.Context, sessionID string) ([]attendance.Summary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var sums []attendance.Summary
	for _, sum := range repo.db.summaries {
		if sum.SessionID == sessionID {
			sums = append(sums, *sum)
		}
	}
	sort.Slice(sums, func(i, j int) bool { return sums[i].ParticipantID < sums[j].ParticipantID })
	return sums, nil
}

func (repo *attendanceRepository) AppendEntry(_ context.Context, e attendance.Entry) (attendance.Entry, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	e.ID = newID()
	repo.db.entries = append(repo.db.entries, e)
	return e, nil
}

func (repo *attendanceRepository) QueryEntries(_ context.Context, sessionID, participantID string, kinds ...string) ([]attendance.Entry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var entries []attendance.Entry
	for _, e := range repo.db.entries {
		if e.SessionID != sessionID || e.ParticipantID != participantID {
			continue
		}
		if len(kinds) > 0 && !containsStr(kinds, e.Kind) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (repo *attendanceRepository) LatestEntry(_ context.Context, sessionID, participantID string, kinds ...string) (attendance.Entry, error) {
	entries, err := repo.QueryEntries(context.Background(), sessionID, participantID, kinds...)
	if err != nil {
		return attendance.Entry{}, err
	}
	if len(entries) == 0 {
		return attendance.Entry{}, attendance.ErrNotFound
	}
	return entries[len(entries)-1], nil
}
