package dummydb

import (
	"context"

	"github.com/trezcool/darasa/core/roster"
)

type rosterRepository struct {
	db *rosterTable
}

var _ roster.Repository = (*rosterRepository)(nil) // interface compliance check

func NewRosterRepository(db *DB) roster.Repository {
	return &rosterRepository{db: db.roster}
}

func (repo *rosterRepository) CreateEnrollment(_ context.Context, e roster.Enrollment) (roster.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	e.ID = newID()
	repo.db.enrollments = append(repo.db.enrollments, e)
	return e, nil
}

func (repo *rosterRepository) QueryEnrollments(_ context.Context, sessionID string) ([]roster.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrollments []roster.Enrollment
	for _, e := range repo.db.enrollments {
		if e.SessionID == sessionID {
			enrollments = append(enrollments, e)
		}
	}
	return enrollments, nil
}

func (repo *rosterRepository) DeleteEnrollment(_ context.Context, sessionID, studentID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for i, e := range repo.db.enrollments {
		if e.SessionID == sessionID && e.StudentID == studentID {
			repo.db.enrollments = append(repo.db.enrollments[:i], repo.db.enrollments[i+1:]...)
			return nil
		}
	}
	return roster.ErrNotFound
}

func (repo *rosterRepository) CreateGuardianLink(_ context.Context, gl roster.GuardianLink) (roster.GuardianLink, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	gl.ID = newID()
	repo.db.guardians = append(repo.db.guardians, gl)
	return gl, nil
}

func (repo *rosterRepository) QueryGuardians(_ context.Context, studentIDs []string) ([]roster.GuardianLink, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var links []roster.GuardianLink
	for _, gl := range repo.db.guardians {
		if containsStr(studentIDs, gl.StudentID) {
			links = append(links, gl)
		}
	}
	return links, nil
}
