package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/cancellation"
)

type cancellationRepository struct {
	db *cancelTable
}

var _ cancellation.Repository = (*cancellationRepository)(nil) // interface compliance check

func NewCancellationRepository(db *DB) cancellation.Repository {
	return &cancellationRepository{db: db.cancel}
}

func (repo *cancellationRepository) CreateRequest(_ context.Context, req cancellation.Request) (cancellation.Request, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	req.ID = newID()
	repo.db.table[req.ID] = &req
	return req, nil
}

func (repo *cancellationRepository) GetRequest(_ context.Context, id string) (cancellation.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if req, ok := repo.db.table[id]; ok {
		return *req, nil
	}
	return cancellation.Request{}, cancellation.ErrNotFound
}

func (repo *cancellationRepository) QueryRequests(_ context.Context, filter *cancellation.QueryFilter, _ []core.DBOrdering) ([]cancellation.Request, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reqs := make([]cancellation.Request, 0, len(repo.db.table))
	for _, req := range repo.db.table {
		if filter != nil {
			if filter.SessionID != "" && req.SessionID != filter.SessionID {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
			if filter.Type != "" && req.Type != filter.Type {
				continue
			}
		}
		reqs = append(reqs, *req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

func (repo *cancellationRepository) UpdateRequest(_ context.Context, req cancellation.Request, from cancellation.Status) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[req.ID]
	if !ok {
		return false, cancellation.ErrNotFound
	}
	if orig.Status != from {
		return false, nil
	}
	repo.db.table[req.ID] = &req
	return true, nil
}

type changeRepository struct {
	db *changeTable
}

var _ cancellation.ChangeRepository = (*changeRepository)(nil) // interface compliance check

func NewChangeRepository(db *DB) cancellation.ChangeRepository {
	return &changeRepository{db: db.change}
}

func (repo *changeRepository) CreateChangeRequest(_ context.Context, req cancellation.ChangeRequest) (cancellation.ChangeRequest, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	req.ID = newID()
	repo.db.table[req.ID] = &req
	return req, nil
}

func (repo *changeRepository) GetChangeRequest(_ context.Context, id string) (cancellation.ChangeRequest, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if req, ok := repo.db.table[id]; ok {
		return *req, nil
	}
	return cancellation.ChangeRequest{}, cancellation.ErrNotFound
}

func (repo *changeRepository) QueryChangeRequests(_ context.Context, filter *cancellation.ChangeQueryFilter, _ []core.DBOrdering) ([]cancellation.ChangeRequest, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	reqs := make([]cancellation.ChangeRequest, 0, len(repo.db.table))
	for _, req := range repo.db.table {
		if filter != nil {
			if filter.SessionID != "" && req.SessionID != filter.SessionID {
				continue
			}
			if filter.Status != "" && req.Status != filter.Status {
				continue
			}
			if filter.Kind != "" && req.Kind != filter.Kind {
				continue
			}
		}
		reqs = append(reqs, *req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

func (repo *changeRepository) UpdateChangeRequest(_ context.Context, req cancellation.ChangeRequest, from cancellation.ChangeStatus) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[req.ID]
	if !ok {
		return false, cancellation.ErrNotFound
	}
	if orig.Status != from {
		return false, nil
	}
	repo.db.table[req.ID] = &req
	return true, nil
}
