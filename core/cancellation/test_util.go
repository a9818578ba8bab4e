package cancellation

import (
	"time"

	"github.com/trezcool/darasa/core"
)

// NewServiceMock returns a Service whose clock is controlled by the caller.
func NewServiceMock(repo Repository, sessions SessionWorkflow, logger core.Logger, now func() time.Time) *Service {
	svc := NewService(repo, sessions, logger)
	if now != nil {
		svc.nowFunc = now
	}
	return svc
}

// NewChangeServiceMock returns a ChangeService whose clock is controlled by the caller.
func NewChangeServiceMock(repo ChangeRepository, sessions ChangeSessionWorkflow, logger core.Logger, now func() time.Time) *ChangeService {
	svc := NewChangeService(repo, sessions, logger)
	if now != nil {
		svc.nowFunc = now
	}
	return svc
}
