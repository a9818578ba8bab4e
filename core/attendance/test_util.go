package attendance

import (
	"time"

	"github.com/trezcool/darasa/core"
)

// NewServiceMock returns a Service whose clock is controlled by the caller.
func NewServiceMock(repo Repository, roster EnrollmentSource, logger core.Logger, now func() time.Time) *Service {
	svc := NewService(repo, roster, logger)
	if now != nil {
		svc.nowFunc = now
	}
	return svc
}
