package session

import (
	"time"

	"github.com/trezcool/darasa/core"
)

// NewServiceMock returns a Service whose clock is controlled by the caller.
func NewServiceMock(
	repo Repository,
	events EventRepository,
	rooms RoomService,
	mirror TimetableMirror,
	resolver StakeholderResolver,
	notifier core.Notifier,
	logger core.Logger,
	now func() time.Time,
) *Service {
	svc := NewService(repo, events, rooms, mirror, resolver, notifier, logger)
	if now != nil {
		svc.nowFunc = now
	}
	return svc
}
