package notifsvc

import (
	"fmt"

	"github.com/trezcool/darasa/core"
)

// consoleService logs notifications instead of publishing them; used in dev
// and tests, and as the fallback when no broker is configured.
type consoleService struct {
	logger core.Logger
}

var _ core.Notifier = (*consoleService)(nil)

func NewConsoleService(logger core.Logger) *consoleService {
	return &consoleService{logger: logger}
}

func (svc *consoleService) Notify(n core.Notification) {
	svc.logger.Info(fmt.Sprintf("notification %s for session %s to %d recipient(s): %s",
		n.Kind, n.SessionID, len(n.Recipients), n.Subject))
}
