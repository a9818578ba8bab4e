// Package videosvc is the control client for the realtime video transport.
// The core only ever asks it to tear a room down; calls are best-effort by
// contract and callers log failures instead of surfacing them.
package videosvc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

type service struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  core.Logger
}

func NewService(conf *core.Config, logger core.Logger) *service {
	return &service{
		baseURL: conf.VideoService.BaseURL,
		apiKey:  conf.VideoService.APIKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (svc *service) EndRoom(ctx context.Context, roomName string) error {
	u := fmt.Sprintf("%s/rooms/%s", svc.baseURL, url.PathEscape(roomName))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return errors.Wrap(err, "building room delete request")
	}
	req.Header.Set("Authorization", "Bearer "+svc.apiKey)

	res, err := svc.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "deleting room")
	}
	defer func() { _ = res.Body.Close() }()

	// 404 counts as success: the room is gone either way
	if res.StatusCode >= http.StatusBadRequest && res.StatusCode != http.StatusNotFound {
		return errors.Errorf("deleting room %s: status %d", roomName, res.StatusCode)
	}
	return nil
}

// dummyService is used in dev and tests where no video backend runs.
type dummyService struct{}

func NewDummyService() dummyService { return dummyService{} }

func (dummyService) EndRoom(context.Context, string) error { return nil }
