package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("session not found")
	ErrEventNotFound     = errors.New("session event not found")
	ErrNotAllowed        = core.NewPermissionError("role not permitted to perform this operation")
	ErrInvalidTransition = core.NewConflictError("session status does not allow this transition")
	ErrApprovalRequired  = core.NewConflictError("ending this session early requires approval")
	ErrEndRequestPending = core.NewConflictError("an end request is already pending for this session")
	ErrNoPendingRequest  = errors.New("no pending end request for this session")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		QuerySessions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Session, error)
		// TransitionStatus updates the status iff the current value still is
		// `from` — a single conditional write; reports whether this call won.
		TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)
		// UpdateSchedule rewrites the scheduled slot and re-activates the session.
		UpdateSchedule(ctx context.Context, id string, startsAt time.Time, duration int) (Session, error)
		// ClaimPendingEndRequest sets the pending pointer iff it is currently
		// unset; reports whether this call won the claim.
		ClaimPendingEndRequest(ctx context.Context, id, requestID string) (bool, error)
		// ClearPendingEndRequest clears the pointer iff it still holds
		// `requestID`; reports whether this call performed the clear.
		ClearPendingEndRequest(ctx context.Context, id, requestID string) (bool, error)
	}

	// RoomService is the control surface of the realtime video transport.
	// Calls are best-effort: failures are logged by callers, never surfaced.
	RoomService interface {
		EndRoom(ctx context.Context, roomName string) error
	}

	// TimetableMirror keeps the secondary scheduling record opportunistically
	// in sync; it is a cache, not a source of truth.
	TimetableMirror interface {
		SyncStatus(ctx context.Context, sessionID string, status Status) error
		SyncSchedule(ctx context.Context, sessionID string, startsAt time.Time, duration int) error
	}

	// StakeholderResolver resolves every (identity, role) pair with a
	// legitimate interest in a session's events.
	StakeholderResolver interface {
		Stakeholders(ctx context.Context, sess Session) ([]core.Recipient, error)
	}

	Service struct {
		repo     Repository
		events   EventRepository
		rooms    RoomService
		mirror   TimetableMirror
		resolver StakeholderResolver
		notifier core.Notifier
		logger   core.Logger

		nowFunc func() time.Time // mockable
	}

	// RequestEndResult reports how an end request was resolved: ended on the
	// spot (session past its scheduled end, or forced) or recorded as a
	// pending approval case.
	RequestEndResult struct {
		Ended     bool   `json:"ended"`
		RequestID string `json:"request_id,omitempty"`
	}
)

func NewService(
	repo Repository,
	events EventRepository,
	rooms RoomService,
	mirror TimetableMirror,
	resolver StakeholderResolver,
	notifier core.Notifier,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		events:   events,
		rooms:    rooms,
		mirror:   mirror,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		nowFunc:  core.NowUTC,
	}
}

func (svc *Service) Create(ctx context.Context, ns NewSession, actor user.User) (Session, error) {
	if !(actor.IsAdmin() || actor.IsCoordinator()) {
		return Session{}, ErrNotAllowed
	}
	now := svc.nowFunc()
	sess := Session{
		Name:          ns.Name,
		Status:        StatusScheduled,
		StartsAt:      ns.StartsAt.UTC(),
		Duration:      ns.Duration,
		TeacherID:     ns.TeacherID,
		CoordinatorID: ns.CoordinatorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return svc.repo.CreateSession(ctx, sess)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSession(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Session, error) {
	return svc.repo.QuerySessions(ctx, filter, []core.DBOrdering{{Field: "starts_at", Ascending: true}})
}

func (svc *Service) Events(ctx context.Context, sessionID string) ([]Event, error) {
	return svc.events.QueryEvents(ctx, sessionID)
}

// GoLive transitions a scheduled session to live. Under concurrent callers
// exactly one performs the transition and appends the room_started event;
// every caller observes success — "already live" is not an error.
func (svc *Service) GoLive(ctx context.Context, id string, actor user.User) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !svc.canDriveSession(sess, actor) {
		return Session{}, ErrNotAllowed
	}

	switch sess.Status {
	case StatusLive:
		return sess, nil // idempotent
	case StatusScheduled:
	default:
		return Session{}, ErrInvalidTransition
	}

	won, err := svc.repo.TransitionStatus(ctx, id, StatusScheduled, StatusLive)
	if err != nil {
		return Session{}, errors.Wrap(err, "transitioning to live")
	}
	if !won {
		// lost the race; whoever won already appended the event
		if sess, err = svc.repo.GetSession(ctx, id); err != nil {
			return Session{}, err
		}
		if sess.Status != StatusLive {
			return Session{}, ErrInvalidTransition
		}
		return sess, nil
	}
	sess.Status = StatusLive

	svc.appendEvent(ctx, sess.ID, EventRoomStarted, actor.ID, nil)
	svc.notifyStakeholders(ctx, sess, core.NotifSessionLive, "Class is live", nil)
	return sess, nil
}

// RequestEnd is the single teacher-facing entry to ending a session.
// Past the scheduled end (or with force set) the session is ended on the
// spot; before it, an approval request is recorded instead. force is a
// deliberate, client-timed escape hatch for unresolved requests — the
// server enforces no timeout of its own.
func (svc *Service) RequestEnd(ctx context.Context, id string, actor user.User, reason string, force bool) (RequestEndResult, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return RequestEndResult{}, err
	}
	if !svc.canDriveSession(sess, actor) {
		return RequestEndResult{}, ErrNotAllowed
	}
	if sess.Status != StatusLive {
		return RequestEndResult{}, ErrInvalidTransition
	}

	if !sess.IsEarly(svc.nowFunc()) {
		if err = svc.endSession(ctx, sess, actor, EventRoomEnded, nil); err != nil {
			return RequestEndResult{}, err
		}
		return RequestEndResult{Ended: true}, nil
	}
	if force {
		if err = svc.endSession(ctx, sess, actor, EventRoomEndedForced, map[string]interface{}{"reason": reason}); err != nil {
			return RequestEndResult{}, err
		}
		return RequestEndResult{Ended: true}, nil
	}

	requestID := newID()
	claimed, err := svc.repo.ClaimPendingEndRequest(ctx, id, requestID)
	if err != nil {
		return RequestEndResult{}, errors.Wrap(err, "claiming pending end request")
	}
	if !claimed {
		return RequestEndResult{}, ErrEndRequestPending
	}

	svc.appendEvent(ctx, sess.ID, EventEndRequested, actor.ID, map[string]interface{}{
		"request_id": requestID,
		"reason":     reason,
	})
	svc.notify(sess, core.NotifEndRequested, "Early end requested",
		[]core.Recipient{{UserID: sess.CoordinatorID, Role: user.RoleStaffCoordinator}},
		map[string]interface{}{"reason": reason, "requested_by": actor.ID})
	return RequestEndResult{RequestID: requestID}, nil
}

// DecideEndRequest resolves the pending early-end request. Only admin-class
// roles may decide. Approval performs the same effects as a normal end, with
// the approval event distinguishing it in the audit trail.
func (svc *Service) DecideEndRequest(ctx context.Context, id string, approver user.User, approve bool, reason string) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !approver.IsAdmin() {
		return Session{}, ErrNotAllowed
	}
	if sess.PendingEndRequestID == nil {
		return Session{}, ErrNoPendingRequest
	}
	requestID := *sess.PendingEndRequestID

	// conditional clear so concurrent deciders cannot both resolve it
	cleared, err := svc.repo.ClearPendingEndRequest(ctx, id, requestID)
	if err != nil {
		return Session{}, errors.Wrap(err, "clearing pending end request")
	}
	if !cleared {
		return Session{}, ErrNoPendingRequest
	}
	sess.PendingEndRequestID = nil

	evType := EventEndDenied
	if approve {
		evType = EventEndApproved
	}
	svc.appendEvent(ctx, sess.ID, evType, approver.ID, map[string]interface{}{
		"request_id": requestID,
		"reason":     reason,
	})

	if approve {
		if err = svc.endSession(ctx, sess, approver, EventRoomEnded, map[string]interface{}{"approved_request_id": requestID}); err != nil {
			return Session{}, err
		}
		sess.Status = StatusEnded
	}

	svc.notify(sess, core.NotifEndDecided, "Early end request decided",
		[]core.Recipient{{UserID: sess.TeacherID, Role: user.RoleTeacher}},
		map[string]interface{}{"approved": approve, "reason": reason, "decided_by": approver.ID})
	return sess, nil
}

// EndRequestState derives the polled request state from the pending pointer
// and the latest decision events.
func (svc *Service) EndRequestState(ctx context.Context, id string) (EndRequestState, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return EndRequestState{}, err
	}

	if sess.PendingEndRequestID != nil {
		state := EndRequestState{Status: EndRequestPending, RequestID: *sess.PendingEndRequestID}
		if ev, err := svc.events.LatestEvent(ctx, id, EventEndRequested); err == nil {
			state.RequestedBy = ev.ActorID
			state.RequestedAt = &ev.CreatedAt
			state.Reason = payloadString(ev.Payload, "reason")
		}
		return state, nil
	}

	ev, err := svc.events.LatestEvent(ctx, id, EventEndApproved, EventEndDenied)
	if err != nil {
		if errors.Cause(err) == ErrEventNotFound {
			return EndRequestState{Status: EndRequestNone}, nil
		}
		return EndRequestState{}, err
	}
	state := EndRequestState{
		RequestID: payloadString(ev.Payload, "request_id"),
		Reason:    payloadString(ev.Payload, "reason"),
		DecidedBy: ev.ActorID,
		DecidedAt: &ev.CreatedAt,
	}
	if ev.Type == EventEndApproved {
		state.Status = EndRequestApproved
	} else {
		state.Status = EndRequestDenied
	}
	return state, nil
}

// Cancel moves a session to cancelled. It is a sub-step of the cancellation
// workflows and never exposed to end users directly.
func (svc *Service) Cancel(ctx context.Context, id string, actor user.User) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status != StatusScheduled && sess.Status != StatusLive {
		return Session{}, ErrInvalidTransition
	}
	wasLive := sess.Status == StatusLive

	won, err := svc.repo.TransitionStatus(ctx, id, sess.Status, StatusCancelled)
	if err != nil {
		return Session{}, errors.Wrap(err, "transitioning to cancelled")
	}
	if !won {
		if sess, err = svc.repo.GetSession(ctx, id); err != nil {
			return Session{}, err
		}
		if sess.Status != StatusCancelled {
			return Session{}, ErrInvalidTransition
		}
		return sess, nil
	}
	sess.Status = StatusCancelled

	svc.appendEvent(ctx, sess.ID, EventSessionCancelled, actor.ID, nil)
	if wasLive && sess.RoomName != "" {
		if err := svc.rooms.EndRoom(ctx, sess.RoomName); err != nil {
			svc.logger.Error(fmt.Sprintf("ending room %q: %v", sess.RoomName, err), err)
		}
	}
	if err := svc.mirror.SyncStatus(ctx, sess.ID, StatusCancelled); err != nil {
		svc.logger.Error(fmt.Sprintf("syncing timetable mirror for session %s: %v", sess.ID, err), err)
	}
	svc.notifyStakeholders(ctx, sess, core.NotifSessionCancelled, "Class cancelled", nil)
	return sess, nil
}

// Reschedule rewrites the scheduled slot and re-activates the session.
// It is a sub-step of the change-request workflow.
func (svc *Service) Reschedule(ctx context.Context, id string, startsAt time.Time, duration int, actor user.User) (Session, error) {
	sess, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.Status == StatusLive || sess.Status == StatusEnded {
		return Session{}, ErrInvalidTransition
	}

	sess, err = svc.repo.UpdateSchedule(ctx, id, startsAt.UTC(), duration)
	if err != nil {
		return Session{}, errors.Wrap(err, "updating schedule")
	}

	svc.appendEvent(ctx, sess.ID, EventSessionRescheduled, actor.ID, map[string]interface{}{
		"starts_at": startsAt.UTC().Format(time.RFC3339),
		"duration":  duration,
	})
	if err := svc.mirror.SyncSchedule(ctx, sess.ID, sess.StartsAt, sess.Duration); err != nil {
		svc.logger.Error(fmt.Sprintf("syncing timetable mirror for session %s: %v", sess.ID, err), err)
	}
	svc.notifyStakeholders(ctx, sess, core.NotifSessionRescheduled, "Class rescheduled", map[string]interface{}{
		"starts_at": sess.StartsAt.Format(time.RFC3339),
	})
	return sess, nil
}

// AppendWorkflowEvent lets sibling workflow services write their audit events
// through the same ledger.
func (svc *Service) AppendWorkflowEvent(ctx context.Context, sessionID, evType, actorID string, payload map[string]interface{}) {
	svc.appendEvent(ctx, sessionID, evType, actorID, payload)
}

// NotifyStakeholders fans a notification out to every resolved stakeholder.
func (svc *Service) NotifyStakeholders(ctx context.Context, sess Session, kind, subject string, payload map[string]interface{}) {
	svc.notifyStakeholders(ctx, sess, kind, subject, payload)
}

// endSession performs the authoritative live→ended write, then the
// best-effort side effects: room teardown, mirror sync, notifications.
// Side-effect failures are logged; they never roll back the status change.
func (svc *Service) endSession(ctx context.Context, sess Session, actor user.User, evType string, payload map[string]interface{}) error {
	won, err := svc.repo.TransitionStatus(ctx, sess.ID, StatusLive, StatusEnded)
	if err != nil {
		return errors.Wrap(err, "transitioning to ended")
	}
	if !won {
		cur, err := svc.repo.GetSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		if cur.Status != StatusEnded {
			return ErrInvalidTransition
		}
		return nil // somebody else already ended it
	}
	sess.Status = StatusEnded

	svc.appendEvent(ctx, sess.ID, evType, actor.ID, payload)
	if sess.RoomName != "" {
		if err := svc.rooms.EndRoom(ctx, sess.RoomName); err != nil {
			svc.logger.Error(fmt.Sprintf("ending room %q: %v", sess.RoomName, err), err)
		}
	}
	if err := svc.mirror.SyncStatus(ctx, sess.ID, StatusEnded); err != nil {
		svc.logger.Error(fmt.Sprintf("syncing timetable mirror for session %s: %v", sess.ID, err), err)
	}
	svc.notifyStakeholders(ctx, sess, core.NotifSessionEnded, "Class ended", nil)
	return nil
}

// canDriveSession: assigned teacher or admin-class role.
func (svc *Service) canDriveSession(sess Session, actor user.User) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.IsTeacher() && actor.ID == sess.TeacherID
}

func (svc *Service) appendEvent(ctx context.Context, sessionID, evType, actorID string, payload map[string]interface{}) {
	ev := Event{
		SessionID: sessionID,
		Type:      evType,
		ActorID:   actorID,
		Payload:   payload,
		CreatedAt: svc.nowFunc(),
	}
	if _, err := svc.events.AppendEvent(ctx, ev); err != nil {
		svc.logger.Error(fmt.Sprintf("appending %s event for session %s: %v", evType, sessionID, err), err)
	}
}

func (svc *Service) notifyStakeholders(ctx context.Context, sess Session, kind, subject string, payload map[string]interface{}) {
	recipients, err := svc.resolver.Stakeholders(ctx, sess)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("resolving stakeholders for session %s: %v", sess.ID, err), err)
		return
	}
	svc.notify(sess, kind, subject, recipients, payload)
}

func (svc *Service) notify(sess Session, kind, subject string, recipients []core.Recipient, payload map[string]interface{}) {
	if len(recipients) == 0 {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["session_name"] = sess.Name
	svc.notifier.Notify(core.Notification{
		Kind:       kind,
		SessionID:  sess.ID,
		Subject:    subject,
		Recipients: recipients,
		Payload:    payload,
		CreatedAt:  svc.nowFunc(),
	})
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
