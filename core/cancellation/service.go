package cancellation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("cancellation request not found")
	ErrNotAllowed       = core.NewPermissionError("role not permitted to act at this level")
	ErrAlreadyFinalized = core.NewConflictError("cancellation request is already finalized")
	ErrRequestPending   = core.NewConflictError("a cancellation request is already pending for this session")
	ErrWrongStage       = core.NewConflictError("cancellation request is not at a stage this action applies to")
)

type (
	Repository interface {
		CreateRequest(ctx context.Context, req Request) (Request, error)
		GetRequest(ctx context.Context, id string) (Request, error)
		QueryRequests(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Request, error)
		// UpdateRequest persists the new request state iff the stored status
		// still equals `from`; reports whether this call won the write.
		UpdateRequest(ctx context.Context, req Request, from Status) (bool, error)
	}

	// SessionWorkflow is the slice of the session service the chains drive on
	// terminal approval.
	SessionWorkflow interface {
		GetByID(ctx context.Context, id string) (session.Session, error)
		Cancel(ctx context.Context, id string, actor user.User) (session.Session, error)
		AppendWorkflowEvent(ctx context.Context, sessionID, evType, actorID string, payload map[string]interface{})
		NotifyStakeholders(ctx context.Context, sess session.Session, kind, subject string, payload map[string]interface{})
	}

	Service struct {
		repo     Repository
		sessions SessionWorkflow
		logger   core.Logger

		nowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, sessions SessionWorkflow, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		logger:   logger,
		nowFunc:  core.NowUTC,
	}
}

// Submit opens a new request in "pending". Submitter role must match the
// request type; a session can only carry one unfinalized request at a time.
func (svc *Service) Submit(ctx context.Context, nr NewRequest, actor user.User) (Request, error) {
	if !actor.HasAnyRole(submitterRoles[nr.Type]...) {
		return Request{}, ErrNotAllowed
	}
	sess, err := svc.sessions.GetByID(ctx, nr.SessionID)
	if err != nil {
		return Request{}, err
	}
	if sess.Status != session.StatusScheduled && sess.Status != session.StatusLive {
		return Request{}, core.NewConflictError("session can no longer be cancelled")
	}

	// pre-write existence check; duplicates are a nuisance, not a hazard,
	// since decisions are idempotent per request id
	pending, err := svc.repo.QueryRequests(ctx, &QueryFilter{SessionID: nr.SessionID}, nil)
	if err != nil {
		return Request{}, errors.Wrap(err, "querying pending requests")
	}
	for _, req := range pending {
		if !req.Status.IsFinal() {
			return Request{}, ErrRequestPending
		}
	}

	now := svc.nowFunc()
	req := Request{
		SessionID:     nr.SessionID,
		RequesterID:   actor.ID,
		RequesterRole: primaryRole(actor),
		Type:          nr.Type,
		Status:        StatusPending,
		Reason:        nr.Reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req, err = svc.repo.CreateRequest(ctx, req); err != nil {
		return Request{}, err
	}

	svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, session.EventCancellationRequested, actor.ID, map[string]interface{}{
		"request_id":        req.ID,
		"cancellation_type": string(req.Type),
		"reason":            req.Reason,
	})
	svc.sessions.NotifyStakeholders(ctx, sess, core.NotifCancelRequested, "Cancellation requested", map[string]interface{}{
		"request_id": req.ID,
		"reason":     req.Reason,
	})
	return req, nil
}

// Advance applies one approver decision. Which roles may act, where the
// decision lands and what comes next are read off the request type's chain;
// there is no per-type branching here.
func (svc *Service) Advance(ctx context.Context, d Decide, approver user.User) (Request, error) {
	req, err := svc.repo.GetRequest(ctx, d.RequestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status.IsFinal() {
		return Request{}, ErrAlreadyFinalized
	}

	lvl, ok := chains[req.Type][req.Status]
	if !ok {
		return Request{}, ErrWrongStage
	}
	if !approver.HasAnyRole(lvl.allowedRoles...) {
		return Request{}, ErrNotAllowed
	}

	from := req.Status
	now := svc.nowFunc()
	decision := Decision{ApproverID: approver.ID, DecidedAt: &now}
	if d.Approve {
		decision.Decision = DecisionApproved
		req.Status = lvl.next
	} else {
		decision.Decision = DecisionRejected
		req.Status = StatusRejected
		req.RejectionReason = d.Reason
		req.RejectedLevel = lvl.name
	}
	lvl.record(&req, decision)
	req.UpdatedAt = now

	won, err := svc.repo.UpdateRequest(ctx, req, from)
	if err != nil {
		return Request{}, errors.Wrap(err, "updating request")
	}
	if !won {
		// another approver got here first
		return Request{}, ErrAlreadyFinalized
	}

	switch req.Status {
	case StatusApproved:
		svc.finalizeApproval(ctx, req, approver)
	case StatusRejected:
		svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, session.EventCancellationRejected, approver.ID, map[string]interface{}{
			"request_id": req.ID,
			"level":      lvl.name,
			"reason":     d.Reason,
		})
		svc.notifyDecision(ctx, req, false)
	}
	return req, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Request, error) {
	return svc.repo.GetRequest(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Request, error) {
	return svc.repo.QueryRequests(ctx, filter, []core.DBOrdering{{Field: "created_at", Ascending: true}})
}

// finalizeApproval cancels the session and records the single
// cancellation_approved audit event.
func (svc *Service) finalizeApproval(ctx context.Context, req Request, approver user.User) {
	if _, err := svc.sessions.Cancel(ctx, req.SessionID, approver); err != nil {
		// request stands approved; the session write is retried by ops
		svc.logger.Error("cancelling session "+req.SessionID+" for approved request "+req.ID, err)
	}
	svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, session.EventCancellationApproved, approver.ID, map[string]interface{}{
		"request_id":        req.ID,
		"cancellation_type": string(req.Type),
	})
	svc.notifyDecision(ctx, req, true)
}

func (svc *Service) notifyDecision(ctx context.Context, req Request, approved bool) {
	sess, err := svc.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		svc.logger.Error("loading session "+req.SessionID+" for notification", err)
		return
	}
	subject := "Cancellation request rejected"
	if approved {
		subject = "Cancellation request approved"
	}
	svc.sessions.NotifyStakeholders(ctx, sess, core.NotifCancelDecided, subject, map[string]interface{}{
		"request_id": req.ID,
		"approved":   approved,
	})
}
