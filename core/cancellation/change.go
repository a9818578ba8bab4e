package cancellation

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

// The change-request flow is the quick path next to the approval chains: one
// academic-operator decision instead of role-gated levels. Students and
// parents ask for a reschedule or a cancel; an academic staffer decides.

type ChangeKind string

const (
	ChangeReschedule ChangeKind = "reschedule"
	ChangeCancel     ChangeKind = "cancel"
)

type ChangeStatus string

const (
	ChangePending   ChangeStatus = "pending"
	ChangeApproved  ChangeStatus = "approved"
	ChangeRejected  ChangeStatus = "rejected"
	ChangeWithdrawn ChangeStatus = "withdrawn"
)

func (s ChangeStatus) IsFinal() bool { return s != ChangePending }

// ChangeRequest is a single-step reschedule-or-cancel ask on a session.
type ChangeRequest struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id"`
	RequesterID   string       `json:"requester_id"`
	RequesterRole string       `json:"requester_role"`
	Kind          ChangeKind   `json:"kind"`
	Status        ChangeStatus `json:"status"`
	Reason        string       `json:"reason"`

	// reschedule proposal; unset for cancel asks
	ProposedStartsAt *time.Time `json:"proposed_starts_at,omitempty"`
	ProposedDuration int        `json:"proposed_duration,omitempty"`

	DecidedBy      string     `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type NewChangeRequest struct {
	SessionID        string     `json:"session_id" validate:"required"`
	Kind             ChangeKind `json:"kind" validate:"required,oneof=reschedule cancel"`
	Reason           string     `json:"reason" validate:"required"`
	ProposedStartsAt *time.Time `json:"proposed_starts_at,omitempty"`
	ProposedDuration int        `json:"proposed_duration,omitempty"`
}

func (ncr *NewChangeRequest) Validate(validate *validator.Validate) error {
	ncr.Reason = core.CleanString(ncr.Reason)
	if err := validate.Struct(ncr); err != nil {
		return err
	}
	if ncr.Kind == ChangeReschedule {
		if ncr.ProposedStartsAt == nil || ncr.ProposedStartsAt.IsZero() {
			return core.NewValidationError(nil, core.FieldError{Field: "proposed_starts_at", Error: "required for a reschedule"})
		}
		if ncr.ProposedDuration <= 0 {
			return core.NewValidationError(nil, core.FieldError{Field: "proposed_duration", Error: "must be greater than 0"})
		}
	}
	return nil
}

type ChangeQueryFilter struct {
	SessionID string       `query:"session_id"`
	Status    ChangeStatus `query:"status"`
	Kind      ChangeKind   `query:"kind"`
}

func (qf *ChangeQueryFilter) IsEmpty() bool {
	return qf.SessionID == "" && qf.Status == "" && qf.Kind == ""
}

type (
	ChangeRepository interface {
		CreateChangeRequest(ctx context.Context, req ChangeRequest) (ChangeRequest, error)
		GetChangeRequest(ctx context.Context, id string) (ChangeRequest, error)
		QueryChangeRequests(ctx context.Context, filter *ChangeQueryFilter, ordering []core.DBOrdering) ([]ChangeRequest, error)
		// UpdateChangeRequest persists the new state iff the stored status
		// still equals `from`; reports whether this call won the write.
		UpdateChangeRequest(ctx context.Context, req ChangeRequest, from ChangeStatus) (bool, error)
	}

	// ChangeSessionWorkflow adds Reschedule to the session slice the chains use.
	ChangeSessionWorkflow interface {
		SessionWorkflow
		Reschedule(ctx context.Context, id string, startsAt time.Time, duration int, actor user.User) (session.Session, error)
	}

	ChangeService struct {
		repo     ChangeRepository
		sessions ChangeSessionWorkflow
		logger   core.Logger

		nowFunc func() time.Time // mockable
	}
)

func NewChangeService(repo ChangeRepository, sessions ChangeSessionWorkflow, logger core.Logger) *ChangeService {
	return &ChangeService{
		repo:     repo,
		sessions: sessions,
		logger:   logger,
		nowFunc:  core.NowUTC,
	}
}

func (svc *ChangeService) Submit(ctx context.Context, ncr NewChangeRequest, actor user.User) (ChangeRequest, error) {
	if !actor.IsStudent() && !actor.IsParent() {
		return ChangeRequest{}, ErrNotAllowed
	}
	if _, err := svc.sessions.GetByID(ctx, ncr.SessionID); err != nil {
		return ChangeRequest{}, err
	}

	pending, err := svc.repo.QueryChangeRequests(ctx, &ChangeQueryFilter{SessionID: ncr.SessionID, Status: ChangePending}, nil)
	if err != nil {
		return ChangeRequest{}, errors.Wrap(err, "querying pending change requests")
	}
	if len(pending) > 0 {
		return ChangeRequest{}, ErrRequestPending
	}

	now := svc.nowFunc()
	req := ChangeRequest{
		SessionID:        ncr.SessionID,
		RequesterID:      actor.ID,
		RequesterRole:    primaryRole(actor),
		Kind:             ncr.Kind,
		Status:           ChangePending,
		Reason:           ncr.Reason,
		ProposedStartsAt: ncr.ProposedStartsAt,
		ProposedDuration: ncr.ProposedDuration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req, err = svc.repo.CreateChangeRequest(ctx, req); err != nil {
		return ChangeRequest{}, err
	}

	svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, session.EventChangeRequested, actor.ID, map[string]interface{}{
		"request_id": req.ID,
		"kind":       string(req.Kind),
		"reason":     req.Reason,
	})
	return req, nil
}

// Decide resolves a pending change request. Academic-class only. An approved
// reschedule rewrites the session's slot and re-activates it; an approved
// cancel moves the session (and its mirrored record) to cancelled. Either
// way stakeholders are notified.
func (svc *ChangeService) Decide(ctx context.Context, d Decide, approver user.User) (ChangeRequest, error) {
	if !approver.IsAcademic() && !approver.IsAdmin() {
		return ChangeRequest{}, ErrNotAllowed
	}
	req, err := svc.repo.GetChangeRequest(ctx, d.RequestID)
	if err != nil {
		return ChangeRequest{}, err
	}
	if req.Status.IsFinal() {
		return ChangeRequest{}, ErrAlreadyFinalized
	}

	now := svc.nowFunc()
	req.DecidedBy = approver.ID
	req.DecidedAt = &now
	req.DecisionReason = d.Reason
	req.UpdatedAt = now
	evType := session.EventChangeRejected
	if d.Approve {
		req.Status = ChangeApproved
		evType = session.EventChangeApproved
	} else {
		req.Status = ChangeRejected
	}

	won, err := svc.repo.UpdateChangeRequest(ctx, req, ChangePending)
	if err != nil {
		return ChangeRequest{}, errors.Wrap(err, "updating change request")
	}
	if !won {
		return ChangeRequest{}, ErrAlreadyFinalized
	}

	svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, evType, approver.ID, map[string]interface{}{
		"request_id": req.ID,
		"kind":       string(req.Kind),
		"reason":     d.Reason,
	})

	if req.Status == ChangeApproved {
		svc.applyApproved(ctx, req, approver)
	}
	svc.notifyChangeDecision(ctx, req, d.Approve)
	return req, nil
}

// Withdraw lets the requester retract their own pending ask.
func (svc *ChangeService) Withdraw(ctx context.Context, id string, actor user.User) (ChangeRequest, error) {
	req, err := svc.repo.GetChangeRequest(ctx, id)
	if err != nil {
		return ChangeRequest{}, err
	}
	if req.RequesterID != actor.ID {
		return ChangeRequest{}, ErrNotAllowed
	}
	if req.Status.IsFinal() {
		return ChangeRequest{}, ErrAlreadyFinalized
	}

	now := svc.nowFunc()
	req.Status = ChangeWithdrawn
	req.UpdatedAt = now

	won, err := svc.repo.UpdateChangeRequest(ctx, req, ChangePending)
	if err != nil {
		return ChangeRequest{}, errors.Wrap(err, "withdrawing change request")
	}
	if !won {
		return ChangeRequest{}, ErrAlreadyFinalized
	}

	svc.sessions.AppendWorkflowEvent(ctx, req.SessionID, session.EventChangeWithdrawn, actor.ID, map[string]interface{}{
		"request_id": req.ID,
	})
	return req, nil
}

func (svc *ChangeService) GetByID(ctx context.Context, id string) (ChangeRequest, error) {
	return svc.repo.GetChangeRequest(ctx, id)
}

func (svc *ChangeService) Query(ctx context.Context, filter *ChangeQueryFilter) ([]ChangeRequest, error) {
	return svc.repo.QueryChangeRequests(ctx, filter, []core.DBOrdering{{Field: "created_at", Ascending: true}})
}

func (svc *ChangeService) applyApproved(ctx context.Context, req ChangeRequest, approver user.User) {
	switch req.Kind {
	case ChangeReschedule:
		if _, err := svc.sessions.Reschedule(ctx, req.SessionID, *req.ProposedStartsAt, req.ProposedDuration, approver); err != nil {
			svc.logger.Error("rescheduling session "+req.SessionID+" for approved request "+req.ID, err)
		}
	case ChangeCancel:
		if _, err := svc.sessions.Cancel(ctx, req.SessionID, approver); err != nil {
			svc.logger.Error("cancelling session "+req.SessionID+" for approved request "+req.ID, err)
		}
	}
}

func (svc *ChangeService) notifyChangeDecision(ctx context.Context, req ChangeRequest, approved bool) {
	sess, err := svc.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		svc.logger.Error("loading session "+req.SessionID+" for notification", err)
		return
	}
	subject := "Session change request rejected"
	if approved {
		subject = "Session change request approved"
	}
	svc.sessions.NotifyStakeholders(ctx, sess, core.NotifChangeDecided, subject, map[string]interface{}{
		"request_id": req.ID,
		"kind":       string(req.Kind),
		"approved":   approved,
	})
}
