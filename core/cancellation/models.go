package cancellation

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

// Type dispatches a request to its approval chain.
type Type string

const (
	TypeParentInitiated  Type = "parent_initiated" // 1:1 sessions
	TypeGroupRequest     Type = "group_request"    // multi-student sessions
	TypeTeacherInitiated Type = "teacher_initiated"
)

// Status is the request's position in its chain.
// parent_initiated and group_request only ever use pending, approved and
// rejected; teacher_initiated walks the full chain.
type Status string

const (
	StatusPending             Status = "pending"
	StatusCoordinatorApproved Status = "coordinator_approved"
	StatusAdminApproved       Status = "admin_approved"
	StatusAcademicApproved    Status = "academic_approved"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
)

func (s Status) IsFinal() bool { return s == StatusApproved || s == StatusRejected }

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Decision is one per-level decision/approver/timestamp triple.
type Decision struct {
	Decision   string     `json:"decision,omitempty"`
	ApproverID string     `json:"approver_id,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// Request is one pending-to-terminal approval case for cancelling a session.
// It is mutated only by approvers at the currently-valid level and becomes
// immutable once approved or rejected.
type Request struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	RequesterID   string `json:"requester_id"`
	RequesterRole string `json:"requester_role"`
	Type          Type   `json:"cancellation_type"`
	Status        Status `json:"status"`
	Reason        string `json:"reason"`

	Coordinator Decision `json:"coordinator,omitempty"`
	Admin       Decision `json:"admin,omitempty"`
	Academic    Decision `json:"academic,omitempty"`
	HR          Decision `json:"hr,omitempty"`

	RejectionReason string `json:"rejection_reason,omitempty"`
	RejectedLevel   string `json:"rejected_level,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// level is one role-gated step of an approval chain: who may act at the
// current status, where the decision triple is written and where approval
// leads. The chains below are the whole approval logic; advance() only ever
// consults them.
type level struct {
	name         string
	allowedRoles []string
	record       func(req *Request, d Decision)
	next         Status
}

type chain map[Status]level

var (
	singleStepChain = chain{
		StatusPending: {
			name:         "coordinator",
			allowedRoles: user.CoordinatorRoles,
			record:       func(req *Request, d Decision) { req.Coordinator = d },
			next:         StatusApproved,
		},
	}

	teacherInitiatedChain = chain{
		StatusPending: {
			name:         "coordinator",
			allowedRoles: user.CoordinatorRoles,
			record:       func(req *Request, d Decision) { req.Coordinator = d },
			next:         StatusCoordinatorApproved,
		},
		StatusCoordinatorApproved: {
			name:         "admin",
			allowedRoles: user.AdminRoles,
			record:       func(req *Request, d Decision) { req.Admin = d },
			next:         StatusAdminApproved,
		},
		StatusAdminApproved: {
			name:         "academic",
			allowedRoles: user.AcademicRoles,
			record:       func(req *Request, d Decision) { req.Academic = d },
			next:         StatusAcademicApproved,
		},
		StatusAcademicApproved: {
			name:         "hr",
			allowedRoles: user.HRRoles,
			record:       func(req *Request, d Decision) { req.HR = d },
			next:         StatusApproved,
		},
	}

	chains = map[Type]chain{
		TypeParentInitiated:  singleStepChain,
		TypeGroupRequest:     singleStepChain,
		TypeTeacherInitiated: teacherInitiatedChain,
	}

	// submitterRoles gates who may open each request type.
	submitterRoles = map[Type][]string{
		TypeParentInitiated:  user.ParentRoles,
		TypeGroupRequest:     append(append([]string{}, user.StudentRoles...), user.ParentRoles...),
		TypeTeacherInitiated: user.TeacherRoles,
	}
)

func primaryRole(u user.User) string {
	if len(u.Roles) > 0 {
		return u.Roles[0]
	}
	return ""
}

// NewRequest contains information needed to open a cancellation Request.
type NewRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Type      Type   `json:"cancellation_type" validate:"required,oneof=parent_initiated group_request teacher_initiated"`
	Reason    string `json:"reason" validate:"required"`
}

func (nr *NewRequest) Validate(validate *validator.Validate) error {
	nr.Reason = core.CleanString(nr.Reason)
	return validate.Struct(nr)
}

// Decide is an approver's action on a request.
type Decide struct {
	RequestID string `json:"request_id" validate:"required"`
	Approve   bool   `json:"approve"`
	Reason    string `json:"reason"`
}

func (d *Decide) Validate(validate *validator.Validate) error {
	d.Reason = core.CleanString(d.Reason)
	return validate.Struct(d)
}

type QueryFilter struct {
	SessionID string `query:"session_id"`
	Status    Status `query:"status"`
	Type      Type   `query:"cancellation_type"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.SessionID == "" && qf.Status == "" && qf.Type == ""
}
