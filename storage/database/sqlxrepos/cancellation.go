package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/cancellation"
)

type cancellationRow struct {
	ID            string    `db:"id"`
	SessionID     string    `db:"session_id"`
	RequesterID   string    `db:"requester_id"`
	RequesterRole string    `db:"requester_role"`
	Type          string    `db:"cancellation_type"`
	Status        string    `db:"status"`
	Reason        string    `db:"reason"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`

	CoordinatorDecision   sql.NullString `db:"coordinator_decision"`
	CoordinatorApproverID sql.NullString `db:"coordinator_approver_id"`
	CoordinatorDecidedAt  sql.NullTime   `db:"coordinator_decided_at"`
	AdminDecision         sql.NullString `db:"admin_decision"`
	AdminApproverID       sql.NullString `db:"admin_approver_id"`
	AdminDecidedAt        sql.NullTime   `db:"admin_decided_at"`
	AcademicDecision      sql.NullString `db:"academic_decision"`
	AcademicApproverID    sql.NullString `db:"academic_approver_id"`
	AcademicDecidedAt     sql.NullTime   `db:"academic_decided_at"`
	HRDecision            sql.NullString `db:"hr_decision"`
	HRApproverID          sql.NullString `db:"hr_approver_id"`
	HRDecidedAt           sql.NullTime   `db:"hr_decided_at"`

	RejectionReason string `db:"rejection_reason"`
	RejectedLevel   string `db:"rejected_level"`
}

func toDecision(decision, approverID sql.NullString, decidedAt sql.NullTime) cancellation.Decision {
	d := cancellation.Decision{
		Decision:   decision.String,
		ApproverID: approverID.String,
	}
	if decidedAt.Valid {
		at := decidedAt.Time.UTC()
		d.DecidedAt = &at
	}
	return d
}

func fromDecision(d cancellation.Decision) (decision, approverID interface{}, decidedAt interface{}) {
	if d.Decision != "" {
		decision = d.Decision
	}
	if d.ApproverID != "" {
		approverID = d.ApproverID
	}
	if d.DecidedAt != nil {
		decidedAt = *d.DecidedAt
	}
	return
}

func (r cancellationRow) toRequest() cancellation.Request {
	return cancellation.Request{
		ID:              r.ID,
		SessionID:       r.SessionID,
		RequesterID:     r.RequesterID,
		RequesterRole:   r.RequesterRole,
		Type:            cancellation.Type(r.Type),
		Status:          cancellation.Status(r.Status),
		Reason:          r.Reason,
		Coordinator:     toDecision(r.CoordinatorDecision, r.CoordinatorApproverID, r.CoordinatorDecidedAt),
		Admin:           toDecision(r.AdminDecision, r.AdminApproverID, r.AdminDecidedAt),
		Academic:        toDecision(r.AcademicDecision, r.AcademicApproverID, r.AcademicDecidedAt),
		HR:              toDecision(r.HRDecision, r.HRApproverID, r.HRDecidedAt),
		RejectionReason: r.RejectionReason,
		RejectedLevel:   r.RejectedLevel,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

const cancellationCols = `id, session_id, requester_id, requester_role, cancellation_type, status, reason,
coordinator_decision, coordinator_approver_id, coordinator_decided_at,
admin_decision, admin_approver_id, admin_decided_at,
academic_decision, academic_approver_id, academic_decided_at,
hr_decision, hr_approver_id, hr_decided_at,
rejection_reason, rejected_level, created_at, updated_at`

type cancellationRepository struct {
	db *sqlx.DB
}

var _ cancellation.Repository = (*cancellationRepository)(nil) // interface compliance check

func NewCancellationRepository(db *sql.DB) cancellation.Repository {
	return &cancellationRepository{db: wrap(db)}
}

func (repo *cancellationRepository) CreateRequest(ctx context.Context, req cancellation.Request) (cancellation.Request, error) {
	query := `
INSERT INTO cancellation_request (session_id, requester_id, requester_role, cancellation_type, status, reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + cancellationCols
	var row cancellationRow
	err := repo.db.GetContext(ctx, &row, query,
		req.SessionID, req.RequesterID, req.RequesterRole, req.Type, req.Status, req.Reason, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return cancellation.Request{}, errors.Wrap(err, "creating cancellation request")
	}
	return row.toRequest(), nil
}

func (repo *cancellationRepository) GetRequest(ctx context.Context, id string) (cancellation.Request, error) {
	var row cancellationRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+cancellationCols+` FROM cancellation_request WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return cancellation.Request{}, cancellation.ErrNotFound
		}
		return cancellation.Request{}, errors.Wrap(err, "getting cancellation request")
	}
	return row.toRequest(), nil
}

func (repo *cancellationRepository) QueryRequests(ctx context.Context, filter *cancellation.QueryFilter, ordering []core.DBOrdering) ([]cancellation.Request, error) {
	query := `SELECT ` + cancellationCols + ` FROM cancellation_request`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.SessionID != "" {
			conds = append(conds, "session_id = "+arg(filter.SessionID))
		}
		if filter.Status != "" {
			conds = append(conds, "status = "+arg(filter.Status))
		}
		if filter.Type != "" {
			conds = append(conds, "cancellation_type = "+arg(filter.Type))
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, "created_at ASC")

	var rows []cancellationRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying cancellation requests")
	}
	reqs := make([]cancellation.Request, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.toRequest())
	}
	return reqs, nil
}

// UpdateRequest is a conditional write: only an update racing from the same
// prior status wins, so two approvers can never both finalize a level.
func (repo *cancellationRepository) UpdateRequest(ctx context.Context, req cancellation.Request, from cancellation.Status) (bool, error) {
	coordDec, coordBy, coordAt := fromDecision(req.Coordinator)
	adminDec, adminBy, adminAt := fromDecision(req.Admin)
	acadDec, acadBy, acadAt := fromDecision(req.Academic)
	hrDec, hrBy, hrAt := fromDecision(req.HR)

	query := `
UPDATE cancellation_request
SET status = $3,
    coordinator_decision = $4, coordinator_approver_id = $5, coordinator_decided_at = $6,
    admin_decision = $7, admin_approver_id = $8, admin_decided_at = $9,
    academic_decision = $10, academic_approver_id = $11, academic_decided_at = $12,
    hr_decision = $13, hr_approver_id = $14, hr_decided_at = $15,
    rejection_reason = $16, rejected_level = $17, updated_at = $18
WHERE id = $1 AND status = $2`
	res, err := repo.db.ExecContext(ctx, query,
		req.ID, from, req.Status,
		coordDec, coordBy, coordAt,
		adminDec, adminBy, adminAt,
		acadDec, acadBy, acadAt,
		hrDec, hrBy, hrAt,
		req.RejectionReason, req.RejectedLevel, req.UpdatedAt)
	if err != nil {
		return false, errors.Wrap(err, "updating cancellation request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating cancellation request")
	}
	return n == 1, nil
}

type changeRow struct {
	ID               string         `db:"id"`
	SessionID        string         `db:"session_id"`
	RequesterID      string         `db:"requester_id"`
	RequesterRole    string         `db:"requester_role"`
	Kind             string         `db:"kind"`
	Status           string         `db:"status"`
	Reason           string         `db:"reason"`
	ProposedStartsAt sql.NullTime   `db:"proposed_starts_at"`
	ProposedDuration int            `db:"proposed_duration"`
	DecidedBy        sql.NullString `db:"decided_by"`
	DecidedAt        sql.NullTime   `db:"decided_at"`
	DecisionReason   string         `db:"decision_reason"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r changeRow) toRequest() cancellation.ChangeRequest {
	req := cancellation.ChangeRequest{
		ID:               r.ID,
		SessionID:        r.SessionID,
		RequesterID:      r.RequesterID,
		RequesterRole:    r.RequesterRole,
		Kind:             cancellation.ChangeKind(r.Kind),
		Status:           cancellation.ChangeStatus(r.Status),
		Reason:           r.Reason,
		ProposedDuration: r.ProposedDuration,
		DecidedBy:        r.DecidedBy.String,
		DecisionReason:   r.DecisionReason,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.ProposedStartsAt.Valid {
		at := r.ProposedStartsAt.Time.UTC()
		req.ProposedStartsAt = &at
	}
	if r.DecidedAt.Valid {
		at := r.DecidedAt.Time.UTC()
		req.DecidedAt = &at
	}
	return req
}

const changeCols = `id, session_id, requester_id, requester_role, kind, status, reason,
proposed_starts_at, proposed_duration, decided_by, decided_at, decision_reason, created_at, updated_at`

type changeRepository struct {
	db *sqlx.DB
}

var _ cancellation.ChangeRepository = (*changeRepository)(nil) // interface compliance check

func NewChangeRepository(db *sql.DB) cancellation.ChangeRepository {
	return &changeRepository{db: wrap(db)}
}

func (repo *changeRepository) CreateChangeRequest(ctx context.Context, req cancellation.ChangeRequest) (cancellation.ChangeRequest, error) {
	var proposedAt interface{}
	if req.ProposedStartsAt != nil {
		proposedAt = *req.ProposedStartsAt
	}
	query := `
INSERT INTO session_change_request (session_id, requester_id, requester_role, kind, status, reason, proposed_starts_at, proposed_duration, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + changeCols
	var row changeRow
	err := repo.db.GetContext(ctx, &row, query,
		req.SessionID, req.RequesterID, req.RequesterRole, req.Kind, req.Status, req.Reason,
		proposedAt, req.ProposedDuration, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return cancellation.ChangeRequest{}, errors.Wrap(err, "creating change request")
	}
	return row.toRequest(), nil
}

func (repo *changeRepository) GetChangeRequest(ctx context.Context, id string) (cancellation.ChangeRequest, error) {
	var row changeRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+changeCols+` FROM session_change_request WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return cancellation.ChangeRequest{}, cancellation.ErrNotFound
		}
		return cancellation.ChangeRequest{}, errors.Wrap(err, "getting change request")
	}
	return row.toRequest(), nil
}

func (repo *changeRepository) QueryChangeRequests(ctx context.Context, filter *cancellation.ChangeQueryFilter, ordering []core.DBOrdering) ([]cancellation.ChangeRequest, error) {
	query := `SELECT ` + changeCols + ` FROM session_change_request`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.SessionID != "" {
			conds = append(conds, "session_id = "+arg(filter.SessionID))
		}
		if filter.Status != "" {
			conds = append(conds, "status = "+arg(filter.Status))
		}
		if filter.Kind != "" {
			conds = append(conds, "kind = "+arg(filter.Kind))
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, "created_at ASC")

	var rows []changeRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying change requests")
	}
	reqs := make([]cancellation.ChangeRequest, 0, len(rows))
	for _, row := range rows {
		reqs = append(reqs, row.toRequest())
	}
	return reqs, nil
}

func (repo *changeRepository) UpdateChangeRequest(ctx context.Context, req cancellation.ChangeRequest, from cancellation.ChangeStatus) (bool, error) {
	var decidedBy, decidedAt interface{}
	if req.DecidedBy != "" {
		decidedBy = req.DecidedBy
	}
	if req.DecidedAt != nil {
		decidedAt = *req.DecidedAt
	}

	query := `
UPDATE session_change_request
SET status = $3, decided_by = $4, decided_at = $5, decision_reason = $6, updated_at = $7
WHERE id = $1 AND status = $2`
	res, err := repo.db.ExecContext(ctx, query, req.ID, from, req.Status, decidedBy, decidedAt, req.DecisionReason, req.UpdatedAt)
	if err != nil {
		return false, errors.Wrap(err, "updating change request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating change request")
	}
	return n == 1, nil
}
