package attendance

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
	ErrNotFound      = errors.New("attendance summary not found")
	ErrUnknownAction = errors.New("unknown leave action")
)

type (
	Repository interface {
		GetSummary(ctx context.Context, sessionID, participantID string) (Summary, error)
		CreateSummary(ctx context.Context, s Summary) (Summary, error)
		UpdateSummary(ctx context.Context, s Summary) (Summary, error)
		// InsertSummaryIfAbsent inserts iff no row exists for the
		// (session, participant) pair; reports whether it inserted.
		InsertSummaryIfAbsent(ctx context.Context, s Summary) (bool, error)
		QuerySummaries(ctx context.Context, sessionID string) ([]Summary, error)

		AppendEntry(ctx context.Context, e Entry) (Entry, error)
		QueryEntries(ctx context.Context, sessionID, participantID string, kinds ...string) ([]Entry, error)
		// LatestEntry returns the most recent entry of any of the given kinds;
		// ErrNotFound when none exists.
		LatestEntry(ctx context.Context, sessionID, participantID string, kinds ...string) (Entry, error)
	}

	// EnrollmentSource lists the participants that must end up with exactly
	// one terminal status each.
	EnrollmentSource interface {
		EnrolledStudentIDs(ctx context.Context, sessionID string) ([]string, error)
	}

	Service struct {
		repo   Repository
		roster EnrollmentSource
		logger core.Logger

		nowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, roster EnrollmentSource, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		roster:  roster,
		logger:  logger,
		nowFunc: core.NowUTC,
	}
}

// RecordJoin handles a connect signal from the transport layer. Lateness is
// classified only at first join; rejoins increment join_count and never
// recompute or clear it. The join/rejoin label on the timeline follows the
// pre-increment join_count and may mislabel under rapid concurrent
// reconnects; the counters stay correct.
func (svc *Service) RecordJoin(ctx context.Context, sessionID, participantID, role string, scheduledStart time.Time) (Summary, error) {
	now := svc.nowFunc()

	sum, err := svc.repo.GetSummary(ctx, sessionID, participantID)
	switch errors.Cause(err) {
	case nil:
		kind := EntryJoin
		if sum.JoinCount > 0 {
			kind = EntryRejoin
		}
		sum.JoinCount++
		sum.UpdatedAt = now
		if sum, err = svc.repo.UpdateSummary(ctx, sum); err != nil {
			return Summary{}, errors.Wrap(err, "updating summary")
		}
		svc.appendEntry(ctx, sessionID, participantID, kind, nil)
		return sum, nil

	case ErrNotFound:
		sum = Summary{
			SessionID:     sessionID,
			ParticipantID: participantID,
			Role:          role,
			Status:        StatusPresent,
			FirstJoinAt:   &now,
			JoinCount:     1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		kind := EntryJoin
		if role == user.RoleStudent && now.After(scheduledStart) {
			sum.Status = StatusLate
			sum.LateBySec = int(now.Sub(scheduledStart).Seconds())
			kind = EntryLateJoin
		}
		if sum, err = svc.repo.CreateSummary(ctx, sum); err != nil {
			return Summary{}, errors.Wrap(err, "creating summary")
		}
		svc.appendEntry(ctx, sessionID, participantID, kind, nil)
		return sum, nil

	default:
		return Summary{}, err
	}
}

// RecordLeave accrues the interval since the most recent join/rejoin into
// total_duration_sec and stamps last_leave_at. A participant who drops
// without a leave signal simply never accrues that last interval.
func (svc *Service) RecordLeave(ctx context.Context, sessionID, participantID string) (Summary, error) {
	now := svc.nowFunc()

	sum, err := svc.repo.GetSummary(ctx, sessionID, participantID)
	if err != nil {
		return Summary{}, err
	}

	var since time.Time
	if ev, err := svc.repo.LatestEntry(ctx, sessionID, participantID, EntryJoin, EntryLateJoin, EntryRejoin); err == nil {
		since = ev.CreatedAt
	} else if sum.FirstJoinAt != nil {
		since = *sum.FirstJoinAt
	} else {
		// leave without any join; log it, accrue nothing
		svc.appendEntry(ctx, sessionID, participantID, EntryLeave, nil)
		return sum, nil
	}

	sum.TotalSec += int(now.Sub(since).Seconds())
	sum.LastLeaveAt = &now
	sum.UpdatedAt = now
	if sum, err = svc.repo.UpdateSummary(ctx, sum); err != nil {
		return Summary{}, errors.Wrap(err, "updating summary")
	}
	svc.appendEntry(ctx, sessionID, participantID, EntryLeave, nil)
	return sum, nil
}

// RecordLeaveAction logs a leave_request/leave_approved/leave_denied action.
// Approval marks the participant left_early, exempting them from being
// finalized absent.
func (svc *Service) RecordLeaveAction(ctx context.Context, sessionID, participantID, action string, payload map[string]interface{}) (Summary, error) {
	switch action {
	case EntryLeaveRequest, EntryLeaveApproved, EntryLeaveDenied:
	default:
		return Summary{}, ErrUnknownAction
	}

	sum, err := svc.repo.GetSummary(ctx, sessionID, participantID)
	if err != nil {
		return Summary{}, err
	}

	if action == EntryLeaveApproved {
		sum.LeaveApproved = true
		sum.Status = StatusLeftEarly
		sum.UpdatedAt = svc.nowFunc()
		if sum, err = svc.repo.UpdateSummary(ctx, sum); err != nil {
			return Summary{}, errors.Wrap(err, "updating summary")
		}
	}
	svc.appendEntry(ctx, sessionID, participantID, action, payload)
	return sum, nil
}

// Finalize fills in an "absent" summary for every enrolled participant that
// never produced one. The insert is a no-op where a row exists, so repeated
// finalization never overwrites a join-time classification.
func (svc *Service) Finalize(ctx context.Context, sessionID string) (int, error) {
	studentIDs, err := svc.roster.EnrolledStudentIDs(ctx, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "listing enrolled students")
	}

	now := svc.nowFunc()
	var filled int
	for _, id := range studentIDs {
		inserted, err := svc.repo.InsertSummaryIfAbsent(ctx, Summary{
			SessionID:     sessionID,
			ParticipantID: id,
			Role:          user.RoleStudent,
			Status:        StatusAbsent,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return filled, errors.Wrapf(err, "finalizing participant %s", id)
		}
		if inserted {
			filled++
		}
	}
	return filled, nil
}

// Report computes the per-session aggregate on read.
func (svc *Service) Report(ctx context.Context, sessionID string) (Report, error) {
	sums, err := svc.repo.QuerySummaries(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}

	rep := Report{SessionID: sessionID, Summaries: sums, GeneratedAt: svc.nowFunc()}
	var totalSec int
	for _, s := range sums {
		switch s.Status {
		case StatusPresent:
			rep.Present++
		case StatusLate:
			rep.Late++
		case StatusAbsent:
			rep.Absent++
		case StatusLeftEarly:
			rep.LeftEarly++
		}
		totalSec += s.TotalSec
	}
	if n := len(sums); n > 0 {
		rep.AvgSec = totalSec / n
	}
	return rep, nil
}

// Timeline returns a participant's raw entries, oldest first.
func (svc *Service) Timeline(ctx context.Context, sessionID, participantID string) ([]Entry, error) {
	return svc.repo.QueryEntries(ctx, sessionID, participantID)
}

func (svc *Service) appendEntry(ctx context.Context, sessionID, participantID, kind string, payload map[string]interface{}) {
	e := Entry{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Kind:          kind,
		Payload:       payload,
		CreatedAt:     svc.nowFunc(),
	}
	if _, err := svc.repo.AppendEntry(ctx, e); err != nil {
		svc.logger.Error(fmt.Sprintf("appending %s entry for %s in session %s: %v", kind, participantID, sessionID, err), err)
	}
}
