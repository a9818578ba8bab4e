package roster

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

var ErrNotFound = errors.New("enrollment not found")

type (
	Repository interface {
		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		QueryEnrollments(ctx context.Context, sessionID string) ([]Enrollment, error)
		DeleteEnrollment(ctx context.Context, sessionID, studentID string) error

		CreateGuardianLink(ctx context.Context, gl GuardianLink) (GuardianLink, error)
		QueryGuardians(ctx context.Context, studentIDs []string) ([]GuardianLink, error)
	}

	// StaffDirectory resolves the academic operators included in every
	// session fan-out.
	StaffDirectory interface {
		AcademicOperatorIDs(ctx context.Context) ([]string, error)
	}

	Service struct {
		repo    Repository
		staff   StaffDirectory
		nowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, staff StaffDirectory) *Service {
	return &Service{repo: repo, staff: staff, nowFunc: core.NowUTC}
}

func (svc *Service) Enroll(ctx context.Context, sessionID, studentID string) (Enrollment, error) {
	return svc.repo.CreateEnrollment(ctx, Enrollment{
		SessionID: sessionID,
		StudentID: studentID,
		CreatedAt: svc.nowFunc(),
	})
}

func (svc *Service) Unenroll(ctx context.Context, sessionID, studentID string) error {
	return svc.repo.DeleteEnrollment(ctx, sessionID, studentID)
}

func (svc *Service) LinkGuardian(ctx context.Context, studentID, guardianID string) (GuardianLink, error) {
	return svc.repo.CreateGuardianLink(ctx, GuardianLink{
		StudentID:  studentID,
		GuardianID: guardianID,
		CreatedAt:  svc.nowFunc(),
	})
}

// EnrolledStudentIDs implements the enrollment source the attendance
// finalizer consumes.
func (svc *Service) EnrolledStudentIDs(ctx context.Context, sessionID string) ([]string, error) {
	enrollments, err := svc.repo.QueryEnrollments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.StudentID)
	}
	return ids, nil
}

// Stakeholders resolves every (identity, role) pair with a legitimate
// interest in a session: the assigned teacher, the coordinator, every
// enrolled student, each student's guardians and the academic operators,
// deduplicated by (identity, role). A traversal over roster and guardian
// links, not a join.
func (svc *Service) Stakeholders(ctx context.Context, sess session.Session) ([]core.Recipient, error) {
	seen := make(map[core.Recipient]struct{})
	var out []core.Recipient
	add := func(r core.Recipient) {
		if r.UserID == "" {
			return
		}
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	add(core.Recipient{UserID: sess.TeacherID, Role: user.RoleTeacher})
	add(core.Recipient{UserID: sess.CoordinatorID, Role: user.RoleStaffCoordinator})

	enrollments, err := svc.repo.QueryEnrollments(ctx, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	studentIDs := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		add(core.Recipient{UserID: e.StudentID, Role: user.RoleStudent})
		studentIDs = append(studentIDs, e.StudentID)
	}

	if len(studentIDs) > 0 {
		links, err := svc.repo.QueryGuardians(ctx, studentIDs)
		if err != nil {
			return nil, errors.Wrap(err, "querying guardian links")
		}
		for _, gl := range links {
			add(core.Recipient{UserID: gl.GuardianID, Role: user.RoleParent})
		}
	}

	if svc.staff != nil {
		ids, err := svc.staff.AcademicOperatorIDs(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "resolving academic operators")
		}
		for _, id := range ids {
			add(core.Recipient{UserID: id, Role: user.RoleStaffAcademic})
		}
	}
	return out, nil
}
