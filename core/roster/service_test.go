package roster_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database/dummydb"
)

type staffStub struct {
	ids []string
}

func (s staffStub) AcademicOperatorIDs(context.Context) ([]string, error) {
	return s.ids, nil
}

func TestStakeholders(t *testing.T) {
	ctx := context.Background()
	db, err := dummydb.Open()
	require.NoError(t, err)
	svc := roster.NewService(dummydb.NewRosterRepository(db), staffStub{ids: []string{"acad-1"}})

	sess := session.Session{ID: "sess-1", TeacherID: "teacher-1", CoordinatorID: "coord-1"}

	_, err = svc.Enroll(ctx, sess.ID, "student-1")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, sess.ID, "student-2")
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, "sess-other", "student-3")
	require.NoError(t, err)

	// one guardian answers for both students; must come out once
	_, err = svc.LinkGuardian(ctx, "student-1", "parent-1")
	require.NoError(t, err)
	_, err = svc.LinkGuardian(ctx, "student-2", "parent-1")
	require.NoError(t, err)
	_, err = svc.LinkGuardian(ctx, "student-2", "parent-2")
	require.NoError(t, err)

	got, err := svc.Stakeholders(ctx, sess)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.Recipient{
		{UserID: "teacher-1", Role: user.RoleTeacher},
		{UserID: "coord-1", Role: user.RoleStaffCoordinator},
		{UserID: "student-1", Role: user.RoleStudent},
		{UserID: "student-2", Role: user.RoleStudent},
		{UserID: "parent-1", Role: user.RoleParent},
		{UserID: "parent-2", Role: user.RoleParent},
		{UserID: "acad-1", Role: user.RoleStaffAcademic},
	}, got)

	ids, err := svc.EnrolledStudentIDs(ctx, sess.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"student-1", "student-2"}, ids)
}
