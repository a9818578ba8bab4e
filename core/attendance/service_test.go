package attendance_test

import (
	"context"
	"io/ioutil"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/user"
	"github.com/trezcool/darasa/storage/database/dummydb"
)

type rosterStub struct {
	studentIDs []string
}

func (s rosterStub) EnrolledStudentIDs(context.Context, string) ([]string, error) {
	return s.studentIDs, nil
}

type fixture struct {
	svc  *attendance.Service
	repo attendance.Repository
	now  time.Time
}

func newFixture(t *testing.T, studentIDs ...string) *fixture {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	f := &fixture{
		repo: dummydb.NewAttendanceRepository(db),
		now:  time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC),
	}
	logger := core.StdLogger{Std: log.New(ioutil.Discard, "", 0)}
	f.svc = attendance.NewServiceMock(f.repo, rosterStub{studentIDs: studentIDs}, logger, func() time.Time { return f.now })
	return f
}

func TestRecordJoin(t *testing.T) {
	ctx := context.Background()
	scheduledStart := time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)

	t.Run("on-time student is present", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart.Add(-time.Minute)

		sum, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, sum.Status)
		assert.Equal(t, 0, sum.LateBySec)
		assert.Equal(t, 1, sum.JoinCount)
	})

	t.Run("late student is classified at first join only", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart.Add(7 * time.Minute)

		sum, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusLate, sum.Status)
		assert.Equal(t, 420, sum.LateBySec)
		firstJoin := *sum.FirstJoinAt

		// a rejoin never recomputes lateness or first join
		f.now = scheduledStart.Add(45 * time.Minute)
		sum, err = f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusLate, sum.Status)
		assert.Equal(t, 420, sum.LateBySec)
		assert.Equal(t, 2, sum.JoinCount)
		assert.Equal(t, firstJoin, *sum.FirstJoinAt)

		// a late first join lands as late_join on the timeline
		entries, err := f.svc.Timeline(ctx, "sess-1", "student-1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, attendance.EntryLateJoin, entries[0].Kind)
		assert.Equal(t, attendance.EntryRejoin, entries[1].Kind)
	})

	t.Run("late teacher is not marked late", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart.Add(10 * time.Minute)

		sum, err := f.svc.RecordJoin(ctx, "sess-1", "teacher-1", user.RoleTeacher, scheduledStart)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, sum.Status)
	})

	t.Run("timeline labels join then rejoin", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart

		_, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)
		f.now = f.now.Add(5 * time.Minute)
		_, err = f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)

		entries, err := f.svc.Timeline(ctx, "sess-1", "student-1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, attendance.EntryJoin, entries[0].Kind)
		assert.Equal(t, attendance.EntryRejoin, entries[1].Kind)
	})
}

// Session scheduled 10:00 for 60 min. Student joins 10:07, leaves 10:40,
// rejoins 10:45, leaves 11:00.
func TestJoinLeaveAccrual(t *testing.T) {
	ctx := context.Background()
	scheduledStart := time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)
	f := newFixture(t)

	f.now = scheduledStart.Add(7 * time.Minute) // 10:07
	sum, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusLate, sum.Status)
	assert.Equal(t, 420, sum.LateBySec)

	f.now = scheduledStart.Add(40 * time.Minute) // 10:40
	sum, err = f.svc.RecordLeave(ctx, "sess-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1980, sum.TotalSec)
	require.NotNil(t, sum.LastLeaveAt)
	assert.Equal(t, f.now, *sum.LastLeaveAt)

	f.now = scheduledStart.Add(45 * time.Minute) // 10:45
	sum, err = f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.JoinCount)

	f.now = scheduledStart.Add(60 * time.Minute) // 11:00
	sum, err = f.svc.RecordLeave(ctx, "sess-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2880, sum.TotalSec)
	assert.Equal(t, attendance.StatusLate, sum.Status)
	require.NotNil(t, sum.LastLeaveAt)
	assert.Equal(t, f.now, *sum.LastLeaveAt)
}

func TestRecordLeaveAction(t *testing.T) {
	ctx := context.Background()
	scheduledStart := time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)

	t.Run("approved leave marks left_early", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart
		_, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)

		_, err = f.svc.RecordLeaveAction(ctx, "sess-1", "student-1", attendance.EntryLeaveRequest, nil)
		require.NoError(t, err)
		sum, err := f.svc.RecordLeaveAction(ctx, "sess-1", "student-1", attendance.EntryLeaveApproved, nil)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusLeftEarly, sum.Status)
		assert.True(t, sum.LeaveApproved)
	})

	t.Run("denied leave keeps status", func(t *testing.T) {
		f := newFixture(t)
		f.now = scheduledStart
		_, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)

		sum, err := f.svc.RecordLeaveAction(ctx, "sess-1", "student-1", attendance.EntryLeaveDenied, nil)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPresent, sum.Status)
		assert.False(t, sum.LeaveApproved)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RecordLeaveAction(ctx, "sess-1", "student-1", "nap_request", nil)
		assert.Equal(t, attendance.ErrUnknownAction, err)
	})
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	scheduledStart := time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)

	t.Run("fills in absent for no-shows only", func(t *testing.T) {
		f := newFixture(t, "student-1", "student-2", "student-3")
		f.now = scheduledStart.Add(7 * time.Minute)
		_, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
		require.NoError(t, err)

		filled, err := f.svc.Finalize(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 2, filled)

		// the late student is never overwritten to absent
		sum, err := f.repo.GetSummary(ctx, "sess-1", "student-1")
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusLate, sum.Status)

		sum, err = f.repo.GetSummary(ctx, "sess-1", "student-2")
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusAbsent, sum.Status)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t, "student-1", "student-2")

		filled, err := f.svc.Finalize(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 2, filled)

		filled, err = f.svc.Finalize(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, 0, filled)
	})
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	scheduledStart := time.Date(2021, 3, 8, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, "student-1", "student-2", "student-3", "student-4")

	f.now = scheduledStart
	_, err := f.svc.RecordJoin(ctx, "sess-1", "student-1", user.RoleStudent, scheduledStart)
	require.NoError(t, err)
	f.now = scheduledStart.Add(10 * time.Minute)
	_, err = f.svc.RecordJoin(ctx, "sess-1", "student-2", user.RoleStudent, scheduledStart)
	require.NoError(t, err)
	f.now = scheduledStart.Add(30 * time.Minute)
	_, err = f.svc.RecordLeave(ctx, "sess-1", "student-1")
	require.NoError(t, err)
	_, err = f.svc.RecordLeave(ctx, "sess-1", "student-2")
	require.NoError(t, err)
	_, err = f.svc.RecordJoin(ctx, "sess-1", "student-3", user.RoleStudent, scheduledStart)
	require.NoError(t, err)
	_, err = f.svc.RecordLeaveAction(ctx, "sess-1", "student-3", attendance.EntryLeaveApproved, nil)
	require.NoError(t, err)

	_, err = f.svc.Finalize(ctx, "sess-1")
	require.NoError(t, err)

	rep, err := f.svc.Report(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Present)
	assert.Equal(t, 1, rep.Late)
	assert.Equal(t, 1, rep.Absent)
	assert.Equal(t, 1, rep.LeftEarly)
	require.Len(t, rep.Summaries, 4)
	// student-1: 30 min, student-2: 20 min, others 0
	assert.Equal(t, (1800+1200)/4, rep.AvgSec)
}
