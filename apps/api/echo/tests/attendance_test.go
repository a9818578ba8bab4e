package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	testutil "github.com/trezcool/darasa/tests"
)

func unmarshalSummary(t *testing.T, data []byte) attendance.Summary {
	t.Helper()

	var sum attendance.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	return sum
}

func Test_sessionApi_attendanceTracking(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	parent := testutil.CreateUser(t, usrRepo, "Parent", "parent", "parent@test.cd", "LolC@t123", []string{user.RoleParent}, true)
	teacherTkn := getToken(t, teacher)
	studentTkn := getToken(t, student)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
	base := "/v1/sessions/" + sess.ID + "/attendance"

	// the teacher connects before the scheduled start; never late
	testNow = startsAt.Add(-2 * time.Minute)
	rec := doRequest(t, app, http.MethodPost, base+"/join", teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("teacher join code = %v; body %s", rec.Code, rec.Body.String())
	}
	sum := unmarshalSummary(t, rec.Body.Bytes())
	if sum.Status != attendance.StatusPresent || sum.LateBySec != 0 {
		t.Errorf("teacher summary = %+v; want present, not late", sum)
	}

	// a student joining after the start is classified late once
	testNow = startsAt.Add(7 * time.Minute)
	rec = doRequest(t, app, http.MethodPost, base+"/join", studentTkn, nil)
	sum = unmarshalSummary(t, rec.Body.Bytes())
	if sum.Status != attendance.StatusLate || sum.LateBySec != 420 {
		t.Errorf("student summary = %+v; want late by 420s", sum)
	}
	if sum.JoinCount != 1 || sum.Role != user.RoleStudent {
		t.Errorf("student summary = %+v; want first student join", sum)
	}

	// leave accrues the interval since the join and stamps last_leave_at
	testNow = startsAt.Add(30 * time.Minute)
	rec = doRequest(t, app, http.MethodPost, base+"/leave", studentTkn, nil)
	sum = unmarshalSummary(t, rec.Body.Bytes())
	if sum.TotalSec != 23*60 {
		t.Errorf("total = %vs; want %vs", sum.TotalSec, 23*60)
	}
	if sum.LastLeaveAt == nil || !sum.LastLeaveAt.Equal(testNow) {
		t.Errorf("last_leave_at = %v; want %v", sum.LastLeaveAt, testNow)
	}

	// a rejoin never recomputes lateness
	testNow = startsAt.Add(35 * time.Minute)
	rec = doRequest(t, app, http.MethodPost, base+"/join", studentTkn, nil)
	sum = unmarshalSummary(t, rec.Body.Bytes())
	if sum.JoinCount != 2 || sum.Status != attendance.StatusLate || sum.LateBySec != 420 {
		t.Errorf("summary after rejoin = %+v; want join_count 2, still late by 420s", sum)
	}

	// the second leave accrues from the rejoin, not the first join
	testNow = startsAt.Add(50 * time.Minute)
	rec = doRequest(t, app, http.MethodPost, base+"/leave", studentTkn, nil)
	sum = unmarshalSummary(t, rec.Body.Bytes())
	if sum.TotalSec != 23*60+15*60 {
		t.Errorf("total = %vs; want %vs", sum.TotalSec, 23*60+15*60)
	}
	if sum.LastLeaveAt == nil || !sum.LastLeaveAt.Equal(testNow) {
		t.Errorf("last_leave_at = %v; want %v", sum.LastLeaveAt, testNow)
	}

	// a participant with no summary has nothing to leave from
	rec = doRequest(t, app, http.MethodPost, base+"/leave", getToken(t, parent), nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: attendance.ErrNotFound.Error()})}, rec)

	// joining an unknown session fails on the session lookup
	rec = doRequest(t, app, http.MethodPost, "/v1/sessions/lol/attendance/join", studentTkn, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: session.ErrNotFound.Error()})}, rec)

	// the student's timeline reads back in order
	rec = doRequest(t, app, http.MethodGet, base+"/"+student.ID+"/timeline", teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline code = %v; body %s", rec.Code, rec.Body.String())
	}
	var entries []attendance.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	want := []string{attendance.EntryLateJoin, attendance.EntryLeave, attendance.EntryRejoin, attendance.EntryLeave}
	if len(entries) != len(want) {
		t.Fatalf("len(entries) = %v; want %v; entries %+v", len(entries), len(want), entries)
	}
	for i, e := range entries {
		if e.Kind != want[i] {
			t.Errorf("entries[%d].Kind = %v; want %v", i, e.Kind, want[i])
		}
	}
}

func Test_sessionApi_leaveActions(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, usrRepo, "Other Student", "other", "other@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	teacherTkn := getToken(t, teacher)
	studentTkn := getToken(t, student)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
	base := "/v1/sessions/" + sess.ID + "/attendance"

	testNow = startsAt
	doRequest(t, app, http.MethodPost, base+"/join", studentTkn, nil)

	tests := []httpTest{
		{
			name: "required fields", token: studentTkn, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"action": "this field is required"}),
		},
		{
			name: "unknown action", token: studentTkn, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.LeaveActionRequest{Action: "nap"}),
			wantData: marchallObj(t, httpErr{Error: attendance.ErrUnknownAction.Error()}),
		},
		{
			name: "student cannot act on a classmate", token: getToken(t, other), wantCode: http.StatusForbidden,
			body:     marchallObj(t, echoapi.LeaveActionRequest{Action: attendance.EntryLeaveApproved, ParticipantID: student.ID}),
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "student requests an early leave", token: studentTkn, wantCode: http.StatusOK,
			body: marchallObj(t, echoapi.LeaveActionRequest{Action: attendance.EntryLeaveRequest, Reason: "doctor's appointment"}),
		},
		{
			name: "teacher approves the leave", token: teacherTkn, wantCode: http.StatusOK,
			body: marchallObj(t, echoapi.LeaveActionRequest{Action: attendance.EntryLeaveApproved, ParticipantID: student.ID}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = base + "/leave-action"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				sum := unmarshalSummary(t, rec.Body.Bytes())
				if tt.name == "teacher approves the leave" {
					if sum.Status != attendance.StatusLeftEarly || !sum.LeaveApproved {
						t.Errorf("summary = %+v; want an approved left_early", sum)
					}
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// the action trail is on the timeline
	entries, err := attRepo.QueryEntries(context.Background(), sess.ID, student.ID, attendance.EntryLeaveRequest, attendance.EntryLeaveApproved)
	if err != nil {
		t.Fatalf("QueryEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len(entries) = %v; want 2", len(entries))
	}
}

func Test_sessionApi_finalizeAndReport(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	noShow := testutil.CreateUser(t, usrRepo, "No Show", "noshow", "noshow@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	teacherTkn := getToken(t, teacher)
	studentTkn := getToken(t, student)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
	base := "/v1/sessions/" + sess.ID + "/attendance"

	ctx := context.Background()
	if _, err := rosterSvc.Enroll(ctx, sess.ID, student.ID); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	if _, err := rosterSvc.Enroll(ctx, sess.ID, noShow.ID); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}

	testNow = startsAt
	doRequest(t, app, http.MethodPost, base+"/join", teacherTkn, nil)
	doRequest(t, app, http.MethodPost, base+"/join", studentTkn, nil)

	// students do not finalize
	rec := doRequest(t, app, http.MethodPost, base+"/finalize", studentTkn, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)

	// the no-show gets an absent summary; joined participants are untouched
	rec = doRequest(t, app, http.MethodPost, base+"/finalize", teacherTkn, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.FinalizeResponse{MarkedAbsent: 1})}, rec)

	// finalizing again never overwrites a classification
	rec = doRequest(t, app, http.MethodPost, base+"/finalize", teacherTkn, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.FinalizeResponse{MarkedAbsent: 0})}, rec)

	// the report is staff-facing
	rec = doRequest(t, app, http.MethodGet, base, studentTkn, nil)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)

	rec = doRequest(t, app, http.MethodGet, base, teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report code = %v; body %s", rec.Code, rec.Body.String())
	}
	var report attendance.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if report.Present != 2 || report.Absent != 1 || report.Late != 0 || report.LeftEarly != 0 {
		t.Errorf("report = %+v; want 2 present, 1 absent", report)
	}
	if len(report.Summaries) != 3 {
		t.Errorf("len(summaries) = %v; want 3", len(report.Summaries))
	}
}
