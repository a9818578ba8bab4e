package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	testutil "github.com/trezcool/darasa/tests"
)

func createTestSession(
	t *testing.T,
	name string,
	teacher, coordinator user.User,
	startsAt time.Time,
	duration int,
	status session.Status,
) session.Session {
	t.Helper()

	now := time.Now().UTC()
	sess, err := sessRepo.CreateSession(context.Background(), session.Session{
		Name:          name,
		Status:        status,
		StartsAt:      startsAt.UTC(),
		Duration:      duration,
		TeacherID:     teacher.ID,
		CoordinatorID: coordinator.ID,
		RoomName:      "room-" + name,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}
	return sess
}

func doRequest(t *testing.T, app http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req, rec := newAuthRequest(method, path, token, body)
	app.ServeHTTP(rec, req)
	return rec
}

func unmarshalSession(t *testing.T, data []byte) session.Session {
	t.Helper()

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	return sess
}

func Test_sessionApi_create(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "LolC@t123", []string{user.RoleAdmin}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	newSess := session.NewSession{
		Name:          "Algebra II",
		StartsAt:      startsAt,
		Duration:      60,
		TeacherID:     teacher.ID,
		CoordinatorID: coordinator.ID,
	}

	tests := []httpTest{
		{
			name: "Auth required", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "student cannot create", token: getToken(t, student), wantCode: http.StatusForbidden,
			body:     marchallObj(t, newSess),
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "teacher cannot create", token: getToken(t, teacher), wantCode: http.StatusForbidden,
			body:     marchallObj(t, newSess),
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", token: getToken(t, coordinator), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"name":           "this field is required",
				"starts_at":      "this field is required",
				"duration":       "this field is required",
				"teacher_id":     "this field is required",
				"coordinator_id": "this field is required",
			}),
		},
		{
			name: "coordinator creates", token: getToken(t, coordinator), wantCode: http.StatusCreated,
			body: marchallObj(t, newSess),
		},
		{
			name: "admin creates", token: getToken(t, admin), wantCode: http.StatusCreated,
			body: marchallObj(t, newSess),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/sessions"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				sess := unmarshalSession(t, rec.Body.Bytes())
				if sess.ID == "" {
					t.Error("failed! empty session ID")
				}
				if sess.Status != session.StatusScheduled {
					t.Errorf("status = %v; want %v", sess.Status, session.StatusScheduled)
				}
				if !sess.StartsAt.Equal(startsAt) {
					t.Errorf("starts_at = %v; want %v", sess.StartsAt, startsAt)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sessionApi_queryAndRetrieve(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	teacher2 := testutil.CreateUser(t, usrRepo, "Teacher 2", "teach2", "teach2@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)

	day1 := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2021, 5, 4, 10, 0, 0, 0, time.UTC)
	sess1 := createTestSession(t, "Algebra", teacher, coordinator, day1, 60, session.StatusScheduled)
	createTestSession(t, "Biology", teacher2, coordinator, day2, 45, session.StatusLive)
	createTestSession(t, "Chemistry", teacher, coordinator, day2.Add(2*time.Hour), 45, session.StatusCancelled)

	token := getToken(t, teacher)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/sessions", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Get all", path: "/v1/sessions", token: token, wantCode: http.StatusOK, extra: 3},
		{name: "Filter by status", path: "/v1/sessions?status=live", token: token, wantCode: http.StatusOK, extra: 1},
		{name: "Filter by teacher", path: "/v1/sessions?teacher_id=" + teacher.ID, token: token, wantCode: http.StatusOK, extra: 2},
		{name: "Filter by window", path: "/v1/sessions?from=2021-05-04T00:00:00Z&to=2021-05-04T11:00:00Z", token: token, wantCode: http.StatusOK, extra: 1},
		{name: "Filter matches nothing", path: "/v1/sessions?status=ended", token: token, wantCode: http.StatusOK, extra: 0},
		{
			name: "Retrieve unknown", path: "/v1/sessions/lol", token: token, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: session.ErrNotFound.Error()}),
		},
		{name: "Retrieve", path: "/v1/sessions/" + sess1.ID, token: token, wantCode: http.StatusOK, wantData: marchallObj(t, sess1)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if wantLen, ok := tt.extra.(int); ok {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var sessions []session.Session
				if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
					t.Fatalf("json.Unmarshal() failed: %v", err)
				}
				if len(sessions) != wantLen {
					t.Errorf("len(sessions) = %v; want %v", len(sessions), wantLen)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sessionApi_goLive(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	otherTeacher := testutil.CreateUser(t, usrRepo, "Other Teacher", "other", "other@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "LolC@t123", []string{user.RoleAdmin}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusScheduled)
	sessAdmin := createTestSession(t, "Biology", teacher, coordinator, startsAt, 60, session.StatusScheduled)
	sessEnded := createTestSession(t, "History", teacher, coordinator, startsAt, 60, session.StatusEnded)

	tests := []httpTest{
		{
			name: "Auth required", path: "/v1/sessions/" + sess.ID + "/go-live", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "student cannot go live", path: "/v1/sessions/" + sess.ID + "/go-live", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: session.ErrNotAllowed.Error()}),
		},
		{
			name: "unassigned teacher cannot go live", path: "/v1/sessions/" + sess.ID + "/go-live", token: getToken(t, otherTeacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: session.ErrNotAllowed.Error()}),
		},
		{
			name: "unknown session", path: "/v1/sessions/lol/go-live", token: getToken(t, teacher),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: session.ErrNotFound.Error()}),
		},
		{name: "assigned teacher goes live", path: "/v1/sessions/" + sess.ID + "/go-live", token: getToken(t, teacher), wantCode: http.StatusOK},
		{name: "going live again is a no-op", path: "/v1/sessions/" + sess.ID + "/go-live", token: getToken(t, teacher), wantCode: http.StatusOK},
		{name: "admin goes live", path: "/v1/sessions/" + sessAdmin.ID + "/go-live", token: getToken(t, admin), wantCode: http.StatusOK},
		{
			name: "ended session cannot go live", path: "/v1/sessions/" + sessEnded.ID + "/go-live", token: getToken(t, teacher),
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrInvalidTransition.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				got := unmarshalSession(t, rec.Body.Bytes())
				if got.Status != session.StatusLive {
					t.Errorf("status = %v; want %v", got.Status, session.StatusLive)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// room_started must have been appended exactly once per session despite
	// the repeated go-live call
	events, err := eventRepo.QueryEvents(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("QueryEvents() failed: %v", err)
	}
	var started int
	for _, ev := range events {
		if ev.Type == session.EventRoomStarted {
			started++
		}
	}
	if started != 1 {
		t.Errorf("room_started events = %v; want 1", started)
	}
}

func Test_sessionApi_endRequestProtocol(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "LolC@t123", []string{user.RoleAdmin}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
	teacherTkn := getToken(t, teacher)
	adminTkn := getToken(t, admin)
	base := "/v1/sessions/" + sess.ID

	// mid-session; any end now is an early end
	testNow = startsAt.Add(30 * time.Minute)

	// no request yet
	rec := doRequest(t, app, http.MethodGet, base+"/end-request", teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state code = %v; body %s", rec.Code, rec.Body.String())
	}
	var state session.EndRequestState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if state.Status != session.EndRequestNone {
		t.Errorf("state.Status = %v; want %v", state.Status, session.EndRequestNone)
	}

	// early end goes through approval
	body := marchallObj(t, echoapi.EndRequestRequest{Reason: "class is done early"})
	rec = doRequest(t, app, http.MethodPost, base+"/end-request", teacherTkn, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("request code = %v; want %v; body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var res session.RequestEndResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if res.Ended || res.RequestID == "" {
		t.Errorf("res = %+v; want pending with a request ID", res)
	}

	// one unresolved request at a time
	rec = doRequest(t, app, http.MethodPost, base+"/end-request", teacherTkn, body)
	tt := httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrEndRequestPending.Error()})}
	checkCodeAndData(t, tt, rec)

	// the poll target reflects the pending request
	rec = doRequest(t, app, http.MethodGet, base+"/end-request", teacherTkn, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if state.Status != session.EndRequestPending || state.RequestID != res.RequestID {
		t.Errorf("state = %+v; want pending request %s", state, res.RequestID)
	}
	if state.RequestedBy != teacher.ID || state.Reason != "class is done early" {
		t.Errorf("state = %+v; want requester %s", state, teacher.ID)
	}

	// only admin-class roles decide
	decision := marchallObj(t, echoapi.EndRequestDecision{Approve: true})
	rec = doRequest(t, app, http.MethodPatch, base+"/end-request", teacherTkn, decision)
	tt = httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: session.ErrNotAllowed.Error()})}
	checkCodeAndData(t, tt, rec)

	// denied; session stays live
	rec = doRequest(t, app, http.MethodPatch, base+"/end-request", adminTkn, marchallObj(t, echoapi.EndRequestDecision{Approve: false, Reason: "finish the hour"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("deny code = %v; body %s", rec.Code, rec.Body.String())
	}
	if got := unmarshalSession(t, rec.Body.Bytes()); got.Status != session.StatusLive {
		t.Errorf("status after denial = %v; want %v", got.Status, session.StatusLive)
	}

	rec = doRequest(t, app, http.MethodGet, base+"/end-request", teacherTkn, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if state.Status != session.EndRequestDenied || state.DecidedBy != admin.ID {
		t.Errorf("state = %+v; want denied by %s", state, admin.ID)
	}

	// nothing pending anymore
	rec = doRequest(t, app, http.MethodPatch, base+"/end-request", adminTkn, decision)
	tt = httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrNoPendingRequest.Error()})}
	checkCodeAndData(t, tt, rec)

	// the teacher may ask again after a denial
	rec = doRequest(t, app, http.MethodPost, base+"/end-request", teacherTkn, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("re-request code = %v; body %s", rec.Code, rec.Body.String())
	}

	// approval ends the session
	rec = doRequest(t, app, http.MethodPatch, base+"/end-request", adminTkn, decision)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve code = %v; body %s", rec.Code, rec.Body.String())
	}
	if got := unmarshalSession(t, rec.Body.Bytes()); got.Status != session.StatusEnded {
		t.Errorf("status after approval = %v; want %v", got.Status, session.StatusEnded)
	}
	rec = doRequest(t, app, http.MethodGet, base+"/end-request", teacherTkn, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	if state.Status != session.EndRequestApproved {
		t.Errorf("state.Status = %v; want %v", state.Status, session.EndRequestApproved)
	}
}

func Test_sessionApi_requestEndDirect(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	teacherTkn := getToken(t, teacher)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)

	t.Run("past the scheduled end", func(t *testing.T) {
		sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(70 * time.Minute)

		rec := doRequest(t, app, http.MethodPost, "/v1/sessions/"+sess.ID+"/end-request", teacherTkn, nil)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, session.RequestEndResult{Ended: true})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("forced early end", func(t *testing.T) {
		sess := createTestSession(t, "Biology", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(30 * time.Minute)

		body := marchallObj(t, echoapi.EndRequestRequest{Reason: "power cut", Force: true})
		rec := doRequest(t, app, http.MethodPost, "/v1/sessions/"+sess.ID+"/end-request", teacherTkn, body)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, session.RequestEndResult{Ended: true})}
		checkCodeAndData(t, tt, rec)

		// the forced end is distinguishable in the audit trail
		events, err := eventRepo.QueryEvents(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("QueryEvents() failed: %v", err)
		}
		var forced bool
		for _, ev := range events {
			if ev.Type == session.EventRoomEndedForced {
				forced = true
			}
		}
		if !forced {
			t.Error("missing room_ended_forced event")
		}
	})

	t.Run("session not live", func(t *testing.T) {
		sess := createTestSession(t, "History", teacher, coordinator, startsAt, 60, session.StatusScheduled)
		testNow = startsAt.Add(30 * time.Minute)

		rec := doRequest(t, app, http.MethodPost, "/v1/sessions/"+sess.ID+"/end-request", teacherTkn, nil)
		tt := httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrInvalidTransition.Error()})}
		checkCodeAndData(t, tt, rec)
	})
}

// DELETE on a session means "end it"; it runs the same approval protocol as
// POST /:id/end-request, never a direct cancel.
func Test_sessionApi_deleteEndsSession(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	teacherTkn := getToken(t, teacher)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)

	t.Run("only session drivers may end", func(t *testing.T) {
		sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(30 * time.Minute)

		rec := doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID, getToken(t, student), nil)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: session.ErrNotAllowed.Error()})}
		checkCodeAndData(t, tt, rec)

		// a coordinator is neither admin nor the assigned teacher
		rec = doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID, getToken(t, coordinator), nil)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("early end without force goes to approval", func(t *testing.T) {
		sess := createTestSession(t, "Biology", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(30 * time.Minute)

		rec := doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID+"?reason=class+is+done", teacherTkn, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("code = %v; want %v; body %s", rec.Code, http.StatusAccepted, rec.Body.String())
		}
		var res session.RequestEndResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("json.Unmarshal() failed: %v", err)
		}
		if res.Ended || res.RequestID == "" {
			t.Errorf("res = %+v; want pending with a request ID", res)
		}
	})

	t.Run("forced early end", func(t *testing.T) {
		sess := createTestSession(t, "Chemistry", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(30 * time.Minute)

		rec := doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID+"?force=true&reason=power+cut", teacherTkn, nil)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, session.RequestEndResult{Ended: true})}
		checkCodeAndData(t, tt, rec)

		events, err := eventRepo.QueryEvents(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("QueryEvents() failed: %v", err)
		}
		var forced bool
		for _, ev := range events {
			if ev.Type == session.EventRoomEndedForced {
				forced = true
			}
		}
		if !forced {
			t.Error("missing room_ended_forced event")
		}
	})

	t.Run("past the scheduled end", func(t *testing.T) {
		sess := createTestSession(t, "Geography", teacher, coordinator, startsAt, 60, session.StatusLive)
		testNow = startsAt.Add(70 * time.Minute)

		rec := doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID, teacherTkn, nil)
		tt := httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, session.RequestEndResult{Ended: true})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("session not live", func(t *testing.T) {
		sess := createTestSession(t, "History", teacher, coordinator, startsAt, 60, session.StatusScheduled)
		testNow = startsAt.Add(30 * time.Minute)

		rec := doRequest(t, app, http.MethodDelete, "/v1/sessions/"+sess.ID, teacherTkn, nil)
		tt := httpTest{wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrInvalidTransition.Error()})}
		checkCodeAndData(t, tt, rec)
	})
}

func Test_sessionApi_reschedule(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	academic := testutil.CreateUser(t, usrRepo, "Academic", "acad", "acad@test.cd", "LolC@t123", []string{user.RoleStaffAcademic}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sessCancelled := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusCancelled)
	sessLive := createTestSession(t, "Biology", teacher, coordinator, startsAt, 60, session.StatusLive)

	newSlot := startsAt.Add(48 * time.Hour)
	reschedule := marchallObj(t, echoapi.RescheduleRequest{StartsAt: newSlot, Duration: 45})

	tests := []httpTest{
		{
			name: "student cannot reschedule", method: http.MethodPatch, path: "/v1/sessions/" + sessCancelled.ID + "/schedule", token: getToken(t, student),
			body: reschedule, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", method: http.MethodPatch, path: "/v1/sessions/" + sessCancelled.ID + "/schedule", token: getToken(t, academic),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"starts_at": "this field is required", "duration": "this field is required"}),
		},
		{
			name: "reschedule live session", method: http.MethodPatch, path: "/v1/sessions/" + sessLive.ID + "/schedule", token: getToken(t, academic),
			body: reschedule, wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: session.ErrInvalidTransition.Error()}),
		},
		{
			// an approved reschedule re-activates a cancelled session
			name: "academic reschedules cancelled session", method: http.MethodPatch, path: "/v1/sessions/" + sessCancelled.ID + "/schedule", token: getToken(t, academic),
			body: reschedule, wantCode: http.StatusOK, extra: session.StatusScheduled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if wantStatus, ok := tt.extra.(session.Status); ok {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				got := unmarshalSession(t, rec.Body.Bytes())
				if got.Status != wantStatus {
					t.Errorf("status = %v; want %v", got.Status, wantStatus)
				}
				if !got.StartsAt.Equal(newSlot) {
					t.Errorf("starts_at = %v; want %v", got.StartsAt, newSlot)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_sessionApi_rosterManagement(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", "LolC@t123", []string{user.RoleStudent}, true)
	parent := testutil.CreateUser(t, usrRepo, "Parent", "parent", "parent@test.cd", "LolC@t123", []string{user.RoleParent}, true)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "LolC@t123", []string{user.RoleAdmin}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusScheduled)
	base := "/v1/sessions/" + sess.ID + "/enrollments"

	tests := []httpTest{
		{
			name: "student cannot enroll themselves", method: http.MethodPost, path: base, token: getToken(t, student),
			body:     marchallObj(t, echoapi.EnrollRequest{StudentID: student.ID}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "required fields", method: http.MethodPost, path: base, token: getToken(t, coordinator),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"student_id": "this field is required"}),
		},
		{
			name: "coordinator enrolls student", method: http.MethodPost, path: base, token: getToken(t, coordinator),
			body: marchallObj(t, echoapi.EnrollRequest{StudentID: student.ID}), wantCode: http.StatusCreated,
		},
		{
			name: "coordinator unenrolls student", method: http.MethodDelete, path: base + "/" + student.ID, token: getToken(t, coordinator),
			wantCode: http.StatusNoContent,
		},
		{
			name: "student cannot link a guardian", method: http.MethodPost, path: "/v1/guardian-links", token: getToken(t, student),
			body:     marchallObj(t, echoapi.GuardianLinkRequest{StudentID: student.ID, GuardianID: parent.ID}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "admin links a guardian", method: http.MethodPost, path: "/v1/guardian-links", token: getToken(t, admin),
			body: marchallObj(t, echoapi.GuardianLinkRequest{StudentID: student.ID, GuardianID: parent.ID}), wantCode: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// unenrollment must have emptied the roster again
	ids, err := rosterSvc.EnrolledStudentIDs(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("EnrolledStudentIDs() failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("enrolled students = %v; want none", ids)
	}
}

func Test_sessionApi_events(t *testing.T) {
	app := setup(t)

	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teach", "teach@test.cd", "LolC@t123", []string{user.RoleTeacher}, true)
	coordinator := testutil.CreateUser(t, usrRepo, "Coordinator", "coord", "coord@test.cd", "LolC@t123", []string{user.RoleStaffCoordinator}, true)

	startsAt := time.Date(2021, 5, 3, 10, 0, 0, 0, time.UTC)
	sess := createTestSession(t, "Algebra", teacher, coordinator, startsAt, 60, session.StatusScheduled)
	teacherTkn := getToken(t, teacher)

	// drive the session through its happy path, then read the ledger back
	testNow = startsAt
	doRequest(t, app, http.MethodPost, "/v1/sessions/"+sess.ID+"/go-live", teacherTkn, nil)
	testNow = startsAt.Add(70 * time.Minute)
	doRequest(t, app, http.MethodPost, "/v1/sessions/"+sess.ID+"/end-request", teacherTkn, nil)

	rec := doRequest(t, app, http.MethodGet, "/v1/sessions/"+sess.ID+"/events", teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events code = %v; body %s", rec.Code, rec.Body.String())
	}
	var events []session.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v", err)
	}
	want := []string{session.EventRoomStarted, session.EventRoomEnded}
	if len(events) != len(want) {
		t.Fatalf("len(events) = %v; want %v; events %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("events[%d].Type = %v; want %v", i, ev.Type, want[i])
		}
		if ev.ActorID != teacher.ID {
			t.Errorf("events[%d].ActorID = %v; want %v", i, ev.ActorID, teacher.ID)
		}
	}

	rec = doRequest(t, app, http.MethodGet, "/v1/sessions/lol/events", teacherTkn, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("events for unknown session code = %v; want %v", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("events for unknown session = %s; want an empty list", body)
	}
}
