package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/cancellation"
	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	videosvc "github.com/trezcool/darasa/services/video"
	"github.com/trezcool/darasa/storage/database/dummydb"
)

var (
	conf *core.Config

	usrRepo    user.Repository
	sessRepo   session.Repository
	eventRepo  session.EventRepository
	cancelRepo cancellation.Repository
	changeRepo cancellation.ChangeRepository
	attRepo    attendance.Repository
	rosterRepo roster.Repository
	rosterSvc  *roster.Service

	// testNow, when set, freezes the domain services' clock.
	testNow time.Time

	initOnce sync.Once

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func nowFn() time.Time {
	if testNow.IsZero() {
		return time.Now().UTC()
	}
	return testNow
}

// discardNotifier keeps API tests quiet; notification contents are covered
// by the core service tests.
type discardNotifier struct{}

func (discardNotifier) Notify(core.Notification) {}

func setup(t *testing.T) *Server {
	conf = core.NewTestConfig()
	logger := core.StdLogger{Std: log.New(io.Discard, "", 0)}
	testNow = time.Time{}

	initOnce.Do(func() {
		core.ParseEmailTemplates(conf, logger)
		user.LoadCommonPasswords(conf)
	})

	// set up DB & repos
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	usrRepo = dummydb.NewUserRepository(db)
	sessRepo = dummydb.NewSessionRepository(db)
	eventRepo = dummydb.NewEventRepository(db)
	cancelRepo = dummydb.NewCancellationRepository(db)
	changeRepo = dummydb.NewChangeRepository(db)
	attRepo = dummydb.NewAttendanceRepository(db)
	rosterRepo = dummydb.NewRosterRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)
	rosterSvc = roster.NewService(rosterRepo, usrSvc)
	sessSvc := session.NewServiceMock(
		sessRepo, eventRepo, videosvc.NewDummyService(), dummydb.NewTimetableMirror(db),
		rosterSvc, discardNotifier{}, logger, nowFn,
	)
	cancelSvc := cancellation.NewServiceMock(cancelRepo, sessSvc, logger, nowFn)
	changeSvc := cancellation.NewChangeServiceMock(changeRepo, sessSvc, logger, nowFn)
	attSvc := attendance.NewServiceMock(attRepo, rosterSvc, logger, nowFn)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up server
	return NewServer(
		ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			SessionSvc:    sessSvc,
			CancelSvc:     cancelSvc,
			ChangeSvc:     changeSvc,
			AttendanceSvc: attSvc,
			RosterSvc:     rosterSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

// nolint
func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
