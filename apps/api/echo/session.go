package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
)

type sessionApi struct {
	usrSvc   user.ServiceInterface
	svc      *session.Service
	attSvc   *attendance.Service
	rosSvc   *roster.Service
	validate *validator.Validate
}

func registerSessionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	usrSvc user.ServiceInterface,
	svc *session.Service,
	attSvc *attendance.Service,
	rosSvc *roster.Service,
	validate *validator.Validate,
) {
	api := sessionApi{
		usrSvc:   usrSvc,
		svc:      svc,
		attSvc:   attSvc,
		rosSvc:   rosSvc,
		validate: validate,
	}

	sg := g.Group("/sessions", jwt)
	sg.POST("", api.create, rolesMiddleware(user.RoleStaffCoordinator))
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.GET("/:id/events", api.events)

	sg.POST("/:id/go-live", api.goLive)
	sg.DELETE("/:id", api.end)
	sg.PATCH("/:id/schedule", api.reschedule, rolesMiddleware(user.RoleStaffCoordinator, user.RoleStaffAcademic))

	// early-end approval protocol; GET is the poll target
	sg.POST("/:id/end-request", api.requestEnd)
	sg.GET("/:id/end-request", api.endRequestState)
	sg.PATCH("/:id/end-request", api.decideEndRequest)

	// roster
	sg.POST("/:id/enrollments", api.enroll, rolesMiddleware(user.RoleStaffCoordinator))
	sg.DELETE("/:id/enrollments/:studentID", api.unenroll, rolesMiddleware(user.RoleStaffCoordinator))

	// attendance
	sg.POST("/:id/attendance/join", api.recordJoin)
	sg.POST("/:id/attendance/leave", api.recordLeave)
	sg.POST("/:id/attendance/leave-action", api.recordLeaveAction)
	sg.POST("/:id/attendance/finalize", api.finalizeAttendance, rolesMiddleware(user.RoleTeacher, user.RoleStaffCoordinator))
	sg.GET("/:id/attendance", api.attendanceReport, rolesMiddleware(user.RoleTeacher, user.RoleStaffCoordinator, user.RoleStaffAcademic))
	sg.GET("/:id/attendance/:participantID/timeline", api.attendanceTimeline, rolesMiddleware(user.RoleTeacher, user.RoleStaffCoordinator))

	g.POST("/guardian-links", api.linkGuardian, jwt, adminMiddleware())
}

// Handlers

func (api *sessionApi) create(ctx echo.Context) error {
	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.svc.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) query(ctx echo.Context) error {
	filter := new(session.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []session.Session{})
	}

	sessions, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	sess, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding session by ID")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) events(ctx echo.Context) error {
	events, err := api.svc.Events(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying session events")
	}
	if events == nil {
		events = []session.Event{}
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *sessionApi) goLive(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.svc.GoLive(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "going live")
	}
	return ctx.JSON(http.StatusOK, sess)
}

// end runs the same early-end protocol as POST /:id/end-request; the
// force/reason knobs ride on the query string since DELETE carries no body.
func (api *sessionApi) end(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	force, _ := strconv.ParseBool(ctx.QueryParam("force"))
	res, err := api.svc.RequestEnd(ctx.Request().Context(), ctx.Param("id"), actor, ctx.QueryParam("reason"), force)
	if err != nil {
		return errors.Wrap(err, "ending session")
	}
	if res.Ended {
		return ctx.JSON(http.StatusOK, res)
	}
	return ctx.JSON(http.StatusAccepted, res)
}

func (api *sessionApi) reschedule(ctx echo.Context) error {
	var data RescheduleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RescheduleRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.svc.Reschedule(ctx.Request().Context(), ctx.Param("id"), data.StartsAt, data.Duration, actor)
	if err != nil {
		return errors.Wrap(err, "rescheduling session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) requestEnd(ctx echo.Context) error {
	var data EndRequestRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EndRequestRequest")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	res, err := api.svc.RequestEnd(ctx.Request().Context(), ctx.Param("id"), actor, data.Reason, data.Force)
	if err != nil {
		return errors.Wrap(err, "requesting session end")
	}
	if res.Ended {
		return ctx.JSON(http.StatusOK, res)
	}
	return ctx.JSON(http.StatusAccepted, res)
}

func (api *sessionApi) endRequestState(ctx echo.Context) error {
	state, err := api.svc.EndRequestState(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting end request state")
	}
	return ctx.JSON(http.StatusOK, state)
}

func (api *sessionApi) decideEndRequest(ctx echo.Context) error {
	var data EndRequestDecision
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EndRequestDecision")
	}

	approver, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.svc.DecideEndRequest(ctx.Request().Context(), ctx.Param("id"), approver, data.Approve, data.Reason)
	if err != nil {
		return errors.Wrap(err, "deciding end request")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) enroll(ctx echo.Context) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	enr, err := api.rosSvc.Enroll(ctx.Request().Context(), ctx.Param("id"), data.StudentID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *sessionApi) unenroll(ctx echo.Context) error {
	if err := api.rosSvc.Unenroll(ctx.Request().Context(), ctx.Param("id"), ctx.Param("studentID")); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) linkGuardian(ctx echo.Context) error {
	var data GuardianLinkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GuardianLinkRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	link, err := api.rosSvc.LinkGuardian(ctx.Request().Context(), data.StudentID, data.GuardianID)
	if err != nil {
		return errors.Wrap(err, "linking guardian")
	}
	return ctx.JSON(http.StatusCreated, link)
}

func (api *sessionApi) recordJoin(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding session by ID")
	}

	sum, err := api.attSvc.RecordJoin(ctx.Request().Context(), sess.ID, actor.ID, participantRole(actor), sess.StartsAt)
	if err != nil {
		return errors.Wrap(err, "recording join")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *sessionApi) recordLeave(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sum, err := api.attSvc.RecordLeave(ctx.Request().Context(), ctx.Param("id"), actor.ID)
	if err != nil {
		return errors.Wrap(err, "recording leave")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *sessionApi) recordLeaveAction(ctx echo.Context) error {
	var data LeaveActionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LeaveActionRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	participantID := data.ParticipantID
	if participantID == "" {
		participantID = actor.ID
	}
	// acting on someone else's attendance is a teacher/staff move
	if participantID != actor.ID && !(actor.IsAdmin() || actor.IsTeacher() || actor.IsCoordinator()) {
		return errHttpForbidden
	}

	payload := map[string]interface{}{"actor_id": actor.ID}
	if data.Reason != "" {
		payload["reason"] = data.Reason
	}
	sum, err := api.attSvc.RecordLeaveAction(ctx.Request().Context(), ctx.Param("id"), participantID, data.Action, payload)
	if err != nil {
		return errors.Wrap(err, "recording leave action")
	}
	return ctx.JSON(http.StatusOK, sum)
}

func (api *sessionApi) finalizeAttendance(ctx echo.Context) error {
	filled, err := api.attSvc.Finalize(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finalizing attendance")
	}
	return ctx.JSON(http.StatusOK, FinalizeResponse{MarkedAbsent: filled})
}

func (api *sessionApi) attendanceReport(ctx echo.Context) error {
	report, err := api.attSvc.Report(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "building attendance report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *sessionApi) attendanceTimeline(ctx echo.Context) error {
	entries, err := api.attSvc.Timeline(ctx.Request().Context(), ctx.Param("id"), ctx.Param("participantID"))
	if err != nil {
		return errors.Wrap(err, "querying attendance timeline")
	}
	if entries == nil {
		entries = []attendance.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// participantRole reduces a user's roles to the one attendance cares about.
func participantRole(usr user.User) string {
	switch {
	case usr.IsStudent():
		return user.RoleStudent
	case usr.IsTeacher():
		return user.RoleTeacher
	case usr.IsParent():
		return user.RoleParent
	default:
		return user.RoleStaff
	}
}

type (
	RescheduleRequest struct {
		StartsAt time.Time `json:"starts_at" validate:"required"`
		Duration int       `json:"duration" validate:"required,gt=0"`
	}

	EndRequestRequest struct {
		Reason string `json:"reason"`
		Force  bool   `json:"force"`
	}

	EndRequestDecision struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}

	EnrollRequest struct {
		StudentID string `json:"student_id" validate:"required"`
	}

	GuardianLinkRequest struct {
		StudentID  string `json:"student_id" validate:"required"`
		GuardianID string `json:"guardian_id" validate:"required"`
	}

	LeaveActionRequest struct {
		Action        string `json:"action" validate:"required"`
		ParticipantID string `json:"participant_id"`
		Reason        string `json:"reason"`
	}

	FinalizeResponse struct {
		MarkedAbsent int `json:"marked_absent"`
	}
)
