package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/cancellation"
	"github.com/trezcool/darasa/core/user"
)

type cancellationApi struct {
	usrSvc    user.ServiceInterface
	svc       *cancellation.Service
	changeSvc *cancellation.ChangeService
	validate  *validator.Validate
}

func registerCancellationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	usrSvc user.ServiceInterface,
	svc *cancellation.Service,
	changeSvc *cancellation.ChangeService,
	validate *validator.Validate,
) {
	api := cancellationApi{
		usrSvc:    usrSvc,
		svc:       svc,
		changeSvc: changeSvc,
		validate:  validate,
	}

	cg := g.Group("/cancellations", jwt)
	cg.POST("", api.submit)
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/decide", api.decide)

	// sibling flow: student/parent session change requests
	rg := g.Group("/session-requests", jwt)
	rg.POST("", api.submitChange)
	rg.GET("", api.queryChanges)
	rg.GET("/:id", api.retrieveChange)
	rg.POST("/:id/decide", api.decideChange)
	rg.POST("/:id/withdraw", api.withdrawChange)
}

// Handlers

func (api *cancellationApi) submit(ctx echo.Context) error {
	var data cancellation.NewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	req, err := api.svc.Submit(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "submitting cancellation request")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *cancellationApi) query(ctx echo.Context) error {
	filter := new(cancellation.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []cancellation.Request{})
	}

	reqs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying cancellation requests")
	}
	if reqs == nil {
		reqs = []cancellation.Request{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *cancellationApi) retrieve(ctx echo.Context) error {
	req, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding cancellation request by ID")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *cancellationApi) decide(ctx echo.Context) error {
	var data DecisionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DecisionRequest")
	}

	approver, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	d := cancellation.Decide{
		RequestID: ctx.Param("id"),
		Approve:   data.Approve,
		Reason:    data.Reason,
	}
	req, err := api.svc.Advance(ctx.Request().Context(), d, approver)
	if err != nil {
		return errors.Wrap(err, "deciding cancellation request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *cancellationApi) submitChange(ctx echo.Context) error {
	var data cancellation.NewChangeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewChangeRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	req, err := api.changeSvc.Submit(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "submitting change request")
	}
	return ctx.JSON(http.StatusCreated, req)
}

func (api *cancellationApi) queryChanges(ctx echo.Context) error {
	filter := new(cancellation.ChangeQueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []cancellation.ChangeRequest{})
	}

	reqs, err := api.changeSvc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying change requests")
	}
	if reqs == nil {
		reqs = []cancellation.ChangeRequest{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *cancellationApi) retrieveChange(ctx echo.Context) error {
	req, err := api.changeSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding change request by ID")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *cancellationApi) decideChange(ctx echo.Context) error {
	var data DecisionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DecisionRequest")
	}

	approver, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	d := cancellation.Decide{
		RequestID: ctx.Param("id"),
		Approve:   data.Approve,
		Reason:    data.Reason,
	}
	req, err := api.changeSvc.Decide(ctx.Request().Context(), d, approver)
	if err != nil {
		return errors.Wrap(err, "deciding change request")
	}
	return ctx.JSON(http.StatusOK, req)
}

func (api *cancellationApi) withdrawChange(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	req, err := api.changeSvc.Withdraw(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "withdrawing change request")
	}
	return ctx.JSON(http.StatusOK, req)
}

type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}
