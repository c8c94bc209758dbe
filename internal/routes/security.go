package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/courier-hub/courier_admin/internal/gate"
	"github.com/courier-hub/courier_admin/internal/journal"
	"github.com/courier-hub/courier_admin/internal/middleware"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/securityapi"
	"github.com/courier-hub/courier_admin/internal/session"
)

// securityHandler exposes the setup and verification flows. Flows live in
// the registry between requests; every request names its flow by id.
type securityHandler struct {
	backend  *securityapi.Client
	sessions *session.Manager
	flows    *security.Registry
	journal  *journal.Recorder
	logger   *slog.Logger
}

var loginDecision = gate.Decision{Gate: gate.GateLogin, Path: gate.PathLogin}

type flowResponse struct {
	FlowID string `json:"flow_id"`
	View   any    `json:"view"`
}

type errorResponse struct {
	Error string         `json:"error"`
	Kind  security.Kind  `json:"kind"`
	View  any            `json:"view,omitempty"`
	Gate  *gate.Decision `json:"gate,omitempty"`
}

type factorRequest struct {
	Factor string `json:"factor"`
}

type pinRequest struct {
	PIN        string `json:"pin"`
	ConfirmPIN string `json:"confirm_pin"`
}

type credentialRequest struct {
	Credential json.RawMessage `json:"credential"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// RegisterSecurityRoutes wires the security endpoints. setupGate is checked on
// opening a setup flow and on every call that reaches the backend. idem
// guards SMS sends against double submits; verifyLimiter throttles
// verification attempts.
func RegisterSecurityRoutes(r fiber.Router, h *securityHandler, setupGate, idem, verifyLimiter fiber.Handler) {
	group := r.Group("/security")
	group.Get("/status", h.status)
	group.Get("/events", h.events)

	setup := group.Group("/setup")
	setup.Post("/", setupGate, h.openSetup)
	setup.Get("/:id", h.setupView)
	setup.Delete("/:id", h.closeSetup)
	setup.Post("/:id/choose", h.setupChoose)
	setup.Post("/:id/cancel", h.setupCancel)
	setup.Post("/:id/dismiss", h.setupDismiss)
	setup.Post("/:id/pin/draft", h.setupPINDraft)
	setup.Post("/:id/pin", setupGate, h.setupPIN)
	setup.Post("/:id/biometric/options", setupGate, h.setupBiometricOptions)
	setup.Post("/:id/biometric/verify", setupGate, h.setupBiometricVerify)
	setup.Post("/:id/sms/send", setupGate, idem, h.setupSMSSend)
	setup.Post("/:id/sms/verify", setupGate, h.setupSMSVerify)

	verify := group.Group("/verify")
	verify.Post("/", h.openVerify)
	verify.Get("/:id", h.verifyView)
	verify.Delete("/:id", h.closeVerify)
	verify.Post("/:id/choose", h.verifyChoose)
	verify.Post("/:id/back", h.verifyBack)
	verify.Post("/:id/dismiss", h.verifyDismiss)
	verify.Post("/:id/pin", verifyLimiter, h.verifyPIN)
	verify.Post("/:id/biometric/options", h.verifyBiometricOptions)
	verify.Post("/:id/biometric/verify", verifyLimiter, h.verifyBiometricVerify)
	verify.Post("/:id/sms/send", idem, h.verifySMSSend)
	verify.Post("/:id/sms/verify", verifyLimiter, h.verifySMSVerify)
}

// client returns a backend client bound to the session's token.
func (h *securityHandler) client(c *fiber.Ctx) (*securityapi.Client, session.Session, error) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return nil, session.Session{}, fiber.NewError(http.StatusUnauthorized, "login required")
	}
	token, err := h.sessions.Token(sess)
	if err != nil {
		h.logger.Warn("cannot open session token", slog.String("session_id", sess.ID), slog.Any("error", err))
		return nil, session.Session{}, fiber.NewError(http.StatusUnauthorized, "session expired, please log in again")
	}
	return h.backend.WithToken(token), sess, nil
}

func (h *securityHandler) options(sess session.Session) security.Options {
	return security.Options{
		Logger: h.logger.With(slog.String("session_id", sess.ID), slog.String("user_id", sess.User.ID)),
		Hook:   h.journal.Hook(sess.User.ID, sess.ID),
	}
}

func (h *securityHandler) status(c *fiber.Ctx) error {
	api, sess, err := h.client(c)
	if err != nil {
		return err
	}
	st, err := security.NewStatusProvider(api, h.options(sess).Logger).Fetch(c.UserContext())
	if err != nil {
		return flowError(c, err, nil)
	}
	return c.JSON(st)
}

func (h *securityHandler) events(c *fiber.Ctx) error {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "login required")
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.journal.Recent(c.UserContext(), sess.User.ID, limit)
	if err != nil {
		h.logger.Error("list security events", slog.String("user_id", sess.User.ID), slog.Any("error", err))
		return fiber.NewError(http.StatusServiceUnavailable, "security events unavailable")
	}
	if events == nil {
		events = []journal.Event{}
	}
	return c.JSON(fiber.Map{"events": events})
}

// Setup flow

func (h *securityHandler) openSetup(c *fiber.Ctx) error {
	api, sess, err := h.client(c)
	if err != nil {
		return err
	}
	flow := security.NewSetupFlow(api, h.options(sess))
	id := h.flows.OpenSetup(sess.ID, flow)
	// A failed status read still opens the flow with every factor shown
	// disabled; the view carries the message.
	if err := flow.Load(c.UserContext()); err != nil && security.KindOf(err) == security.KindState {
		return flowError(c, err, flow.View())
	}
	return c.Status(http.StatusCreated).JSON(flowResponse{FlowID: id, View: flow.View()})
}

func (h *securityHandler) setupFlow(c *fiber.Ctx) (*security.SetupFlow, error) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return nil, fiber.NewError(http.StatusUnauthorized, "login required")
	}
	return h.flows.Setup(sess.ID, c.Params("id"))
}

func (h *securityHandler) withSetup(c *fiber.Ctx, fn func(ctx context.Context, f *security.SetupFlow) error) error {
	flow, err := h.setupFlow(c)
	if err != nil {
		return flowError(c, err, nil)
	}
	if err := fn(c.UserContext(), flow); err != nil {
		return flowError(c, err, flow.View())
	}
	return c.JSON(flowResponse{FlowID: c.Params("id"), View: flow.View()})
}

func (h *securityHandler) setupView(c *fiber.Ctx) error {
	return h.withSetup(c, func(context.Context, *security.SetupFlow) error { return nil })
}

func (h *securityHandler) closeSetup(c *fiber.Ctx) error {
	return h.closeFlow(c)
}

func (h *securityHandler) setupChoose(c *fiber.Ctx) error {
	var req factorRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withSetup(c, func(_ context.Context, f *security.SetupFlow) error {
		return f.Start(security.Factor(req.Factor))
	})
}

func (h *securityHandler) setupCancel(c *fiber.Ctx) error {
	return h.withSetup(c, func(_ context.Context, f *security.SetupFlow) error {
		f.Cancel()
		return nil
	})
}

func (h *securityHandler) setupDismiss(c *fiber.Ctx) error {
	return h.withSetup(c, func(_ context.Context, f *security.SetupFlow) error {
		f.Dismiss()
		return nil
	})
}

func (h *securityHandler) setupPINDraft(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withSetup(c, func(_ context.Context, f *security.SetupFlow) error {
		return f.SetPINDraft(req.PIN, req.ConfirmPIN)
	})
}

func (h *securityHandler) setupPIN(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withSetup(c, func(ctx context.Context, f *security.SetupFlow) error {
		return f.SubmitPIN(ctx, req.PIN, req.ConfirmPIN)
	})
}

func (h *securityHandler) setupBiometricOptions(c *fiber.Ctx) error {
	flow, err := h.setupFlow(c)
	if err != nil {
		return flowError(c, err, nil)
	}
	options, err := flow.BeginBiometric(c.UserContext())
	if err != nil {
		return flowError(c, err, flow.View())
	}
	return c.JSON(fiber.Map{"flow_id": c.Params("id"), "options": options, "view": flow.View()})
}

func (h *securityHandler) setupBiometricVerify(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil || len(req.Credential) == 0 {
		return badRequest()
	}
	return h.withSetup(c, func(ctx context.Context, f *security.SetupFlow) error {
		return f.FinishBiometric(ctx, req.Credential)
	})
}

func (h *securityHandler) setupSMSSend(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withSetup(c, func(ctx context.Context, f *security.SetupFlow) error {
		return f.SendSMSCode(ctx, req.PhoneNumber)
	})
}

func (h *securityHandler) setupSMSVerify(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	sess, _ := middleware.CurrentSession(c)
	return h.withSetup(c, func(ctx context.Context, f *security.SetupFlow) error {
		phone := f.View().PhoneNumber
		if err := f.SubmitSMSCode(ctx, req.Code); err != nil {
			return err
		}
		// Later verification codes go to the number just confirmed.
		if err := h.sessions.SetSMSPhone(context.WithoutCancel(ctx), sess.ID, phone); err != nil {
			h.logger.Error("store sms phone on session", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		return nil
	})
}

// Verification flow

func (h *securityHandler) openVerify(c *fiber.Ctx) error {
	api, sess, err := h.client(c)
	if err != nil {
		return err
	}
	sessionID := sess.ID
	complete := func(ctx context.Context, factor security.Factor) error {
		return h.sessions.MarkVerified(context.WithoutCancel(ctx), sessionID, string(factor))
	}
	flow := security.NewVerifyFlow(api, sess.VerificationPhone(), complete, h.options(sess))
	if err := flow.Load(c.UserContext()); err != nil {
		flow.Close()
		// Nothing to verify with, or nothing known: either way the user
		// cannot pass the gate without setup.
		setup := gate.Decision{Gate: gate.GateSetup, Path: gate.PathSetup}
		if security.KindOf(err) == security.KindAuth {
			setup = loginDecision
		}
		status := statusFor(err)
		if errors.Is(err, security.ErrNoFactors) {
			status = http.StatusConflict
		}
		return c.Status(status).JSON(errorResponse{
			Error: security.Message(err),
			Kind:  security.KindOf(err),
			View:  flow.View(),
			Gate:  &setup,
		})
	}
	id := h.flows.OpenVerify(sess.ID, flow)
	return c.Status(http.StatusCreated).JSON(flowResponse{FlowID: id, View: flow.View()})
}

func (h *securityHandler) verifyFlow(c *fiber.Ctx) (*security.VerifyFlow, error) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return nil, fiber.NewError(http.StatusUnauthorized, "login required")
	}
	return h.flows.Verify(sess.ID, c.Params("id"))
}

func (h *securityHandler) withVerify(c *fiber.Ctx, fn func(ctx context.Context, f *security.VerifyFlow) error) error {
	flow, err := h.verifyFlow(c)
	if err != nil {
		return flowError(c, err, nil)
	}
	if err := fn(c.UserContext(), flow); err != nil {
		return flowError(c, err, flow.View())
	}
	view := flow.View()
	if view.State == security.VerifyDone {
		sess, _ := middleware.CurrentSession(c)
		h.flows.Close(sess.ID, c.Params("id"))
	}
	return c.JSON(flowResponse{FlowID: c.Params("id"), View: view})
}

func (h *securityHandler) verifyView(c *fiber.Ctx) error {
	return h.withVerify(c, func(context.Context, *security.VerifyFlow) error { return nil })
}

func (h *securityHandler) closeVerify(c *fiber.Ctx) error {
	return h.closeFlow(c)
}

func (h *securityHandler) verifyChoose(c *fiber.Ctx) error {
	var req factorRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withVerify(c, func(_ context.Context, f *security.VerifyFlow) error {
		return f.Choose(security.Factor(req.Factor))
	})
}

func (h *securityHandler) verifyBack(c *fiber.Ctx) error {
	return h.withVerify(c, func(_ context.Context, f *security.VerifyFlow) error {
		return f.Back()
	})
}

func (h *securityHandler) verifyDismiss(c *fiber.Ctx) error {
	return h.withVerify(c, func(_ context.Context, f *security.VerifyFlow) error {
		f.Dismiss()
		return nil
	})
}

func (h *securityHandler) verifyPIN(c *fiber.Ctx) error {
	var req pinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withVerify(c, func(ctx context.Context, f *security.VerifyFlow) error {
		return f.SubmitPIN(ctx, req.PIN)
	})
}

func (h *securityHandler) verifyBiometricOptions(c *fiber.Ctx) error {
	flow, err := h.verifyFlow(c)
	if err != nil {
		return flowError(c, err, nil)
	}
	options, err := flow.BeginBiometric(c.UserContext())
	if err != nil {
		return flowError(c, err, flow.View())
	}
	return c.JSON(fiber.Map{"flow_id": c.Params("id"), "options": options, "view": flow.View()})
}

func (h *securityHandler) verifyBiometricVerify(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil || len(req.Credential) == 0 {
		return badRequest()
	}
	return h.withVerify(c, func(ctx context.Context, f *security.VerifyFlow) error {
		return f.FinishBiometric(ctx, req.Credential)
	})
}

func (h *securityHandler) verifySMSSend(c *fiber.Ctx) error {
	return h.withVerify(c, func(ctx context.Context, f *security.VerifyFlow) error {
		return f.SendSMSCode(ctx)
	})
}

func (h *securityHandler) verifySMSVerify(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest()
	}
	return h.withVerify(c, func(ctx context.Context, f *security.VerifyFlow) error {
		return f.SubmitSMSCode(ctx, req.Code)
	})
}

func (h *securityHandler) closeFlow(c *fiber.Ctx) error {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "login required")
	}
	if !h.flows.Close(sess.ID, c.Params("id")) {
		return flowError(c, security.ErrFlowNotFound, nil)
	}
	return c.SendStatus(http.StatusNoContent)
}

func badRequest() error {
	return fiber.NewError(http.StatusBadRequest, "invalid request body")
}

func statusFor(err error) int {
	if errors.Is(err, security.ErrFlowNotFound) {
		return http.StatusNotFound
	}
	switch security.KindOf(err) {
	case security.KindValidation:
		return http.StatusUnprocessableEntity
	case security.KindRejected:
		return http.StatusForbidden
	case security.KindTransport:
		return http.StatusBadGateway
	case security.KindState:
		return http.StatusConflict
	case security.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// flowError renders err with the flow view so the client can show the
// dismissible message in place.
func flowError(c *fiber.Ctx, err error, view any) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	kind := security.KindOf(err)
	msg := security.Message(err)
	if errors.Is(err, security.ErrFlowNotFound) {
		kind = security.KindState
		msg = security.ErrFlowNotFound.Error()
	}
	resp := errorResponse{Error: msg, Kind: kind, View: view}
	if kind == security.KindAuth {
		resp.Gate = &loginDecision
	}
	return c.Status(statusFor(err)).JSON(resp)
}
