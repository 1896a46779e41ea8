package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kgate/internal/auth"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/internal/middlewares/tenancy"
)

type AuthHandler struct {
	loginService *auth.LoginService
	sessions     *sessions.Manager
}

type loginRequest struct {
	Email      string `json:"email" form:"email"`
	Password   string `json:"password" form:"password"`
	TOTPCode   string `json:"totpCode" form:"totpCode"`
	RememberMe bool   `json:"rememberMe" form:"rememberMe"`
}

type loginResponse struct {
	SessionIssued      bool            `json:"sessionIssued,omitempty"`
	RequiresTOTP       bool            `json:"requiresTotp,omitempty"`
	RequiresEnrollment bool            `json:"requiresEnrollment,omitempty"`
	Principal          *auth.Principal `json:"principal,omitempty"`
	RedirectHint       string          `json:"redirectHint,omitempty"`
}

type enrollRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Code     string `json:"code" form:"code"`
}

type enrollCompleteResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

func sendError(ctx *fiber.Ctx, code int, message string) error {
	return ctx.Status(code).JSON(NewErrorResponse(code, message))
}

// writeAuthError maps authentication failures to responses. The precise
// reason is only in the audit log.
func writeAuthError(ctx *fiber.Ctx, err error) error {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		resp := NewErrorResponse(fiber.StatusLocked, "Account is temporarily locked")
		until := locked.Until.UTC()
		resp.Error.LockedUntil = &until
		return ctx.Status(fiber.StatusLocked).JSON(resp)
	case errors.Is(err, auth.ErrMissingCredentials):
		return sendError(ctx, fiber.StatusBadRequest, "Email and password are required")
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidTOTPCode):
		return sendError(ctx, fiber.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrAlreadyEnrolled):
		return sendError(ctx, fiber.StatusConflict, "Two-factor authentication is already enabled")
	case errors.Is(err, auth.ErrEnrollmentExpired):
		return sendError(ctx, fiber.StatusBadRequest, "Enrollment not started or expired")
	default:
		slog.Error("Authentication failed", "path", ctx.Path(), "error", err)
		return sendError(ctx, fiber.StatusInternalServerError, "Internal server error")
	}
}

func (h *AuthHandler) PostLogin(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil {
		slog.Debug("Invalid login body", "error", err)
		return sendError(ctx, fiber.StatusBadRequest, "Malformed request body")
	}
	tenant := ""
	if rc := tenancy.FromContext(ctx); rc != nil {
		tenant = rc.Tenant
	}

	result, err := h.loginService.Login(ctx.UserContext(), auth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		RememberMe: req.RememberMe,
		IP:         ctx.IP(),
		UserAgent:  ctx.Get(fiber.HeaderUserAgent),
		Tenant:     tenant,
	})
	if err != nil {
		return writeAuthError(ctx, err)
	}

	switch result.State {
	case auth.StateAwaitingTOTP:
		return ctx.JSON(NewDataResponse(loginResponse{RequiresTOTP: true}))
	case auth.StateRequiresEnrollment:
		return ctx.JSON(NewDataResponse(loginResponse{RequiresEnrollment: true, Principal: result.Principal}))
	}
	if err := h.sessions.SetCookie(ctx, result.Session); err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(loginResponse{
		SessionIssued: true,
		Principal:     result.Principal,
		RedirectHint:  result.RedirectHint,
	}))
}

// GetLogin reports the principal of the current session.
func (h *AuthHandler) GetLogin(ctx *fiber.Ctx) error {
	sess, err := h.sessions.Current(ctx)
	if sessions.IsUnauthenticated(err) {
		return sendError(ctx, fiber.StatusUnauthorized, "Not authenticated")
	}
	if err != nil {
		return err
	}
	return ctx.JSON(NewDataResponse(fiber.Map{
		"principal": auth.Principal{
			ID:       sess.PrincipalID,
			Email:    sess.Email,
			Role:     sess.Role,
			TenantID: sess.TenantID,
		},
		"redirectHint": auth.RedirectHint(sess.Role, sess.TenantID),
	}))
}

func (h *AuthHandler) PostLogout(ctx *fiber.Ctx) error {
	defer h.sessions.ClearCookie(ctx)
	sess, err := h.sessions.Current(ctx)
	if sessions.IsUnauthenticated(err) {
		return ctx.SendStatus(fiber.StatusNoContent)
	}
	if err != nil {
		return err
	}
	if err := h.loginService.Logout(ctx.UserContext(), sess, ctx.IP(), ctx.Get(fiber.HeaderUserAgent)); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) parseEnrollRequest(ctx *fiber.Ctx) (auth.EnrollmentRequest, error) {
	var req enrollRequest
	if err := ctx.BodyParser(&req); err != nil {
		return auth.EnrollmentRequest{}, err
	}
	return auth.EnrollmentRequest{
		Email:     req.Email,
		Password:  req.Password,
		Code:      req.Code,
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
	}, nil
}

func (h *AuthHandler) PostEnrollBegin(ctx *fiber.Ctx) error {
	req, err := h.parseEnrollRequest(ctx)
	if err != nil {
		return sendError(ctx, fiber.StatusBadRequest, "Malformed request body")
	}
	start, err := h.loginService.BeginEnrollment(ctx.UserContext(), req)
	if err != nil {
		return writeAuthError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(start))
}

func (h *AuthHandler) PostEnrollComplete(ctx *fiber.Ctx) error {
	req, err := h.parseEnrollRequest(ctx)
	if err != nil {
		return sendError(ctx, fiber.StatusBadRequest, "Malformed request body")
	}
	if req.Code == "" {
		return sendError(ctx, fiber.StatusBadRequest, "Verification code is required")
	}
	codes, err := h.loginService.CompleteEnrollment(ctx.UserContext(), req)
	if err != nil {
		return writeAuthError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(enrollCompleteResponse{BackupCodes: codes}))
}

// Register mounts the authentication endpoints on router.
func (h *AuthHandler) Register(router fiber.Router) {
	router.Get("/login", h.GetLogin)
	router.Post("/login", h.PostLogin)
	router.Post("/logout", h.PostLogout)
	router.Post("/enroll/begin", h.PostEnrollBegin)
	router.Post("/enroll/complete", h.PostEnrollComplete)
}

func NewAuthHandler(loginService *auth.LoginService, sessionManager *sessions.Manager) *AuthHandler {
	return &AuthHandler{
		loginService: loginService,
		sessions:     sessionManager,
	}
}
