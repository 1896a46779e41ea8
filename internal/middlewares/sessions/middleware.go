package sessions

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const sessionContextKey = "session"

type Config struct {
	Store        *Store
	Signer       *CookieSigner
	CookieName   string
	CookieSecure bool
}

// Manager binds the session store to the request cookie.
type Manager struct {
	Config
}

// Current returns the session referenced by the request cookie, caching it in
// the request locals. A missing, tampered or stale cookie yields
// ErrSessionNotFound, ErrInvalidCookie or ErrSessionExpired.
func (m *Manager) Current(ctx *fiber.Ctx) (*Session, error) {
	if sess, ok := ctx.Locals(sessionContextKey).(*Session); ok {
		return sess, nil
	}
	value := ctx.Cookies(m.CookieName)
	if value == "" {
		return nil, ErrSessionNotFound
	}
	token, err := m.Signer.Verify(value)
	if err != nil {
		return nil, err
	}
	sess, err := m.Store.Get(ctx.Context(), token, time.Now())
	if err != nil {
		return nil, err
	}
	ctx.Locals(sessionContextKey, sess)
	return sess, nil
}

// Destroy deletes the current session, if any, and clears the cookie.
func (m *Manager) Destroy(ctx *fiber.Ctx) error {
	defer m.ClearCookie(ctx)
	sess, err := m.Current(ctx)
	if err != nil {
		if IsUnauthenticated(err) {
			return nil
		}
		return err
	}
	ctx.Locals(sessionContextKey, nil)
	if err := m.Store.Delete(ctx.Context(), sess); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

func (m *Manager) SetCookie(ctx *fiber.Ctx, sess *Session) error {
	value, err := m.Signer.Sign(sess.Token, sess.ExpiresAt)
	if err != nil {
		return err
	}
	maxAge := sess.MaxAge(time.Now())
	fcookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(fcookie)
	fcookie.SetKey(m.CookieName)
	fcookie.SetValue(value)
	fcookie.SetPath("/")
	fcookie.SetSecure(m.CookieSecure)
	fcookie.SetHTTPOnly(true)
	fcookie.SetSameSite(fasthttp.CookieSameSiteStrictMode)
	fcookie.SetMaxAge(int(maxAge.Seconds()))
	fcookie.SetExpire(sess.ExpiresAt)
	ctx.Response().Header.SetCookie(fcookie)
	return nil
}

func (m *Manager) ClearCookie(ctx *fiber.Ctx) {
	fcookie := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(fcookie)
	fcookie.SetKey(m.CookieName)
	fcookie.SetValue("")
	fcookie.SetPath("/")
	fcookie.SetSecure(m.CookieSecure)
	fcookie.SetHTTPOnly(true)
	fcookie.SetSameSite(fasthttp.CookieSameSiteStrictMode)
	fcookie.SetExpire(fasthttp.CookieExpireDelete)
	ctx.Response().Header.SetCookie(fcookie)
}

// IsUnauthenticated reports whether err means the request carries no usable session.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrInvalidCookie)
}

func NewManager(config Config) *Manager {
	if config.CookieName == "" {
		config.CookieName = "kgate_session"
	}
	return &Manager{Config: config}
}
