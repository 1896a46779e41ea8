package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/auth"
	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/internal/mail"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/internal/twofactor"
	"github.com/khanghh/kgate/internal/users"
	"github.com/khanghh/kgate/model"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	testMasterKey  = "test-master-key"
	testCookieName = "kgate_session"
)

type envelope struct {
	APIVersion string          `json:"apiVersion"`
	Data       json.RawMessage `json:"data"`
	Error      *APIErrorInfo   `json:"error"`
}

type testEnv struct {
	app   *fiber.App
	users *users.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	userService := users.NewUserService(
		db,
		users.NewUserRepository(db),
		users.NewBackupCodeRepository(db),
		users.NewGrantRepository(db),
		users.NewRoleRepository(db),
		users.NewPasswordHasher(bcrypt.MinCost),
	)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{})
	t.Cleanup(dispatcher.Close)
	sessionStore := sessions.NewStore(rdb, testMasterKey)
	loginService := auth.NewLoginService(
		auth.Config{},
		userService,
		twofactor.NewTwoFactorService(rdb, testMasterKey, "kgate"),
		sessionStore,
		audit.NewLogger(audit.NewJSONSink(io.Discard), dispatcher),
		dispatcher,
		mail.NewLockoutNotifier(mail.NullMailSender{}),
	)
	manager := sessions.NewManager(sessions.Config{
		Store:      sessionStore,
		Signer:     sessions.NewCookieSigner(testMasterKey),
		CookieName: testCookieName,
	})

	app := fiber.New()
	NewAuthHandler(loginService, manager).Register(app.Group("/auth"))
	return &testEnv{app: app, users: userService}
}

func (e *testEnv) createUser(t *testing.T, opts users.CreateUserOptions) *model.User {
	t.Helper()
	opts.Role = "standard"
	opts.TenantID = "acme"
	user, err := e.users.CreateUser(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func (e *testEnv) do(t *testing.T, method string, target string, body any, cookie *http.Cookie) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, target, err)
	}
	defer resp.Body.Close()
	var env envelope
	if raw, _ := io.ReadAll(resp.Body); len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, env
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == testCookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func decodeData(t *testing.T, env envelope) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return data
}

func TestAliceLoginAndLockout(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, users.CreateUserOptions{Email: "alice@example.com", Password: "Correct1!"})

	resp, body := env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "alice@example.com", "password": "Correct1!"}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cookie := sessionCookie(resp)
	if cookie == nil {
		t.Fatal("expected a session cookie")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode || cookie.MaxAge <= 0 {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	data := decodeData(t, body)
	if data["sessionIssued"] != true || data["redirectHint"] != "/acme/dashboard" {
		t.Fatalf("unexpected login data: %v", data)
	}
	if _, ok := data["requiresTotp"]; ok {
		t.Fatal("requiresTotp must be absent")
	}

	resp, body = env.do(t, fiber.MethodGet, "/auth/login", nil, cookie)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected current session, got %d", resp.StatusCode)
	}
	if principal, _ := decodeData(t, body)["principal"].(map[string]any); principal["email"] != "alice@example.com" {
		t.Fatalf("unexpected principal %v", principal)
	}

	for i := 1; i <= 5; i++ {
		resp, body = env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "alice@example.com", "password": "wrong"}, nil)
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
		if body.Error == nil || body.Error.Message != "Invalid credentials" {
			t.Fatalf("attempt %d: expected generic error, got %+v", i, body.Error)
		}
	}

	resp, body = env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "alice@example.com", "password": "Correct1!"}, nil)
	if resp.StatusCode != fiber.StatusLocked {
		t.Fatalf("expected 423 while locked, got %d", resp.StatusCode)
	}
	if body.Error == nil || body.Error.LockedUntil == nil || time.Until(*body.Error.LockedUntil) < 29*time.Minute {
		t.Fatalf("expected lockedUntil about 30 minutes out, got %+v", body.Error)
	}
	if sessionCookie(resp) != nil {
		t.Fatal("locked login must not set a cookie")
	}
}

func TestLoginValidation(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "alice@example.com"}, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, fiber.MethodGet, "/auth/login", nil, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, users.CreateUserOptions{Email: "bob@example.com", Password: "Correct1!"})
	resp, _ := env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "bob@example.com", "password": "Correct1!"}, nil)
	cookie := sessionCookie(resp)
	if cookie == nil {
		t.Fatal("expected a session cookie")
	}

	resp, _ = env.do(t, fiber.MethodPost, "/auth/logout", nil, cookie)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if sessionCookie(resp) != nil {
		t.Fatal("expected the cookie to be cleared")
	}
	resp, _ = env.do(t, fiber.MethodGet, "/auth/login", nil, cookie)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected revoked session to be rejected, got %d", resp.StatusCode)
	}
}

func TestTOTPRequired(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, users.CreateUserOptions{Email: "erin@example.com", Password: "Correct1!"})
	if err := env.users.EnableTOTP(context.Background(), user.ID, "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP", nil); err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}

	resp, body := env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "erin@example.com", "password": "Correct1!"}, nil)
	if resp.StatusCode != fiber.StatusOK || decodeData(t, body)["requiresTotp"] != true {
		t.Fatalf("expected requiresTotp, got %d %s", resp.StatusCode, body.Data)
	}
	if sessionCookie(resp) != nil {
		t.Fatal("no session before the second factor")
	}

	resp, _ = env.do(t, fiber.MethodPost, "/auth/login", fiber.Map{"email": "erin@example.com", "password": "Correct1!", "totpCode": "000000x"}, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad code, got %d", resp.StatusCode)
	}
}

func TestEnrollmentFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, users.CreateUserOptions{Email: "dave@example.com", Password: "Correct1!", FirstLogin: true})
	creds := fiber.Map{"email": "dave@example.com", "password": "Correct1!"}

	resp, body := env.do(t, fiber.MethodPost, "/auth/login", creds, nil)
	if resp.StatusCode != fiber.StatusOK || decodeData(t, body)["requiresEnrollment"] != true {
		t.Fatalf("expected requiresEnrollment, got %d %s", resp.StatusCode, body.Data)
	}
	if sessionCookie(resp) != nil {
		t.Fatal("first login without totp must not get a session")
	}

	resp, body = env.do(t, fiber.MethodPost, "/auth/enroll/begin", creds, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected enrollment start, got %d", resp.StatusCode)
	}
	secret, _ := decodeData(t, body)["secret"].(string)
	if secret == "" {
		t.Fatalf("expected a secret, got %s", body.Data)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	resp, body = env.do(t, fiber.MethodPost, "/auth/enroll/complete", fiber.Map{"email": "dave@example.com", "password": "Correct1!", "code": code}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected enrollment to complete, got %d", resp.StatusCode)
	}
	var completed enrollCompleteResponse
	if err := json.Unmarshal(body.Data, &completed); err != nil || len(completed.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %s (%v)", body.Data, err)
	}
	if sessionCookie(resp) != nil {
		t.Fatal("enrollment must not issue a session")
	}

	resp, body = env.do(t, fiber.MethodPost, "/auth/login", creds, nil)
	if resp.StatusCode != fiber.StatusOK || decodeData(t, body)["requiresTotp"] != true {
		t.Fatalf("expected requiresTotp after enrollment, got %d %s", resp.StatusCode, body.Data)
	}

	resp, _ = env.do(t, fiber.MethodPost, "/auth/enroll/begin", creds, nil)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for an enrolled principal, got %d", resp.StatusCode)
	}
}
