package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
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
	if err := db.AutoMigrate(&model.AuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestLoggerWritesRedactedJSONLines(t *testing.T) {
	var buf bytes.Buffer
	dispatcher := dispatch.NewDispatcher(dispatch.Config{})
	logger := NewLogger(NewJSONSink(&buf), dispatcher)

	logger.Record(context.Background(), Event{
		Actor:   "alice@acme.test",
		Area:    AreaAuth,
		Action:  ActionLoginFailure,
		Reason:  "bad_password",
		IP:      "10.0.0.1",
		Details: map[string]any{"password": "nope", "attempt": 2},
	})
	dispatcher.Wait()

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid json line %q: %v", buf.String(), err)
	}
	if record["actor"] != "alice@acme.test" || record["action"] != ActionLoginFailure || record["area"] != AreaAuth {
		t.Fatalf("unexpected record: %v", record)
	}
	details := record["details"].(map[string]any)
	if details["password"] != Redacted {
		t.Fatalf("expected password to be redacted, got %v", details["password"])
	}
	if bytes.Contains(buf.Bytes(), []byte("nope")) {
		t.Fatal("password leaked into the audit sink")
	}
	if _, ok := record["createdAt"]; !ok {
		t.Fatal("expected createdAt")
	}
}

type failingSink struct{}

func (failingSink) Write(context.Context, *model.AuditEvent) error {
	return errors.New("sink down")
}

func TestLoggerSwallowsSinkErrors(t *testing.T) {
	dispatcher := dispatch.NewDispatcher(dispatch.Config{})
	logger := NewLogger(failingSink{}, dispatcher)
	logger.Record(context.Background(), Event{Actor: "x", Area: AreaAuth, Action: ActionLogout})
	dispatcher.Wait()
}

func TestRepositorySink(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuditEventRepository(db)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{})
	logger := NewLogger(NewRepositorySink(repo), dispatcher)
	ctx := context.Background()

	logger.Record(ctx, Event{Actor: "1", Area: AreaAuth, Action: ActionLoginSuccess})
	dispatcher.Wait()
	logger.Record(ctx, Event{Actor: "1", Area: AreaAuthz, Action: ActionAccessDenied, Details: map[string]any{"requiredRoles": []string{"system_owner"}}})
	dispatcher.Wait()

	events, err := repo.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != ActionAccessDenied {
		t.Fatalf("expected newest first, got %s", events[0].Action)
	}
	roles, ok := events[0].Details["requiredRoles"].([]any)
	if !ok || len(roles) != 1 || roles[0] != "system_owner" {
		t.Fatalf("unexpected details: %v", events[0].Details)
	}

	authz, err := repo.ListRecent(ctx, AreaAuthz, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(authz) != 1 {
		t.Fatalf("expected 1 authz event, got %d", len(authz))
	}
}
