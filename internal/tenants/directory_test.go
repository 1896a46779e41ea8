package tenants

import (
	"context"
	"errors"
	"testing"

	"github.com/gofiber/storage/memory/v2"
	"github.com/khanghh/kgate/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newTestDirectory(t *testing.T, cfg Config) (*Directory, *memory.Storage) {
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
	if err := db.AutoMigrate(&model.Tenant{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cache := memory.New()
	t.Cleanup(func() { cache.Close() })
	return NewDirectory(cfg, NewTenantRepository(db), cache), cache
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Acme.Example.com:443": "acme.example.com",
		"acme.example.com.":    "acme.example.com",
		"[::1]:3000":           "::1",
		" localhost ":          "localhost",
	}
	for in, want := range cases {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveSubdomain(t *testing.T) {
	dir, _ := newTestDirectory(t, Config{BaseDomain: "example.com", DemoTenants: []string{"demo"}})
	ctx := context.Background()

	tenant, err := dir.Resolve(ctx, "acme.example.com:8080")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tenant.Slug != "acme" || tenant.IsDemo {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}

	tenant, err = dir.Resolve(ctx, "demo.example.com")
	if err != nil || !tenant.IsDemo {
		t.Fatalf("expected demo tenant, got %+v (%v)", tenant, err)
	}

	for _, host := range []string{"example.com", "www.example.com", "acme.other.org", ""} {
		if _, err := dir.Resolve(ctx, host); !errors.Is(err, ErrTenantNotFound) {
			t.Fatalf("expected no tenant for %q, got %v", host, err)
		}
	}
}

func TestResolveConfiguredDomain(t *testing.T) {
	dir, _ := newTestDirectory(t, Config{
		BaseDomain:    "example.com",
		CustomDomains: map[string]string{"Portal.Acme.io": "acme"},
	})
	tenant, err := dir.Resolve(context.Background(), "portal.acme.io")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tenant.Slug != "acme" {
		t.Fatalf("expected acme, got %q", tenant.Slug)
	}
}

func TestResolveStoredDomainIsCached(t *testing.T) {
	dir, cache := newTestDirectory(t, Config{BaseDomain: "example.com"})
	ctx := context.Background()

	if _, err := dir.Resolve(ctx, "shop.globex.test"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected miss before the tenant exists, got %v", err)
	}
	if cached, _ := cache.Get("tn:shop.globex.test"); string(cached) != "-" {
		t.Fatalf("expected negative cache entry, got %q", cached)
	}

	_, err := dir.CreateTenant(ctx, CreateTenantOptions{Slug: "globex", CustomDomain: "Shop.Globex.test", IsDemo: true})
	if err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	tenant, err := dir.Resolve(ctx, "shop.globex.test")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tenant.Slug != "globex" || !tenant.IsDemo {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
	if cached, _ := cache.Get("tn:shop.globex.test"); string(cached) != "globex|demo" {
		t.Fatalf("expected positive cache entry, got %q", cached)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	dir, _ := newTestDirectory(t, Config{})
	ctx := context.Background()

	if _, err := dir.CreateTenant(ctx, CreateTenantOptions{Slug: "Bad Slug"}); !errors.Is(err, ErrInvalidSlug) {
		t.Fatalf("expected ErrInvalidSlug, got %v", err)
	}
	if _, err := dir.CreateTenant(ctx, CreateTenantOptions{Slug: "acme", CustomDomain: "acme.io"}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	if _, err := dir.CreateTenant(ctx, CreateTenantOptions{Slug: "acme"}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
	if _, err := dir.CreateTenant(ctx, CreateTenantOptions{Slug: "other", CustomDomain: "acme.io"}); !errors.Is(err, ErrDomainTaken) {
		t.Fatalf("expected ErrDomainTaken, got %v", err)
	}

	tenants, err := dir.ListTenants(ctx)
	if err != nil || len(tenants) != 1 || tenants[0].Name != "acme" {
		t.Fatalf("unexpected tenants: %+v (%v)", tenants, err)
	}
}
