package tenants

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kgate/model"
	"github.com/khanghh/kgate/params"
	"gorm.io/gorm"
)

const negativeCacheValue = "-"

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,62}[a-z0-9])?$`)

type Tenant struct {
	Slug   string
	IsDemo bool
}

type Config struct {
	BaseDomain      string
	CustomDomains   map[string]string // host -> tenant slug
	DemoTenants     []string
	CacheExpiration time.Duration
}

type CreateTenantOptions struct {
	Slug         string
	Name         string
	CustomDomain string
	IsDemo       bool
}

// Directory maps request hosts to tenants. Lookups of custom domains stored in
// the database are cached in the injected storage, including misses.
type Directory struct {
	baseDomain string
	domains    map[string]string
	demo       map[string]bool
	repo       TenantRepository
	cache      fiber.Storage
	cacheTTL   time.Duration
}

// NormalizeHost lower-cases host and strips the port and trailing dot.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && strings.Count(host, ":") == 1 {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, ".")
}

func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Resolve returns the tenant addressed by host, or ErrTenantNotFound when the
// host does not name one.
func (d *Directory) Resolve(ctx context.Context, host string) (*Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return nil, ErrTenantNotFound
	}
	if slug, ok := d.domains[host]; ok {
		return d.tenant(slug, false), nil
	}

	tenant, err := d.lookupCustomDomain(ctx, host)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	slug := d.subdomainSlug(host)
	if slug == "" {
		return nil, ErrTenantNotFound
	}
	return d.tenant(slug, false), nil
}

func (d *Directory) tenant(slug string, isDemo bool) *Tenant {
	return &Tenant{Slug: slug, IsDemo: isDemo || d.demo[slug]}
}

func (d *Directory) lookupCustomDomain(ctx context.Context, host string) (*Tenant, error) {
	cacheKey := params.TenantCacheKeyPrefix + host
	if cached, err := d.cache.Get(cacheKey); err != nil {
		slog.Warn("Tenant cache read failed", "host", host, "error", err)
	} else if cached != nil {
		return decodeCached(string(cached))
	}

	var entry string
	record, err := d.repo.FindByDomain(ctx, host)
	switch {
	case err == nil:
		entry = encodeCached(record)
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = negativeCacheValue
	default:
		return nil, err
	}
	if err := d.cache.Set(cacheKey, []byte(entry), d.cacheTTL); err != nil {
		slog.Warn("Tenant cache write failed", "host", host, "error", err)
	}
	return decodeCached(entry)
}

func encodeCached(record *model.Tenant) string {
	if record.IsDemo {
		return record.Slug + "|demo"
	}
	return record.Slug
}

func decodeCached(entry string) (*Tenant, error) {
	if entry == negativeCacheValue || entry == "" {
		return nil, ErrTenantNotFound
	}
	slug, flag, _ := strings.Cut(entry, "|")
	return &Tenant{Slug: slug, IsDemo: flag == "demo"}, nil
}

// subdomainSlug returns the first DNS label of host. Under a configured base
// domain the apex and www carry no tenant; without one a host needs at least
// three labels.
func (d *Directory) subdomainSlug(host string) string {
	if d.baseDomain != "" {
		if host == d.baseDomain || !strings.HasSuffix(host, "."+d.baseDomain) {
			return ""
		}
	} else if strings.Count(host, ".") < 2 {
		return ""
	}
	label, _, _ := strings.Cut(host, ".")
	if label == "www" || !ValidSlug(label) {
		return ""
	}
	return label
}

func (d *Directory) CreateTenant(ctx context.Context, opts CreateTenantOptions) (*model.Tenant, error) {
	slug := strings.ToLower(strings.TrimSpace(opts.Slug))
	if !ValidSlug(slug) {
		return nil, ErrInvalidSlug
	}
	tenant := model.Tenant{
		Slug:   slug,
		Name:   opts.Name,
		IsDemo: opts.IsDemo,
	}
	if tenant.Name == "" {
		tenant.Name = slug
	}
	var host string
	if opts.CustomDomain != "" {
		host = NormalizeHost(opts.CustomDomain)
		tenant.CustomDomain = &host
	}
	if err := d.repo.Create(ctx, &tenant); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if _, findErr := d.repo.FindBySlug(ctx, slug); findErr == nil {
				return nil, ErrSlugTaken
			}
			return nil, ErrDomainTaken
		}
		return nil, err
	}
	if host != "" {
		d.cache.Delete(params.TenantCacheKeyPrefix + host)
	}
	return &tenant, nil
}

func (d *Directory) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return d.repo.List(ctx)
}

func NewDirectory(cfg Config, repo TenantRepository, cache fiber.Storage) *Directory {
	domains := make(map[string]string, len(cfg.CustomDomains))
	for host, slug := range cfg.CustomDomains {
		domains[NormalizeHost(host)] = slug
	}
	demo := make(map[string]bool, len(cfg.DemoTenants))
	for _, slug := range cfg.DemoTenants {
		demo[slug] = true
	}
	if cfg.CacheExpiration <= 0 {
		cfg.CacheExpiration = params.TenantCacheExpiration
	}
	return &Directory{
		baseDomain: NormalizeHost(cfg.BaseDomain),
		domains:    domains,
		demo:       demo,
		repo:       repo,
		cache:      cache,
		cacheTTL:   cfg.CacheExpiration,
	}
}
