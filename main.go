package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/storage/memory/v2"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/auth"
	"github.com/khanghh/kgate/internal/authz"
	"github.com/khanghh/kgate/internal/common"
	"github.com/khanghh/kgate/internal/config"
	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/internal/handlers/api"
	"github.com/khanghh/kgate/internal/mail"
	"github.com/khanghh/kgate/internal/middlewares"
	"github.com/khanghh/kgate/internal/middlewares/gate"
	"github.com/khanghh/kgate/internal/middlewares/limiter"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/internal/middlewares/tenancy"
	"github.com/khanghh/kgate/internal/ratelimit"
	"github.com/khanghh/kgate/internal/render"
	"github.com/khanghh/kgate/internal/tenants"
	"github.com/khanghh/kgate/internal/twofactor"
	"github.com/khanghh/kgate/internal/users"
	"github.com/khanghh/kgate/params"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
	gitTag    string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "kgate - multi-tenant authentication and authorization gate"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
		userCommand,
		roleCommand,
		grantCommand,
		tenantCommand,
		auditCommand,
	}
	app.Action = run
}

// AppContext holds the services shared by the server and the admin commands.
type AppContext struct {
	config       *config.Config
	redisStorage *redisstorage.Storage
	dispatcher   *dispatch.Dispatcher
	auditRepo    audit.AuditEventRepository
	auditLogger  *audit.Logger
	userService  *users.UserService
	loginService *auth.LoginService
	sessionStore *sessions.Store
	directory    *tenants.Directory
	db           *gorm.DB
}

func mustInitLogger(debug bool, format string) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redisstorage.Storage {
	return redisstorage.New(redisstorage.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

func mustInitMailSender(cfg *config.Config) mail.MailSender {
	globalVars := map[string]interface{}{
		"siteName": cfg.TOTP.Issuer,
		"baseURL":  cfg.BaseURL,
	}
	if err := render.Initialize(globalVars, cfg.Mail.TemplateDir); err != nil {
		slog.Error("Failed to load mail templates", "error", err)
		os.Exit(1)
	}

	switch cfg.Mail.Backend {
	case "none":
		return mail.NullMailSender{}
	case "smtp":
		smtpCfg := cfg.Mail.SMTP
		sender, err := mail.NewSMTPMailSender(mail.SMTPConfig{
			Host:     smtpCfg.Host,
			Port:     smtpCfg.Port,
			Username: smtpCfg.Username,
			Password: smtpCfg.Password,
			TLS:      smtpCfg.TLS,
			CertFile: smtpCfg.CertFile,
			KeyFile:  smtpCfg.KeyFile,
			CAFile:   smtpCfg.CAFile,
		}, cfg.Mail.From)
		if err != nil {
			slog.Error("Failed to initialize SMTP mail sender", "error", err)
			os.Exit(1)
		}
		return sender
	}
	slog.Error("Unsupported mail sender backend", "backend", cfg.Mail.Backend)
	os.Exit(1)
	return nil
}

func mustInitAuditSink(cfg config.AuditConfig, repo audit.AuditEventRepository) audit.Sink {
	switch cfg.Sink {
	case "database":
		return audit.NewRepositorySink(repo)
	case "stdout":
		return audit.NewJSONSink(os.Stdout)
	}
	slog.Error("Unsupported audit sink", "sink", cfg.Sink)
	os.Exit(1)
	return nil
}

// mustInitStorage picks the fiber.Storage backing a cache. Redis shares state
// across instances, memory is process local.
func mustInitStorage(backend string, redisStorage *redisstorage.Storage) fiber.Storage {
	switch backend {
	case "memory":
		return memory.New()
	case "redis":
		return redisStorage
	}
	slog.Error("Unsupported storage backend", "backend", backend)
	os.Exit(1)
	return nil
}

func mustInitDirectory(cfg config.TenancyConfig, db *gorm.DB, redisStorage *redisstorage.Storage) *tenants.Directory {
	domains := make(map[string]string, len(cfg.CustomDomains))
	for _, d := range cfg.CustomDomains {
		domains[d.Host] = d.Tenant
	}
	return tenants.NewDirectory(
		tenants.Config{
			BaseDomain:      cfg.BaseDomain,
			CustomDomains:   domains,
			DemoTenants:     cfg.DemoTenants,
			CacheExpiration: cfg.CacheExpiration,
		},
		tenants.NewTenantRepository(db),
		mustInitStorage(cfg.CacheBackend, redisStorage),
	)
}

func mustInitAppContext(ctx *cli.Context) *AppContext {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		os.Exit(1)
	}
	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name), cfg.Log.Format)

	db := mustInitDatabase(cfg.Database)
	redisStorage := mustInitRedisStorage(cfg.Redis)
	rdb := redisStorage.Conn()
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		MaxInFlight: cfg.Dispatch.MaxInFlight,
		TaskTimeout: cfg.Dispatch.TaskTimeout,
	})

	// repositories
	var (
		userRepo       = users.NewUserRepository(db)
		backupCodeRepo = users.NewBackupCodeRepository(db)
		grantRepo      = users.NewGrantRepository(db)
		roleRepo       = users.NewRoleRepository(db)
		auditRepo      = audit.NewAuditEventRepository(db)
	)

	// services
	var (
		userService      = users.NewUserService(db, userRepo, backupCodeRepo, grantRepo, roleRepo, users.NewPasswordHasher(params.PasswordHashCost))
		twoFactorService = twofactor.NewTwoFactorService(rdb, cfg.MasterKey, cfg.TOTP.Issuer)
		sessionStore     = sessions.NewStore(rdb, cfg.MasterKey)
		auditLogger      = audit.NewLogger(mustInitAuditSink(cfg.Audit, auditRepo), dispatcher)
	)
	loginService := auth.NewLoginService(
		auth.Config{
			SessionDuration:    cfg.Session.Duration,
			RememberMeDuration: cfg.Session.RememberMeDuration,
		},
		userService,
		twoFactorService,
		sessionStore,
		auditLogger,
		dispatcher,
		mail.NewLockoutNotifier(mustInitMailSender(cfg)),
	)

	return &AppContext{
		config:       cfg,
		db:           db,
		redisStorage: redisStorage,
		dispatcher:   dispatcher,
		auditRepo:    auditRepo,
		auditLogger:  auditLogger,
		userService:  userService,
		loginService: loginService,
		sessionStore: sessionStore,
		directory:    mustInitDirectory(cfg.Tenancy, db, redisStorage),
	}
}

// Close waits for background tasks before releasing connections.
func (a *AppContext) Close() {
	a.dispatcher.Close()
	if err := a.redisStorage.Close(); err != nil {
		slog.Warn("Failed to close redis", "error", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func mustBuildRouteRules(rules []config.RouteRuleConfig) []*gate.RouteRule {
	routes := make([]*gate.RouteRule, 0, len(rules))
	for _, rule := range rules {
		route, err := gate.NewRouteRule(gate.RouteRuleOptions{
			Pattern:    rule.Pattern,
			Roles:      rule.Roles,
			Permission: rule.Permission,
			ScopeType:  rule.ScopeType,
			ScopeParam: rule.ScopeParam,
		})
		if err != nil {
			slog.Error("Invalid gate route", "error", err)
			os.Exit(1)
		}
		routes = append(routes, route)
	}
	return routes
}

func mustInitRateLimiter(cfg config.RateLimitConfig, redisStorage *redisstorage.Storage) *ratelimit.FixedWindow {
	var counter ratelimit.Counter
	switch cfg.Backend {
	case "memory":
		counter = ratelimit.NewMemoryCounter(memory.New())
	case "redis":
		counter = ratelimit.NewRedisCounter(redisStorage.Conn())
	default:
		slog.Error("Unsupported rate limit backend", "backend", cfg.Backend)
		os.Exit(1)
	}
	return ratelimit.NewFixedWindow(counter, cfg.Max, cfg.Window)
}

// forwardTo proxies admitted requests to upstream on their tenant route.
func forwardTo(upstream string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		target := upstream + ctx.Path()
		if query := ctx.Request().URI().QueryString(); len(query) > 0 {
			target += "?" + string(query)
		}
		return proxy.Do(ctx, target)
	}
}

func run(ctx *cli.Context) error {
	appCtx := mustInitAppContext(ctx)
	defer appCtx.Close()
	cfg := appCtx.config

	sessionManager := sessions.NewManager(sessions.Config{
		Store:        appCtx.sessionStore,
		Signer:       sessions.NewCookieSigner(cfg.MasterKey),
		CookieName:   cfg.Session.CookieName,
		CookieSecure: cfg.Production,
	})

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(logger.New())
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	router.Use(tenancy.New(tenancy.Config{
		Resolver:            appCtx.directory,
		PassthroughPrefixes: cfg.Tenancy.PassthroughPrefixes,
	}))
	router.Use(limiter.New(limiter.Config{
		Limiter:  mustInitRateLimiter(cfg.RateLimit, appCtx.redisStorage),
		Audit:    appCtx.auditLogger,
		Prefixes: cfg.RateLimit.Prefixes,
	}))
	router.Use(gate.New(gate.Config{
		Sessions:       sessionManager,
		Grants:         appCtx.userService,
		Resolver:       authz.NewResolver(),
		Audit:          appCtx.auditLogger,
		Dispatcher:     appCtx.dispatcher,
		LoginPath:      cfg.Gate.LoginPath,
		PublicPaths:    cfg.Gate.PublicPaths,
		PublicPrefixes: cfg.Gate.PublicPrefixes,
		Routes:         mustBuildRouteRules(cfg.Gate.Routes),
		DefaultDeny:    cfg.Gate.DefaultDeny,
	}))

	api.NewAuthHandler(appCtx.loginService, sessionManager).Register(router.Group("/auth"))
	if cfg.Gate.Upstream != "" {
		router.All("/*", forwardTo(cfg.Gate.Upstream))
	}

	healthCheckCtx, term := context.WithCancel(ctx.Context)
	done := make(chan struct{})
	go common.StartHealthCheckServer(healthCheckCtx, done, appCtx.redisStorage.Conn(), appCtx.db)
	defer func() {
		term()
		<-done
	}()
	slog.Info("Starting kgate", "version", params.VersionWithCommit(gitCommit, gitDate), "tag", gitTag, "listen", cfg.ListenAddr)
	return router.Listen(cfg.ListenAddr)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
