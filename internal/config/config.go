package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultListenAddr     = ":3000"
	DefaultCookieName     = "kgate_session"
	DefaultLoginPath      = "/login"
	DefaultDatabaseDriver = "mysql"
)

type DatabaseConfig struct {
	Driver          string   `mapstructure:"driver"` // mysql or sqlite
	Dsn             string   `mapstructure:"dsn"`
	Replicas        []string `mapstructure:"replicas"`
	TablePrefix     string   `mapstructure:"tablePrefix"`
	MaxIdleConns    int      `mapstructure:"maxIdleConns"`
	MaxOpenConns    int      `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int      `mapstructure:"connMaxIdleTime"` // seconds
	ConnMaxLifetime int      `mapstructure:"connMaxLifetime"` // seconds
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type SessionConfig struct {
	CookieName         string        `mapstructure:"cookieName"`
	Duration           time.Duration `mapstructure:"duration"`
	RememberMeDuration time.Duration `mapstructure:"rememberMeDuration"`
}

type CustomDomainConfig struct {
	Host   string `mapstructure:"host"`
	Tenant string `mapstructure:"tenant"`
}

type TenancyConfig struct {
	BaseDomain          string               `mapstructure:"baseDomain"`
	CustomDomains       []CustomDomainConfig `mapstructure:"customDomains"`
	DemoTenants         []string             `mapstructure:"demoTenants"`
	PassthroughPrefixes []string             `mapstructure:"passthroughPrefixes"` // paths never rewritten under the tenant prefix
	CacheBackend        string               `mapstructure:"cacheBackend"`        // memory or redis
	CacheExpiration     time.Duration        `mapstructure:"cacheExpiration"`
}

type RouteRuleConfig struct {
	Pattern    string   `mapstructure:"pattern"`
	Roles      []string `mapstructure:"roles"`
	Permission string   `mapstructure:"permission"`
	ScopeType  string   `mapstructure:"scopeType"`
	ScopeParam string   `mapstructure:"scopeParam"`
}

type GateConfig struct {
	LoginPath      string            `mapstructure:"loginPath"`
	PublicPaths    []string          `mapstructure:"publicPaths"`
	PublicPrefixes []string          `mapstructure:"publicPrefixes"`
	Routes         []RouteRuleConfig `mapstructure:"routes"`
	Upstream       string            `mapstructure:"upstream"`    // admitted requests are forwarded here when set
	DefaultDeny    bool              `mapstructure:"defaultDeny"` // reject requests no route rule matches
}

type RateLimitConfig struct {
	Backend  string        `mapstructure:"backend"` // memory or redis
	Max      int           `mapstructure:"max"`
	Window   time.Duration `mapstructure:"window"`
	Prefixes []string      `mapstructure:"prefixes"`
}

type AuditConfig struct {
	Sink string `mapstructure:"sink"` // database or stdout
}

type DispatchConfig struct {
	MaxInFlight int           `mapstructure:"maxInFlight"`
	TaskTimeout time.Duration `mapstructure:"taskTimeout"`
}

type TOTPConfig struct {
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Format string `mapstructure:"format"` // text or json
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
}

type MailConfig struct {
	Backend     string     `mapstructure:"backend"` // smtp or none
	From        string     `mapstructure:"from"`
	TemplateDir string     `mapstructure:"templateDir"`
	SMTP        SMTPConfig `mapstructure:"smtp"`
}

type Config struct {
	Debug        bool            `mapstructure:"debug"`
	Production   bool            `mapstructure:"production"`
	BaseURL      string          `mapstructure:"baseURL"`
	MasterKey    string          `mapstructure:"masterKey"`
	ListenAddr   string          `mapstructure:"listenAddr"`
	AllowOrigins []string        `mapstructure:"allowOrigins"`
	Log          LogConfig       `mapstructure:"log"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Database     DatabaseConfig  `mapstructure:"database"`
	Session      SessionConfig   `mapstructure:"session"`
	Tenancy      TenancyConfig   `mapstructure:"tenancy"`
	Gate         GateConfig      `mapstructure:"gate"`
	RateLimit    RateLimitConfig `mapstructure:"rateLimit"`
	Audit        AuditConfig     `mapstructure:"audit"`
	Dispatch     DispatchConfig  `mapstructure:"dispatch"`
	TOTP         TOTPConfig      `mapstructure:"totp"`
	Mail         MailConfig      `mapstructure:"mail"`
}

func (c *Config) Sanitize() error {
	if c.MasterKey == "" {
		return fmt.Errorf("masterKey is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = DefaultCookieName
	}
	if c.Gate.LoginPath == "" {
		c.Gate.LoginPath = DefaultLoginPath
	}
	if len(c.Gate.PublicPrefixes) == 0 {
		c.Gate.PublicPrefixes = []string{"/auth/", "/webhooks/"}
	}
	c.Gate.Upstream = strings.TrimSuffix(c.Gate.Upstream, "/")
	if c.Tenancy.CacheBackend == "" {
		c.Tenancy.CacheBackend = "memory"
	}
	if len(c.Tenancy.PassthroughPrefixes) == 0 {
		c.Tenancy.PassthroughPrefixes = []string{"/auth/", "/webhooks/"}
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if len(c.RateLimit.Prefixes) == 0 {
		c.RateLimit.Prefixes = []string{"/webhooks/"}
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = "database"
	}
	if c.TOTP.Issuer == "" {
		c.TOTP.Issuer = "kgate"
	}
	if c.Mail.Backend == "" {
		c.Mail.Backend = "none"
	}
	for i, rule := range c.Gate.Routes {
		if rule.Pattern == "" {
			return fmt.Errorf("gate route %d: missing pattern", i)
		}
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
