package params

import "time"

const (
	ServerBodyLimit       = 1048576 // 1 MiB
	ServerIdleTimeout     = 30 * time.Second
	ServerReadTimeout     = 10 * time.Second
	ServerWriteTimeout    = 10 * time.Second
	SessionKeyPrefix      = "s:"  // session hash, keyed by hmac of the session token
	SessionIndexKeyPrefix = "si:" // set of session keys per principal
	EnrollmentKeyPrefix   = "e:"  // pending totp enrollment secret
	TOTPStepKeyPrefix     = "ts:" // accepted totp step, ts:<principal>:<step>
	RateLimitKeyPrefix    = "rl:"
	TenantCacheKeyPrefix  = "tn:"
)

const (
	SessionTokenBytes       = 32                  // random bytes in an opaque session token
	SessionDuration         = 24 * time.Hour      // default session lifetime
	RememberMeDuration      = 30 * 24 * time.Hour // session lifetime when remember me is set
	PasswordHashCost        = 11                  // bcrypt cost, ~100ms per hash on commodity hardware
	LockoutThreshold        = 5                   // consecutive failures before the account is locked
	LockoutDuration         = 30 * time.Minute    // lock duration from the failure that triggered it
	FailedAttemptMaxRetries = 5                   // compare-and-set retries when recording a failed attempt
	TOTPPeriod              = 30                  // seconds per totp step
	TOTPSkew                = 1                   // steps accepted on each side of the current one
	TOTPDigits              = 6
	BackupCodeCount         = 10 // backup codes issued on enrollment
	BackupCodeLength        = 8
	EnrollmentExpiration    = 10 * time.Minute // pending enrollment secret lifetime
	RateLimitWindow         = 60 * time.Second // fixed window for webhook rate limiting
	RateLimitDefaultMax     = 120              // requests per window per caller
	DispatchMaxInFlight     = 64               // background tasks allowed to run concurrently
	DispatchTaskTimeout     = 5 * time.Second  // deadline for a single background task
	TenantCacheExpiration   = 5 * time.Minute  // custom domain lookup cache ttl
	HealthCheckServerAddr   = ":3001"          // health check server address
)
