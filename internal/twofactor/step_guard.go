package twofactor

import (
	"context"
	"strconv"
	"time"

	"github.com/khanghh/kgate/params"
	"github.com/redis/go-redis/v9"
)

// stepGuard remembers every TOTP step accepted for a principal until it can
// no longer verify, so the same code is accepted at most once. Other steps
// inside the skew window stay usable.
type stepGuard struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func stepKey(principalID uint, step int64) string {
	return params.TOTPStepKeyPrefix + strconv.FormatUint(uint64(principalID), 10) + ":" + strconv.FormatInt(step, 10)
}

func (g *stepGuard) Accept(ctx context.Context, principalID uint, step int64) (bool, error) {
	return g.rdb.SetNX(ctx, stepKey(principalID, step), 1, g.ttl).Result()
}

func newStepGuard(rdb redis.UniversalClient) *stepGuard {
	return &stepGuard{
		rdb: rdb,
		ttl: time.Duration(2*params.TOTPSkew+1) * params.TOTPPeriod * time.Second,
	}
}
