package sessions

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/khanghh/kgate/internal/common"
	"github.com/khanghh/kgate/internal/store"
	"github.com/khanghh/kgate/params"
	"github.com/redis/go-redis/v9"
)

// Store keeps sessions in redis under an HMAC of the token, so a dump of the
// store does not yield usable tokens. A per-principal set indexes the keys
// for bulk revocation.
type Store struct {
	sessions  store.Store[Session]
	rdb       redis.UniversalClient
	masterKey string
}

func (s *Store) sessionKey(token string) string {
	return common.CalculateHash(s.masterKey, "session", token)
}

func indexKey(principalID uint) string {
	return params.SessionIndexKeyPrefix + strconv.FormatUint(uint64(principalID), 10)
}

// Create issues a new token for sess and persists it until sess.ExpiresAt.
func (s *Store) Create(ctx context.Context, sess Session) (*Session, error) {
	token, err := common.GenerateToken(params.SessionTokenBytes)
	if err != nil {
		return nil, err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil, ErrSessionExpired
	}
	key := s.sessionKey(token)
	if err := s.sessions.Set(ctx, key, sess, ttl); err != nil {
		return nil, err
	}

	idx := indexKey(sess.PrincipalID)
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, idx, key)
	pipe.ExpireGT(ctx, idx, ttl)
	pipe.ExpireNX(ctx, idx, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	sess.Token = token
	return &sess, nil
}

// Get returns the session for token. Expired sessions are deleted and
// reported as ErrSessionExpired.
func (s *Store) Get(ctx context.Context, token string, now time.Time) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	key := s.sessionKey(token)
	sess, err := s.sessions.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.PrincipalID == 0 {
		return nil, ErrSessionNotFound
	}
	if sess.IsExpired(now) {
		s.delete(ctx, key, sess.PrincipalID)
		return nil, ErrSessionExpired
	}
	sess.Token = token
	return &sess, nil
}

func (s *Store) Touch(ctx context.Context, token string, at time.Time) error {
	err := s.sessions.SetAttr(ctx, s.sessionKey(token), "last_activity_at", at)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

func (s *Store) Delete(ctx context.Context, sess *Session) error {
	return s.delete(ctx, s.sessionKey(sess.Token), sess.PrincipalID)
}

func (s *Store) delete(ctx context.Context, key string, principalID uint) error {
	err := s.sessions.Delete(ctx, key)
	s.rdb.SRem(ctx, indexKey(principalID), key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// RevokeAll deletes every session of the principal and returns how many were live.
func (s *Store) RevokeAll(ctx context.Context, principalID uint) (int, error) {
	idx := indexKey(principalID)
	keys, err := s.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, key := range keys {
		err := s.sessions.Delete(ctx, key)
		if err == nil {
			revoked++
		} else if !errors.Is(err, store.ErrNotFound) {
			return revoked, err
		}
	}
	return revoked, s.rdb.Del(ctx, idx).Err()
}

func NewStore(rdb redis.UniversalClient, masterKey string) *Store {
	return &Store{
		sessions:  store.New[Session](store.NewRedisStorage(rdb), params.SessionKeyPrefix),
		rdb:       rdb,
		masterKey: masterKey,
	}
}
