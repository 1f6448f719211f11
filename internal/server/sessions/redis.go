// Package sessions is the revocation cache: one record per issued token,
// keyed by jti, plus a per-user index used for bulk invalidation.
//
// Layout, where p is the configured prefix:
//
//	p:session:<jti>          hash  uid typ exp pair revoked
//	p:user:<uid>:sessions    set   of jti
//
// Records expire on their own once the token they describe can no longer
// verify, so the cache never needs a sweeper.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// registerScript writes the record, adds it to the user index and extends
// the index TTL so it never expires before its longest-lived member.
var registerScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'uid', ARGV[1], 'typ', ARGV[2], 'exp', ARGV[3], 'pair', ARGV[4], 'revoked', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[6])
local ttl = redis.call('PTTL', KEYS[2])
if ttl < tonumber(ARGV[5]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[5])
end
return 1
`)

// revokeScript flips the revoked flag. It returns -1 when the record does
// not exist, 0 when it was already revoked and 1 when this call revoked it.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1
`)

const (
	revokeMissing = -1
	revokeAlready = 0
	revokeFlipped = 1
)

// Store is a Redis-backed session cache. It is safe for concurrent use.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store using rdb. An empty prefix defaults to "sk".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sk"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) sessionKey(jti string) string {
	return s.prefix + ":session:" + jti
}

func (s *Store) userKey(uid string) string {
	return s.prefix + ":user:" + uid + ":sessions"
}

// Register stores rec as an active session that lives for ttl.
func (s *Store) Register(ctx context.Context, rec *models.SessionRecord, ttl time.Duration) error {
	if rec.TokenID == "" || rec.UserID == "" {
		return errors.New("session record requires token id and user id")
	}
	if ttl <= 0 {
		return fmt.Errorf("non-positive session ttl %s", ttl)
	}

	keys := []string{s.sessionKey(rec.TokenID), s.userKey(rec.UserID)}
	err := registerScript.Run(ctx, s.rdb, keys,
		rec.UserID,
		string(rec.Type),
		rec.ExpiresAt.UnixMilli(),
		rec.PairID,
		ttl.Milliseconds(),
		rec.TokenID,
	).Err()
	if err != nil {
		return wrap(err)
	}
	return nil
}

// Lookup returns the record for jti or common.ErrSessionNotFound.
func (s *Store) Lookup(ctx context.Context, jti string) (*models.SessionRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(jti)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if len(fields) == 0 {
		return nil, common.ErrSessionNotFound
	}
	return decode(jti, fields)
}

// IsRevoked reports whether jti is revoked. A missing record counts as
// revoked: the cache is the only authority on whether a session is live.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	rec, err := s.Lookup(ctx, jti)
	if errors.Is(err, common.ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Revoked, nil
}

// Revoke marks jti revoked. Revoking an unknown or already revoked session
// is not an error.
func (s *Store) Revoke(ctx context.Context, jti string) error {
	_, err := s.revoke(ctx, jti)
	return err
}

// RevokeIfActive atomically revokes jti and reports whether this call was
// the one that did it. Concurrent callers racing on the same jti see
// exactly one true.
func (s *Store) RevokeIfActive(ctx context.Context, jti string) (bool, error) {
	res, err := s.revoke(ctx, jti)
	if err != nil {
		return false, err
	}
	return res == revokeFlipped, nil
}

func (s *Store) revoke(ctx context.Context, jti string) (int64, error) {
	res, err := revokeScript.Run(ctx, s.rdb, []string{s.sessionKey(jti)}).Int64()
	if err != nil {
		return 0, wrap(err)
	}
	return res, nil
}

// RevokeAllForUser revokes every session in the user's index and returns
// how many were active. Members are removed from the index once processed;
// members that could not be revoked stay so a retry picks them up.
func (s *Store) RevokeAllForUser(ctx context.Context, uid string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(uid)).Result()
	if err != nil {
		return 0, wrap(err)
	}

	var (
		revoked int
		done    []any
		errs    []error
	)
	for _, jti := range ids {
		res, err := s.revoke(ctx, jti)
		if err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", jti, err))
			continue
		}
		if res == revokeFlipped {
			revoked++
		}
		done = append(done, jti)
	}

	if len(done) > 0 {
		if err := s.rdb.SRem(ctx, s.userKey(uid), done...).Err(); err != nil {
			errs = append(errs, wrap(err))
		}
	}
	return revoked, errors.Join(errs...)
}

// ListForUser returns the records still present for uid, revoked ones
// included. Index members whose record already expired are skipped.
func (s *Store) ListForUser(ctx context.Context, uid string) ([]*models.SessionRecord, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(uid)).Result()
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]*models.SessionRecord, 0, len(ids))
	for _, jti := range ids {
		rec, err := s.Lookup(ctx, jti)
		if errors.Is(err, common.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

func decode(jti string, f map[string]string) (*models.SessionRecord, error) {
	ms, err := strconv.ParseInt(f["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session %s: bad exp %q: %w", jti, f["exp"], err)
	}
	return &models.SessionRecord{
		TokenID:   jti,
		UserID:    f["uid"],
		Type:      models.TokenType(f["typ"]),
		PairID:    f["pair"],
		ExpiresAt: time.UnixMilli(ms),
		Revoked:   f["revoked"] == "1",
	}, nil
}

func wrap(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("session cache: %w: %w", common.ErrBackendUnavailable, err)
}
