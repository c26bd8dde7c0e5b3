package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout under prefix (default "trackr:refresh:"):
//
//	rec:<id>      hash of the record fields, times in unix milliseconds
//	hash:<digest> string, the record id
//	user:<userID> set of record ids
//
// Records carry no TTL; like the SQL table they are never deleted here.
// Multi-key scripts assume a single node or a Sentinel deployment.

const (
	scriptOK        = 1
	scriptConflict  = 0
	scriptDuplicate = -1
	scriptMismatch  = -2
	scriptNotFound  = -3
)

const insertRecordScript = `
local rec_key = KEYS[1]
local hash_key = KEYS[2]
local user_key = KEYS[3]

if redis.call("EXISTS", rec_key) == 1 or redis.call("EXISTS", hash_key) == 1 then
  return -1
end

redis.call("HSET", rec_key,
  "id", ARGV[1], "user_id", ARGV[2], "token_hash", ARGV[3],
  "issued_at", ARGV[4], "expires_at", ARGV[5])
redis.call("SET", hash_key, ARGV[1])
redis.call("SADD", user_key, ARGV[1])
return 1
`

const rotateRecordScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local new_hash_key = KEYS[3]
local user_key = KEYS[4]
local now_ms = tonumber(ARGV[1])

if redis.call("EXISTS", old_key) == 0 then
  return 0
end

local f = redis.call("HMGET", old_key, "revoked_at", "expires_at", "user_id")
if f[1] then
  return 0
end
if tonumber(f[2]) <= now_ms then
  return 0
end
if f[3] ~= ARGV[3] then
  return -2
end
if redis.call("EXISTS", new_key) == 1 or redis.call("EXISTS", new_hash_key) == 1 then
  return -1
end

redis.call("HSET", new_key,
  "id", ARGV[2], "user_id", ARGV[3], "token_hash", ARGV[4],
  "issued_at", ARGV[5], "expires_at", ARGV[6])
redis.call("SET", new_hash_key, ARGV[2])
redis.call("SADD", user_key, ARGV[2])
redis.call("HSET", old_key,
  "revoked_at", ARGV[1], "replaced_by_id", ARGV[2], "revocation_reason", "rotation")
return 1
`

const revokeRecordScript = `
local rec_key = KEYS[1]
if redis.call("EXISTS", rec_key) == 0 then
  return -3
end
if redis.call("HEXISTS", rec_key, "revoked_at") == 1 then
  return 0
end
redis.call("HSET", rec_key, "revoked_at", ARGV[1], "revocation_reason", ARGV[2])
return 1
`

const revokeUserScript = `
local user_key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rec_prefix = ARGV[3]
local n = 0

for _, id in ipairs(redis.call("SMEMBERS", user_key)) do
  local rec_key = rec_prefix .. id
  local f = redis.call("HMGET", rec_key, "revoked_at", "expires_at")
  if not f[1] and f[2] and tonumber(f[2]) > now_ms then
    redis.call("HSET", rec_key, "revoked_at", ARGV[1], "revocation_reason", ARGV[2])
    n = n + 1
  end
end
return n
`

var (
	insertRecordLua = redis.NewScript(insertRecordScript)
	rotateRecordLua = redis.NewScript(rotateRecordScript)
	revokeRecordLua = redis.NewScript(revokeRecordScript)
	revokeUserLua   = redis.NewScript(revokeUserScript)
)

// RedisLedger stores records in Redis. Every mutation is a single Lua script,
// so Rotate is a server-side compare-and-swap.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisLedger)

// WithKeyPrefix overrides the default "trackr:refresh:" prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

func NewRedisLedger(rdb redis.UniversalClient, opts ...RedisOption) (*RedisLedger, error) {
	if rdb == nil {
		return nil, errors.New("session: nil redis client")
	}
	l := &RedisLedger{rdb: rdb, prefix: "trackr:refresh:"}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

func (l *RedisLedger) recKey(id string) string   { return l.prefix + "rec:" + id }
func (l *RedisLedger) hashKey(h string) string   { return l.prefix + "hash:" + h }
func (l *RedisLedger) userKey(uid string) string { return l.prefix + "user:" + uid }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func (l *RedisLedger) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.UserID == "" || rec.TokenHash == "" {
		return errors.New("session: incomplete refresh record")
	}
	code, err := insertRecordLua.Run(ctx, l.rdb,
		[]string{l.recKey(rec.ID), l.hashKey(rec.TokenHash), l.userKey(rec.UserID)},
		rec.ID, rec.UserID, rec.TokenHash, millis(rec.IssuedAt), millis(rec.ExpiresAt),
	).Int()
	if err != nil {
		return fmt.Errorf("session: redis insert: %w", err)
	}
	if code == scriptDuplicate {
		return errDuplicateRecord
	}
	return nil
}

func (l *RedisLedger) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	id, err := l.rdb.Get(ctx, l.hashKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: %w", err)
	}

	fields, err := l.rdb.HGetAll(ctx, l.recKey(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return decodeRecord(fields)
}

func decodeRecord(f map[string]string) (Record, error) {
	r := Record{ID: f["id"], UserID: f["user_id"], TokenHash: f["token_hash"]}

	var err error
	if r.IssuedAt, err = parseMillis(f["issued_at"]); err != nil {
		return Record{}, err
	}
	if r.ExpiresAt, err = parseMillis(f["expires_at"]); err != nil {
		return Record{}, err
	}
	if v, ok := f["revoked_at"]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return Record{}, err
		}
		r.RevokedAt = &t
	}
	if v, ok := f["replaced_by_id"]; ok {
		r.ReplacedByID = ptr(v)
	}
	if v, ok := f["revocation_reason"]; ok {
		r.RevocationReason = ptr(v)
	}
	return r, nil
}

func parseMillis(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("session: corrupt redis record time %q", s)
	}
	return time.UnixMilli(n).UTC(), nil
}

func (l *RedisLedger) Rotate(ctx context.Context, now time.Time, consumedID string, next Record) error {
	code, err := rotateRecordLua.Run(ctx, l.rdb,
		[]string{
			l.recKey(consumedID),
			l.recKey(next.ID),
			l.hashKey(next.TokenHash),
			l.userKey(next.UserID),
		},
		millis(now), next.ID, next.UserID, next.TokenHash, millis(next.IssuedAt), millis(next.ExpiresAt),
	).Int()
	if err != nil {
		return fmt.Errorf("session: redis rotate: %w", err)
	}

	switch code {
	case scriptOK:
		return nil
	case scriptConflict:
		return ErrRotationConflict
	case scriptDuplicate:
		return errDuplicateRecord
	case scriptMismatch:
		return errors.New("session: rotation across users")
	default:
		return fmt.Errorf("session: redis rotate: unexpected status %d", code)
	}
}

func (l *RedisLedger) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	code, err := revokeRecordLua.Run(ctx, l.rdb, []string{l.recKey(id)}, millis(now), reason).Int()
	if err != nil {
		return false, fmt.Errorf("session: redis revoke: %w", err)
	}
	switch code {
	case scriptOK:
		return true, nil
	case scriptNotFound:
		return false, ErrRecordNotFound
	default:
		return false, nil
	}
}

func (l *RedisLedger) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int, error) {
	n, err := revokeUserLua.Run(ctx, l.rdb, []string{l.userKey(userID)},
		millis(now), reason, l.prefix+"rec:",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("session: redis revoke user: %w", err)
	}
	return n, nil
}
