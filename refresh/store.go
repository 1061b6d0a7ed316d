package refresh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls credential lifetime, the per-user active quota, and the
// Redis key namespace.
type Config struct {
	Prefix           string
	TTL              time.Duration
	MaxActivePerUser int // 0 disables quota enforcement
}

// Store is the Redis-backed credential store. Every mutating operation runs
// as one Lua script: scripts execute atomically, which gives redeem/rotate
// its compare-and-swap semantics and serializes quota eviction per user.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// NewStore creates a credential [Store] backed by the given Redis client.
func NewStore(redisClient redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "ac"
	}
	return &Store{redis: redisClient, config: cfg}
}

func (s *Store) recordPrefix() string {
	return s.config.Prefix + ":rc:"
}

func (s *Store) indexPrefix() string {
	return s.config.Prefix + ":ru:"
}

func (s *Store) recordKey(id string) string {
	return s.recordPrefix() + id
}

func (s *Store) indexKey(userID string) string {
	return s.indexPrefix() + userID
}

// createScript prunes dead index entries, deactivates the oldest active
// records beyond the quota, and inserts the new record — all in one atomic
// step, so two concurrent logins cannot both "see room" under the quota.
const createScript = `
local index = KEYS[1]
local rprefix = ARGV[1]
local now = tonumber(ARGV[8])
local quota = tonumber(ARGV[11])

local ids = redis.call("ZRANGE", index, 0, -1)
local active = {}
for _, id in ipairs(ids) do
  local key = rprefix .. id
  local act = redis.call("HGET", key, "act")
  local exp = tonumber(redis.call("HGET", key, "exp") or "0")
  if not act or act ~= "1" or exp <= now then
    redis.call("ZREM", index, id)
  else
    active[#active + 1] = id
  end
end

local evicted = 0
if quota > 0 then
  local over = #active - (quota - 1)
  for i = 1, over do
    local key = rprefix .. active[i]
    redis.call("HSET", key, "act", "0")
    redis.call("ZREM", index, active[i])
    evicted = evicted + 1
  end
end

local key = rprefix .. ARGV[2]
redis.call("HSET", key,
  "uid", ARGV[3], "sh", ARGV[4],
  "ua", ARGV[5], "ip", ARGV[6], "dc", ARGV[7],
  "act", "1", "cat", ARGV[8], "lat", ARGV[8], "exp", ARGV[9])
redis.call("PEXPIRE", key, tonumber(ARGV[10]))
redis.call("ZADD", index, now, ARGV[2])
return evicted
`

var createLua = redis.NewScript(createScript)

const (
	redeemStatusNotFound int64 = 0
	redeemStatusExpired  int64 = 1
	redeemStatusInactive int64 = 2
	redeemStatusMismatch int64 = 3
	redeemStatusOK       int64 = 4
)

// redeemScript is find-active-and-touch plus optional rotation. The status
// codes let the caller distinguish replay (inactive) from plain absence
// without a second round trip.
const redeemScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {0}
end

local rec = redis.call("HMGET", key, "uid", "sh", "ua", "ip", "dc", "act", "cat", "exp")
local uid = rec[1]
local index = ARGV[4] .. uid
local now = tonumber(ARGV[3])

if tonumber(rec[8]) <= now then
  redis.call("DEL", key)
  redis.call("ZREM", index, ARGV[1])
  return {1}
end
if rec[6] ~= "1" then
  return {2}
end
if rec[2] ~= ARGV[2] then
  return {3}
end

redis.call("HSET", key, "lat", ARGV[3])

if ARGV[5] == "1" then
  redis.call("HSET", key, "act", "0")
  redis.call("ZREM", index, ARGV[1])
  local newKey = ARGV[10] .. ARGV[6]
  redis.call("HSET", newKey,
    "uid", uid, "sh", ARGV[7],
    "ua", rec[3], "ip", rec[4], "dc", rec[5],
    "act", "1", "cat", ARGV[3], "lat", ARGV[3], "exp", ARGV[8])
  redis.call("PEXPIRE", newKey, tonumber(ARGV[9]))
  redis.call("ZADD", index, now, ARGV[6])
end

return {4, uid, rec[3], rec[4], rec[5], rec[7], rec[8]}
`

var redeemLua = redis.NewScript(redeemScript)

const deactivateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local uid = redis.call("HGET", KEYS[1], "uid")
local was = redis.call("HGET", KEYS[1], "act")
redis.call("HSET", KEYS[1], "act", "0")
redis.call("ZREM", ARGV[2] .. uid, ARGV[1])
if was == "1" then
  return 1
end
return 0
`

var deactivateLua = redis.NewScript(deactivateScript)

const deactivateAllScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "act") == "1" then
    redis.call("HSET", key, "act", "0")
    n = n + 1
  end
end
redis.call("DEL", KEYS[1])
return n
`

var deactivateAllLua = redis.NewScript(deactivateAllScript)

const pruneScript = `
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
local now = tonumber(ARGV[2])
local removed = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 0 then
    redis.call("ZREM", KEYS[1], id)
  else
    local exp = tonumber(redis.call("HGET", key, "exp") or "0")
    if exp <= now then
      redis.call("DEL", key)
      redis.call("ZREM", KEYS[1], id)
      removed = removed + 1
    elseif redis.call("HGET", key, "act") ~= "1" then
      redis.call("ZREM", KEYS[1], id)
    end
  end
end
return removed
`

var pruneLua = redis.NewScript(pruneScript)

// Create inserts a new active record for the user. Eviction order inside the
// script: expired/inactive index entries are pruned first, then the oldest
// active records beyond the quota are deactivated, then the record is
// written. Returns the stored record.
func (s *Store) Create(ctx context.Context, userID, id string, secretHash [32]byte, device DeviceInfo) (*Record, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.TTL)

	err := createLua.Run(ctx, s.redis,
		[]string{s.indexKey(userID)},
		s.recordPrefix(),
		id,
		userID,
		hex.EncodeToString(secretHash[:]),
		device.UserAgent,
		device.IP,
		string(device.Class),
		now.UnixMilli(),
		expiresAt.UnixMilli(),
		s.config.TTL.Milliseconds(),
		s.config.MaxActivePerUser,
	).Err()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Record{
		ID:         id,
		UserID:     userID,
		Device:     device,
		Active:     true,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Redeem validates the credential (active, unexpired, matching secret hash),
// updates its last-used timestamp, and — when replacement is non-nil —
// atomically deactivates it and writes the replacement record with a fresh
// TTL. Two concurrent redeems of the same credential under rotation resolve
// to exactly one winner; the loser observes [ErrInactive].
func (s *Store) Redeem(ctx context.Context, id string, providedHash [32]byte, replacement *Replacement) (*Record, error) {
	now := time.Now()

	rotate := "0"
	newID := ""
	newHash := ""
	if replacement != nil {
		rotate = "1"
		newID = replacement.ID
		newHash = hex.EncodeToString(replacement.SecretHash[:])
	}

	res, err := redeemLua.Run(ctx, s.redis,
		[]string{s.recordKey(id)},
		id,
		hex.EncodeToString(providedHash[:]),
		now.UnixMilli(),
		s.indexPrefix(),
		rotate,
		newID,
		newHash,
		now.Add(s.config.TTL).UnixMilli(),
		s.config.TTL.Milliseconds(),
		s.recordPrefix(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) == 0 {
		return nil, ErrStoreUnavailable
	}

	status, _ := res[0].(int64)
	switch status {
	case redeemStatusNotFound:
		return nil, ErrNotFound
	case redeemStatusExpired:
		return nil, ErrExpired
	case redeemStatusInactive:
		return nil, ErrInactive
	case redeemStatusMismatch:
		return nil, ErrSecretMismatch
	case redeemStatusOK:
		if len(res) < 7 {
			return nil, fmt.Errorf("%w: short redeem reply", ErrStoreUnavailable)
		}
		rec := &Record{
			ID:     id,
			UserID: luaString(res[1]),
			Device: DeviceInfo{
				UserAgent: luaString(res[2]),
				IP:        luaString(res[3]),
				Class:     DeviceClass(luaString(res[4])),
			},
			Active:     replacement == nil,
			CreatedAt:  time.UnixMilli(luaInt(res[5])),
			LastUsedAt: now,
			ExpiresAt:  time.UnixMilli(luaInt(res[6])),
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: unexpected redeem status %d", ErrStoreUnavailable, status)
	}
}

// Deactivate sets active = false for the credential. Idempotent: absent or
// already-inactive credentials are not an error.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	err := deactivateLua.Run(ctx, s.redis,
		[]string{s.recordKey(id)},
		id,
		s.indexPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeactivateAll deactivates every active credential owned by the user and
// returns how many were active. Idempotent.
func (s *Store) DeactivateAll(ctx context.Context, userID string) (int, error) {
	n, err := deactivateAllLua.Run(ctx, s.redis,
		[]string{s.indexKey(userID)},
		s.recordPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Get returns the record for a credential id, regardless of its active flag.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(id, fields), nil
}

// ListActive returns the user's currently usable credentials, oldest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.redis.ZRange(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now()
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.Usable(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ActiveCount returns how many usable credentials the user holds.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	recs, err := s.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Sweep prunes per-user indexes and deletes records whose expiry passed.
// Record keys already carry a Redis TTL, so Sweep is belt-and-braces for the
// indexes rather than the primary expiry mechanism. Intended to be run
// periodically, not on the request path.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	now := time.Now().UnixMilli()

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.indexPrefix()+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, key := range keys {
			n, err := pruneLua.Run(ctx, s.redis, []string{key}, s.recordPrefix(), now).Int()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func recordFromFields(id string, fields map[string]string) *Record {
	cat, _ := strconv.ParseInt(fields["cat"], 10, 64)
	lat, _ := strconv.ParseInt(fields["lat"], 10, 64)
	exp, _ := strconv.ParseInt(fields["exp"], 10, 64)

	return &Record{
		ID:     id,
		UserID: fields["uid"],
		Device: DeviceInfo{
			UserAgent: fields["ua"],
			IP:        fields["ip"],
			Class:     DeviceClass(fields["dc"]),
		},
		Active:     fields["act"] == "1",
		CreatedAt:  time.UnixMilli(cat),
		LastUsedAt: time.UnixMilli(lat),
		ExpiresAt:  time.UnixMilli(exp),
	}
}

func luaString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func luaInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
