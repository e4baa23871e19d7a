package redisstore

import "github.com/redis/go-redis/v9"

// upsertScript replaces one record and maintains its secondary and grant keys.
//
// KEYS: record, secondary key or "", grant list or ""
// ARGV: payload, ttl ms (0 = none), id, secondary value, secondary key
// prefix, grant id, grant key prefix
//
// Returns 0 when another live record holds the secondary value.
var upsertScript = redis.NewScript(`
local rec, seckey, grantkey = KEYS[1], KEYS[2], KEYS[3]
local ttl = tonumber(ARGV[2])
local id, secval, grant = ARGV[3], ARGV[4], ARGV[6]

if seckey ~= '' then
  local holder = redis.call('GET', seckey)
  if holder and holder ~= id then
    return 0
  end
end

local old = redis.call('HMGET', rec, 'sec', 'grant')
if old[1] and old[1] ~= '' and old[1] ~= secval then
  local oldkey = ARGV[5] .. old[1]
  if redis.call('GET', oldkey) == id then
    redis.call('DEL', oldkey)
  end
end
if old[2] and old[2] ~= '' and old[2] ~= grant then
  redis.call('LREM', ARGV[7] .. old[2], 0, rec)
end

redis.call('DEL', rec)
redis.call('HSET', rec, 'payload', ARGV[1], 'sec', secval, 'grant', grant)
if ttl > 0 then
  redis.call('PEXPIRE', rec, ttl)
end

if seckey ~= '' then
  if ttl > 0 then
    redis.call('SET', seckey, id, 'PX', ttl)
  else
    redis.call('SET', seckey, id)
  end
end

if grantkey ~= '' then
  redis.call('LREM', grantkey, 0, rec)
  local n = redis.call('RPUSH', grantkey, rec)
  local cur = redis.call('PTTL', grantkey)
  if ttl <= 0 then
    redis.call('PERSIST', grantkey)
  elseif n == 1 or (cur >= 0 and cur < ttl) then
    redis.call('PEXPIRE', grantkey, ttl)
  end
end
return 1
`)

// consumeScript raises the consumed field to ARGV[1] unless it is already
// larger. Missing records are left missing; the TTL is untouched.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'consumed') or '0') or 0
if tonumber(ARGV[1]) > cur then
  redis.call('HSET', KEYS[1], 'consumed', ARGV[1])
end
return 1
`)

// destroyScript deletes a record plus the secondary pointer and grant list
// entry that still refer to it.
//
// KEYS: record
// ARGV: id, secondary key prefix, grant key prefix
var destroyScript = redis.NewScript(`
local meta = redis.call('HMGET', KEYS[1], 'sec', 'grant')
local n = redis.call('DEL', KEYS[1])
if meta[1] and meta[1] ~= '' then
  local k = ARGV[2] .. meta[1]
  if redis.call('GET', k) == ARGV[1] then
    redis.call('DEL', k)
  end
end
if meta[2] and meta[2] ~= '' then
  redis.call('LREM', ARGV[3] .. meta[2], 0, KEYS[1])
end
return n
`)
