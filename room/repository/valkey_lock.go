package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/blockroom/roomd/infrastructure/valkey"
	"github.com/blockroom/roomd/room/domain"
)

// Lua scripts give us the same atomic multi-key transactions the source
// relies on. Modeled after the single-key CAS-release script the session
// store uses for its distributed lock, generalized here to whole groups of
// block keys and to the client's reverse index in one round trip.

const acquireGroupScript = `
local n = #KEYS
for i = 1, n do
	local owner = redis.call("get", KEYS[i])
	if owner and owner ~= ARGV[1] then
		return {0, owner, ARGV[i + 1]}
	end
end
for i = 1, n do
	redis.call("set", KEYS[i], ARGV[1], "PX", ARGV[n + 2])
	redis.call("sadd", ARGV[n + 3], ARGV[i + 1])
end
return {1, "", ""}
`

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	redis.call("del", KEYS[1])
	redis.call("srem", KEYS[2], ARGV[2])
	return 1
end
return 0
`

const releaseGroupScript = `
local n = #KEYS - 1
local released = {}
for i = 1, n do
	local owner = redis.call("get", KEYS[i])
	if owner == ARGV[1] then
		redis.call("del", KEYS[i])
		redis.call("srem", KEYS[n + 1], ARGV[i + 1])
		table.insert(released, ARGV[i + 1])
	end
end
return released
`

const releaseAllScript = `
local members = redis.call("smembers", KEYS[1])
local released = {}
for i = 1, #members do
	local lockKey = ARGV[1] .. members[i]
	local owner = redis.call("get", lockKey)
	if owner == ARGV[2] then
		redis.call("del", lockKey)
		table.insert(released, members[i])
	end
end
redis.call("del", KEYS[1])
return released
`

const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`

const refreshAllScript = `
local members = redis.call("smembers", KEYS[1])
local count = 0
for i = 1, #members do
	local lockKey = ARGV[1] .. members[i]
	if redis.call("get", lockKey) == ARGV[2] then
		redis.call("pexpire", lockKey, ARGV[3])
		count = count + 1
	end
end
return count
`

// ValkeyLockManager implements domain.LockManager over the Shared State
// Store. Key layout:
// locks:{room}:{block} -> owner, clientlocks:{room}:{client} -> set of blocks.
type ValkeyLockManager struct {
	client *valkey.Client
}

func NewValkeyLockManager(client *valkey.Client) *ValkeyLockManager {
	return &ValkeyLockManager{client: client}
}

func (m *ValkeyLockManager) inner() valkeylib.Client {
	return m.client.Inner()
}

func (m *ValkeyLockManager) lockKey(room, block string) string {
	return m.client.Key("locks", room, block)
}

func (m *ValkeyLockManager) reverseKey(room, client string) string {
	return m.client.Key("clientlocks", room, client)
}

// Acquire is the 2-tuple form the coordinator's handle_acquire drives.
func (m *ValkeyLockManager) Acquire(ctx context.Context, room, block, client string, ttl time.Duration) (bool, string, error) {
	if client == "" {
		return false, "", domain.ErrEmptyClientID
	}

	lockKey := m.lockKey(room, block)
	cmd := m.inner().B().Set().Key(lockKey).Value(client).Nx().Px(ttl).Build()
	if err := m.inner().Do(ctx, cmd).Error(); err != nil {
		if !valkeylib.IsValkeyNil(err) {
			return false, "", fmt.Errorf("lock manager: acquire %s: %w", lockKey, err)
		}
		// NX failed: someone else holds it (or it raced to expire). Read
		// the owner back; a nil read here is tolerated by the caller.
		owner, oerr := m.GetOwner(ctx, room, block)
		if oerr != nil {
			return false, "", oerr
		}
		return false, owner, nil
	}

	addCmd := m.inner().B().Sadd().Key(m.reverseKey(room, client)).Member(block).Build()
	if err := m.inner().Do(ctx, addCmd).Error(); err != nil {
		return false, "", fmt.Errorf("lock manager: reverse index %s: %w", lockKey, err)
	}
	return true, "", nil
}

// AcquireGroup atomically acquires every block or none of them.
func (m *ValkeyLockManager) AcquireGroup(ctx context.Context, room string, blocks []string, client string, ttl time.Duration) (bool, string, string, error) {
	blocks = nonEmpty(blocks)
	if client == "" {
		return false, "", "", nil
	}
	if len(blocks) == 0 {
		return true, "", "", nil
	}

	keys := make([]string, 0, len(blocks))
	args := make([]string, 0, len(blocks)+3)
	args = append(args, client)
	for _, b := range blocks {
		keys = append(keys, m.lockKey(room, b))
		args = append(args, b)
	}
	args = append(args, strconv.FormatInt(ttl.Milliseconds(), 10))
	args = append(args, m.reverseKey(room, client))

	cmd := m.inner().B().Eval().Script(acquireGroupScript).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
	resp := m.inner().Do(ctx, cmd)
	arr, err := resp.ToArray()
	if err != nil {
		return false, "", "", fmt.Errorf("lock manager: acquire group in %s: %w", room, err)
	}
	if len(arr) != 3 {
		return false, "", "", fmt.Errorf("lock manager: unexpected acquire-group result shape")
	}
	granted, _ := arr[0].ToInt64()
	owner, _ := arr[1].ToString()
	block, _ := arr[2].ToString()
	return granted == 1, owner, block, nil
}

// Release is an atomic compare-and-delete gated on ownership.
func (m *ValkeyLockManager) Release(ctx context.Context, room, block, client string) (bool, error) {
	if client == "" {
		return false, nil
	}
	cmd := m.inner().B().Eval().Script(releaseScript).Numkeys(2).
		Key(m.lockKey(room, block), m.reverseKey(room, client)).
		Arg(client, block).Build()
	n, err := m.inner().Do(ctx, cmd).ToInt64()
	if err != nil {
		return false, fmt.Errorf("lock manager: release %s/%s: %w", room, block, err)
	}
	return n == 1, nil
}

// ReleaseGroup releases the subset of blocks client actually owns.
func (m *ValkeyLockManager) ReleaseGroup(ctx context.Context, room string, blocks []string, client string) ([]string, error) {
	blocks = nonEmpty(blocks)
	if client == "" || len(blocks) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(blocks)+1)
	args := make([]string, 0, len(blocks)+1)
	args = append(args, client)
	for _, b := range blocks {
		keys = append(keys, m.lockKey(room, b))
		args = append(args, b)
	}
	keys = append(keys, m.reverseKey(room, client))

	cmd := m.inner().B().Eval().Script(releaseGroupScript).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
	released, err := m.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("lock manager: release group in %s: %w", room, err)
	}
	return released, nil
}

// ReleaseAll is invoked exclusively at disconnect. It must not fail on an
// empty reverse-index set, since a client that never acquired anything
// still has to go through cleanup.
func (m *ValkeyLockManager) ReleaseAll(ctx context.Context, room, client string) ([]string, error) {
	if client == "" {
		return nil, nil
	}
	cmd := m.inner().B().Eval().Script(releaseAllScript).Numkeys(1).
		Key(m.reverseKey(room, client)).
		Arg(m.client.Key("locks", room)+":", client).Build()
	released, err := m.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("lock manager: release all for %s in %s: %w", client, room, err)
	}
	return released, nil
}

func (m *ValkeyLockManager) RefreshTTL(ctx context.Context, room, block, client string, ttl time.Duration) (bool, error) {
	if client == "" {
		return false, nil
	}
	cmd := m.inner().B().Eval().Script(refreshScript).Numkeys(1).
		Key(m.lockKey(room, block)).
		Arg(client, strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	n, err := m.inner().Do(ctx, cmd).ToInt64()
	if err != nil {
		return false, fmt.Errorf("lock manager: refresh %s/%s: %w", room, block, err)
	}
	return n == 1, nil
}

func (m *ValkeyLockManager) RefreshAll(ctx context.Context, room, client string, ttl time.Duration) (int, error) {
	if client == "" {
		return 0, nil
	}
	cmd := m.inner().B().Eval().Script(refreshAllScript).Numkeys(1).
		Key(m.reverseKey(room, client)).
		Arg(m.client.Key("locks", room)+":", client, strconv.FormatInt(ttl.Milliseconds(), 10)).Build()
	n, err := m.inner().Do(ctx, cmd).ToInt64()
	if err != nil {
		return 0, fmt.Errorf("lock manager: refresh all for %s in %s: %w", client, room, err)
	}
	return int(n), nil
}

func (m *ValkeyLockManager) GetOwner(ctx context.Context, room, block string) (string, error) {
	cmd := m.inner().B().Get().Key(m.lockKey(room, block)).Build()
	owner, err := m.inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("lock manager: get owner %s/%s: %w", room, block, err)
	}
	return owner, nil
}

// GetAllLocks iterates locks:{room}:* via scan and reads each key's owner
// back with a GET.
// Transient scan failures yield an empty snapshot rather than killing the
// connection.
func (m *ValkeyLockManager) GetAllLocks(ctx context.Context, room string) (map[string]string, error) {
	result := make(map[string]string)
	prefix := m.client.Key("locks", room) + ":"
	var cursor uint64

	for {
		scanCmd := m.inner().B().Scan().Cursor(cursor).Match(prefix + "*").Count(100).Build()
		entry, err := m.inner().Do(ctx, scanCmd).AsScanEntry()
		if err != nil {
			return map[string]string{}, nil
		}

		for _, key := range entry.Elements {
			getCmd := m.inner().B().Get().Key(key).Build()
			owner, err := m.inner().Do(ctx, getCmd).ToString()
			if err != nil {
				continue // expired between scan and get: best-effort snapshot
			}
			result[key[len(prefix):]] = owner
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return result, nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
