package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "presence:"
	nodePrefix = "presence:node:"

	// DefaultNodeTTL is how long a node's sessions keep counting after its
	// last heartbeat.
	DefaultNodeTTL = 30 * time.Second
)

// adjustScript moves this node's count for a user by ARGV[2] and returns the new
// node count and the user's total over live nodes. Counts of nodes whose
// heartbeat expired are removed on the way.
var adjustScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if n <= 0 then redis.call('HDEL', KEYS[1], ARGV[1]) end
redis.call('SET', ARGV[3] .. ARGV[1], '1', 'PX', ARGV[4])
local total = 0
local fields = redis.call('HGETALL', KEYS[1])
for i = 1, #fields, 2 do
  if redis.call('EXISTS', ARGV[3] .. fields[i]) == 1 then
    total = total + tonumber(fields[i + 1])
  else
    redis.call('HDEL', KEYS[1], fields[i])
  end
end
return {n, total}
`)

// totalScript sums a user's counts over live nodes.
var totalScript = redis.NewScript(`
local total = 0
local fields = redis.call('HGETALL', KEYS[1])
for i = 1, #fields, 2 do
  if redis.call('EXISTS', ARGV[1] .. fields[i]) == 1 then
    total = total + tonumber(fields[i + 1])
  end
end
return total
`)

// RedisTracker shares counters between instances. Each instance counts its
// own sessions under a node id kept alive by Run, so a crashed instance's
// sessions stop counting once its heartbeat expires.
type RedisTracker struct {
	client *redis.Client
	node   string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTracker creates a tracker under a fresh node id. Start Run to keep the node alive.
func NewRedisTracker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultNodeTTL
	}
	node := uuid.NewString()
	return &RedisTracker{
		client: client,
		node:   node,
		ttl:    ttl,
		logger: logger.With("component", "presence", "node", node),
	}
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

// Run refreshes the node heartbeat until ctx is done, then withdraws the
// node so its remaining counts stop immediately.
func (t *RedisTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 3)
	defer ticker.Stop()

	t.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			t.withdraw(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			t.beat(ctx)
		}
	}
}

func (t *RedisTracker) withdraw(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := t.client.Del(ctx, nodePrefix+t.node).Err(); err != nil {
		t.logger.Warn("failed to withdraw presence node", "error", err)
	}
}

func (t *RedisTracker) beat(ctx context.Context) {
	if err := t.client.Set(ctx, nodePrefix+t.node, 1, t.ttl).Err(); err != nil {
		t.logger.Warn("presence heartbeat failed", "error", err)
	}
}

func (t *RedisTracker) adjust(ctx context.Context, userID int64, delta int) (node, sum int64, err error) {
	res, err := adjustScript.Run(ctx, t.client, []string{key(userID)},
		t.node, delta, nodePrefix, t.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected presence reply %v", res)
	}
	return res[0], res[1], nil
}

func (t *RedisTracker) Connect(ctx context.Context, userID int64) (bool, error) {
	_, sum, err := t.adjust(ctx, userID, 1)
	if err != nil {
		return false, fmt.Errorf("incr presence: %w", err)
	}
	return sum == 1, nil
}

// Disconnect never reports last for a counter that was already lost.
func (t *RedisTracker) Disconnect(ctx context.Context, userID int64) (bool, error) {
	node, sum, err := t.adjust(ctx, userID, -1)
	if err != nil {
		return false, fmt.Errorf("decr presence: %w", err)
	}
	return node >= 0 && sum == 0, nil
}

// Count sums the user's sessions over live nodes.
func (t *RedisTracker) Count(ctx context.Context, userID int64) (int, error) {
	n, err := totalScript.Run(ctx, t.client, []string{key(userID)}, nodePrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("get presence: %w", err)
	}
	return max(n, 0), nil
}

// Online evaluates every id in one pipeline.
func (t *RedisTracker) Online(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// Load once so the pipelined EVALSHAs cannot miss the script cache.
	if err := totalScript.Load(ctx, t.client).Err(); err != nil {
		return nil, fmt.Errorf("load presence script: %w", err)
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.Cmd, len(ids))
	for i, id := range ids {
		cmds[i] = totalScript.EvalSha(ctx, pipe, []string{key(id)}, nodePrefix)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence pipeline: %w", err)
	}

	online := make([]int64, 0, len(ids))
	for i, cmd := range cmds {
		if n, err := cmd.Int(); err == nil && n > 0 {
			online = append(online, ids[i])
		}
	}
	return online, nil
}
