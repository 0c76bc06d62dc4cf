package redis

import (
	// Go Internal Packages
	"context"
	goerrors "errors"
	"fmt"
	"time"

	// Local Packages
	models "tx-tracker/models"

	// External Packages
	"github.com/redis/go-redis/v9"
)

// advanceScript moves KEYS[1] from ARGV[1] to ARGV[2] only when it currently holds
// ARGV[1]. ARGV[3] is an optional expiry in milliseconds.
var advanceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  local ttl = tonumber(ARGV[3])
  if ttl > 0 then
    redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
  else
    redis.call("SET", KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`)

// NotificationMarks keeps the last notified status per transaction under
// "tx:notified:{id}" so exactly-once notification survives restarts and is shared
// by every replica.
type NotificationMarks struct {
	client *redis.Client
	// resolvedTTL expires marks of resolved transactions; pending marks never expire.
	resolvedTTL time.Duration
}

func NewNotificationMarks(client *redis.Client, resolvedTTL time.Duration) *NotificationMarks {
	return &NotificationMarks{client: client, resolvedTTL: resolvedTTL}
}

func markKey(txID string) string {
	return fmt.Sprintf("tx:notified:%s", txID)
}

func (m *NotificationMarks) MarkIfAbsent(ctx context.Context, txID string, status models.Status) error {
	return m.client.SetNX(ctx, markKey(txID), string(status), 0).Err()
}

func (m *NotificationMarks) Last(ctx context.Context, txID string) (models.Status, bool, error) {
	v, err := m.client.Get(ctx, markKey(txID)).Result()
	if goerrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.Status(v), true, nil
}

func (m *NotificationMarks) Advance(ctx context.Context, txID string, from, to models.Status) (bool, error) {
	n, err := advanceScript.Run(ctx, m.client, []string{markKey(txID)},
		string(from), string(to), m.resolvedTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
