// Package notifier tells the realtime layer that a client group changed
// server state, so other members of the tenant know a pull is worthwhile.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/printmesh/printmesh/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Channel carries poke messages for one tenant.
func Channel(tenantID string) string {
	return fmt.Sprintf("printmesh:poke:%s", tenantID)
}

// Poke is the published payload. SourceGroupID lets subscribers skip the
// group that caused the change, since its own push response already covers
// it.
type Poke struct {
	TenantID      string `json:"tenantID"`
	SourceGroupID string `json:"sourceGroupID"`
}

// RedisNotifier publishes pokes on redis pub/sub. Publishing is best-effort:
// a missed poke only delays the next pull, it never loses data.
type RedisNotifier struct {
	client  *redis.Client
	logger  *logger.Logger
	timeout time.Duration
}

func NewRedisNotifier(client *redis.Client, log *logger.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: log, timeout: 2 * time.Second}
}

// Poke publishes a pull hint for the tenant. Failures are logged and
// swallowed so push latency and correctness never depend on redis.
func (n *RedisNotifier) Poke(ctx context.Context, tenantID, clientGroupID string) {
	payload, err := json.Marshal(Poke{TenantID: tenantID, SourceGroupID: clientGroupID})
	if err != nil {
		n.logger.Errorf("Failed to marshal poke for tenant %s: %v", tenantID, err)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.client.Publish(publishCtx, Channel(tenantID), payload).Err(); err != nil {
		n.logger.Warnf("Failed to publish poke for tenant %s: %v", tenantID, err)
	}
}

// Subscribe delivers pokes for one tenant until ctx is cancelled. Used by
// the websocket fan-out layer.
func (n *RedisNotifier) Subscribe(ctx context.Context, tenantID string, handle func(Poke)) error {
	sub := n.client.Subscribe(ctx, Channel(tenantID))
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive poke: %w", err)
		}
		var poke Poke
		if err := json.Unmarshal([]byte(msg.Payload), &poke); err != nil {
			n.logger.Warnf("Discarding malformed poke on %s: %v", Channel(tenantID), err)
			continue
		}
		handle(poke)
	}
}
