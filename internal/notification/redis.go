package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/quorum/internal/multisig"
)

const (
	// DefaultStream is the Redis stream wallet events are appended to.
	DefaultStream = "quorum:events"
	defaultMaxLen = 100_000
)

// RedisNotifier appends wallet events to a capped Redis stream.
type RedisNotifier struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

// NewRedisNotifier builds a stream publisher. An empty stream name selects
// DefaultStream.
func NewRedisNotifier(cache *redis.Client, stream string) *RedisNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisNotifier{cache: cache, stream: stream, maxLen: defaultMaxLen}
}

// Publish appends e to the stream.
func (n *RedisNotifier) Publish(ctx context.Context, e multisig.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return n.cache.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(e.Kind),
			"wallet_id":   e.WalletID,
			"proposal_id": strconv.FormatUint(e.ProposalID, 10),
			"payload":     string(payload),
		},
	}).Err()
}
