/*
Package cluster lets several hub nodes serve one forum: a Redis-backed
presence mirror answers "is this user connected anywhere", and a NATS bus
carries frames to users whose connections live on another node.
*/
package cluster

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"forumdm/internal/pkg/clock"
)

// DefaultLease is how long a node's claim on a user survives without a
// refresh. It must outlast the hub's heartbeat deadline.
const DefaultLease = 2 * time.Minute

// RedisConfig selects the Redis server holding presence.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisPresence implements chat.PresenceMirror.
//
// Key dm:presence:{user} is a sorted set of node id → lease expiry (unix
// millis). A user is online while any member's lease is in the future, so a
// crashed node's claims lapse after one lease.
type RedisPresence struct {
	client redis.UniversalClient
	nodeID string
	lease  time.Duration
	clock  clock.Clock
}

// NewRedisPresence mirrors nodeID's users into client. Leases last lease,
// or DefaultLease when it is not positive.
func NewRedisPresence(client redis.UniversalClient, nodeID string, lease time.Duration) *RedisPresence {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisPresence{client: client, nodeID: nodeID, lease: lease, clock: clock.Real()}
}

func presenceKey(userID int64) string {
	return "dm:presence:" + strconv.FormatInt(userID, 10)
}

// Online claims userID for this node.
func (p *RedisPresence) Online(ctx context.Context, userID int64) error {
	key := presenceKey(userID)
	expiry := p.clock.Now().Add(p.lease)

	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry.UnixMilli()), Member: p.nodeID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(p.clock.Now().UnixMilli(), 10))
	pipe.PExpire(ctx, key, p.lease)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends this node's claim on userID.
func (p *RedisPresence) Refresh(ctx context.Context, userID int64) error {
	return p.Online(ctx, userID)
}

// Offline drops this node's claim on userID.
func (p *RedisPresence) Offline(ctx context.Context, userID int64) error {
	return p.client.ZRem(ctx, presenceKey(userID), p.nodeID).Err()
}

// IsOnline reports whether any node holds an unexpired claim on userID.
func (p *RedisPresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	now := strconv.FormatInt(p.clock.Now().UnixMilli(), 10)
	n, err := p.client.ZCount(ctx, presenceKey(userID), "("+now, "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
