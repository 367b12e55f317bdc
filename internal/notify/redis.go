// Package notify shares wake-ups and presence between service instances
// through Redis. Every instance keeps its own connection registry; Redis
// only tells an instance which of its users should poll now.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wakeChannel  = "potluck:wake"
	onlinePrefix = "potluck:online:"
)

type wakeMessage struct {
	UserIDs []int64 `json:"userIds"`
}

// Redis implements hub.Notifier and Presence over a Redis server.
type Redis struct {
	client *redis.Client
	// instance identifies this process in the per-user presence sets.
	instance string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Redis{client: rdb, instance: uuid.NewString()}, nil
}

// Publish announces that userIDs have new rows to poll.
func (r *Redis) Publish(ctx context.Context, userIDs []int64) error {
	payload, err := json.Marshal(wakeMessage{UserIDs: userIDs})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, wakeChannel, payload).Err()
}

// Subscribe calls onWake for every announcement until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, onWake func(userIDs []int64)) error {
	sub := r.client.Subscribe(ctx, wakeChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", wakeChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wm wakeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wm); err != nil {
				log.Printf("[Notify] ❌ malformed wake-up %q: %v", msg.Payload, err)
				continue
			}
			onWake(wm.UserIDs)
		}
	}
}

func onlineKey(userID int64) string {
	return onlinePrefix + strconv.FormatInt(userID, 10)
}

// SetOnline records whether this instance holds a connection for the user.
// Each user has a set of the instances holding one.
func (r *Redis) SetOnline(ctx context.Context, userID int64, online bool) error {
	if online {
		return r.client.SAdd(ctx, onlineKey(userID), r.instance).Err()
	}
	return r.client.SRem(ctx, onlineKey(userID), r.instance).Err()
}

// IsOnline reports whether any instance holds a connection for the user.
func (r *Redis) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := r.client.SCard(ctx, onlineKey(userID)).Result()
	return n > 0, err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
