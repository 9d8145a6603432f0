package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "store:"
	publishTimeout = 5 * time.Second
)

// ChangeOp is the kind of write that produced a change.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeDelete ChangeOp = "delete"
)

// Change announces a write to one document.
type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Op         ChangeOp `json:"op"`
	At         int64    `json:"at"`
}

// ChangeFeed fans document changes out to every instance over Redis pub/sub.
// Delivery is at-most-once; consumers resync periodically.
type ChangeFeed struct {
	client *redis.Client
	logger *zap.Logger
}

// NewChangeFeed creates a Redis-backed change feed.
func NewChangeFeed(client *redis.Client, logger *zap.Logger) *ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeed{client: client, logger: logger}
}

func channelFor(collection string) string {
	return channelPrefix + collection
}

// Publish announces c on its collection's channel.
func (f *ChangeFeed) Publish(ctx context.Context, c Change) error {
	if c.At == 0 {
		c.At = time.Now().Unix()
	}
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return f.client.Publish(ctx, channelFor(c.Collection), body).Err()
}

// Subscribe calls handler for each change to collection until ctx is done or cancel is called.
func (f *ChangeFeed) Subscribe(ctx context.Context, collection string, handler func(Change)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(ctx, channelFor(collection))
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					f.logger.Debug("invalid change payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(c)
			}
		}
	}()
	return cancelCtx, nil
}
