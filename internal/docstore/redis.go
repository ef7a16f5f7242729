package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "doc:"
	channelPrefix = "docwatch:"

	// updateRetries bounds the optimistic transaction retry loop.
	updateRetries = 16
)

// Client is the Redis-backed document store.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis at the given URL and verifies the connection.
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis exposes the underlying connection for components that need raw keys
// outside the document namespace, such as token revocation.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping verifies the backing connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func nodeKey(path string) string    { return keyPrefix + path }
func changeChan(path string) string { return channelPrefix + path }

// ReadOnce fetches the document at path. The second return is false when no
// document is stored there.
func (c *Client) ReadOnce(ctx context.Context, path string) (json.RawMessage, bool, error) {
	data, err := c.rdb.Get(ctx, nodeKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return json.RawMessage(data), true, nil
}

// WriteWhole replaces the document at path and notifies subscribers.
func (c *Client) WriteWhole(ctx context.Context, path string, doc json.RawMessage) error {
	if err := c.rdb.Set(ctx, nodeKey(path), []byte(doc), 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.notify(ctx, path)
	return nil
}

// Update performs an optimistic read-modify-write of the node at path. The
// transform runs under a WATCH on the node key; if a concurrent writer
// changes the node before the transaction commits, the whole cycle retries
// with the fresh value. An error from fn aborts without writing.
func (c *Client) Update(ctx context.Context, path string, fn UpdateFunc) error {
	key := nodeKey(path)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			current, exists = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(json.RawMessage(current), exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(next), 0)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			c.notify(ctx, path)
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (c *Client) notify(ctx context.Context, path string) {
	// Failure to notify is not a write failure; subscribers self-heal on the
	// next change.
	_ = c.rdb.Publish(ctx, changeChan(path), "").Err()
}

// Subscription is a continuous change feed for one node. Snapshots delivers
// the full document on every change, starting with the current state.
type Subscription struct {
	ch     chan Snapshot
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

// Snapshots returns the channel of full-node emissions. It is closed when the
// subscription ends.
func (s *Subscription) Snapshots() <-chan Snapshot { return s.ch }

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

// Subscribe opens a change feed on path. The current state of the node is
// emitted first, then a fresh snapshot after every write. Callers must Close
// the subscription; leaking it leaks a Redis connection.
func (c *Client) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, changeChan(path))
	// Force the SUBSCRIBE to complete so no change between the initial read
	// and the subscription start is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ch:     make(chan Snapshot, 16),
		pubsub: pubsub,
		cancel: cancel,
	}

	go func() {
		defer close(sub.ch)

		emit := func() bool {
			doc, exists, err := c.ReadOnce(subCtx, path)
			if err != nil {
				return subCtx.Err() == nil
			}
			select {
			case sub.ch <- Snapshot{Doc: doc, Exists: exists}:
			case <-subCtx.Done():
				return false
			}
			return true
		}

		if !emit() {
			return
		}
		msgs := pubsub.Channel()
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}
