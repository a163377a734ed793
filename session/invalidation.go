package session

import (
	"context"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// fanout propagates session invalidations across instances over a Redis
// pub/sub channel. Each instance tags its messages with an origin ID so it
// can skip its own publishes; applying a remote invalidation is a plain
// local delete, so duplicates and redeliveries are harmless.
type fanout struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	log     logr.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// EnableFanout attaches a Redis client and starts the invalidation
// listener. Call before the cache is shared; without it the cache is
// local-only.
func (c *Cache) EnableFanout(client redis.UniversalClient) error {
	if client == nil {
		return nil
	}
	if c.fanout != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &fanout{
		rdb:     client,
		channel: c.cfg.InvalidationChannel,
		origin:  uuid.NewString(),
		log:     c.log.WithName("fanout"),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	sub := client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return err
	}

	c.fanout = f
	go f.listen(ctx, sub, c)
	return nil
}

func (f *fanout) publish(ctx context.Context, subjectID string) error {
	return f.rdb.Publish(ctx, f.channel, f.origin+"|"+subjectID).Err()
}

// listen applies remote invalidations until the fanout is closed. The
// channel returned by Subscribe closes when the subscription does.
func (f *fanout) listen(ctx context.Context, sub *redis.PubSub, c *Cache) {
	defer close(f.done)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, subjectID, found := strings.Cut(msg.Payload, "|")
			if !found || subjectID == "" {
				f.log.V(1).Info("dropping malformed invalidation", "payload", msg.Payload)
				continue
			}
			if origin == f.origin {
				continue
			}
			c.gen.Add(1)
			c.store.Delete(c.key(subjectID))
		}
	}
}

func (f *fanout) close() {
	f.closeOnce.Do(func() {
		f.cancel()
		<-f.done
	})
}
