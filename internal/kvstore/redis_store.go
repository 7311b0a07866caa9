package kvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskhub/hub/config"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
)

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	cfg    config.KVConfig
	logger *zap.Logger
	clk    clock.Clock

	client *redis.Client
	state  atomic.Int32 // State

	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	channel string
	handler Handler
	pubsub  *redis.PubSub
	cancel  func()
}

// New dials the configured store and starts the background reconnect
// watchdog. It returns once the first connection attempt completes,
// successfully or not; a failed first attempt still returns a usable
// *RedisStore that will keep retrying in Disconnected state.
func New(ctx context.Context, cfg config.KVConfig, clk clock.Clock, logger *zap.Logger) (*RedisStore, error) {
	s := &RedisStore{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "kvstore")),
		clk:    clk,
	}
	s.state.Store(int32(Connecting))

	if err := s.connect(ctx); err != nil {
		s.state.Store(int32(Disconnected))
		go s.reconnectLoop()
		return s, err
	}

	return s, nil
}

func (s *RedisStore) connect(ctx context.Context) error {
	opts, err := redis.ParseURL(s.cfg.URL)
	if err != nil {
		return huberr.New(huberr.ErrMalformedManifest, "invalid kv url").WithCause(err)
	}
	opts.PoolSize = s.cfg.PoolSize
	opts.MinIdleConns = s.cfg.MinIdleConns

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return huberr.New(huberr.ErrConnRefused, "kv connect failed").WithCause(err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.state.Store(int32(Connected))
	s.logger.Info("kv store connected", zap.String("url", redacted(s.cfg.URL)))
	return nil
}

func (s *RedisStore) reconnectLoop() {
	delay := s.cfg.InitialBackoff
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		s.clk.Sleep(delay)

		if s.State() == Closed {
			return
		}

		s.state.Store(int32(Connecting))
		if err := s.connect(context.Background()); err == nil {
			return
		}
		s.state.Store(int32(Disconnected))

		s.logger.Warn("kv reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
		)

		delay = time.Duration(float64(delay) * s.cfg.BackoffFactor)
		if delay > s.cfg.MaxBackoff {
			delay = s.cfg.MaxBackoff
		}
	}
	s.logger.Error("kv reconnect attempts exhausted, giving up")
}

func (s *RedisStore) State() State {
	return State(s.state.Load())
}

func (s *RedisStore) requireConnected() (*redis.Client, error) {
	if s.State() != Connected {
		return nil, huberr.New(huberr.ErrKVDisconnected, "kv store not connected")
	}
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	return c, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	c, err := s.requireConnected()
	if err != nil {
		return "", false, err
	}
	val, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, huberr.New(huberr.ErrKVDisconnected, "kv get failed").WithCause(err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	c, err := s.requireConnected()
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, 0).Err(); err != nil {
		return huberr.New(huberr.ErrKVDisconnected, "kv set failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c, err := s.requireConnected()
	if err != nil {
		return err
	}
	if err := c.Del(ctx, keys...).Err(); err != nil {
		return huberr.New(huberr.ErrKVDisconnected, "kv del failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, seconds int) error {
	c, err := s.requireConnected()
	if err != nil {
		return err
	}
	if err := c.Expire(ctx, key, time.Duration(seconds)*time.Second).Err(); err != nil {
		return huberr.New(huberr.ErrKVDisconnected, "kv expire failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	c, err := s.requireConnected()
	if err != nil {
		return err
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.SAdd(ctx, key, args...).Err(); err != nil {
		return huberr.New(huberr.ErrKVDisconnected, "kv sadd failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	c, err := s.requireConnected()
	if err != nil {
		return nil, err
	}
	members, err := c.SMembers(ctx, key).Result()
	if err != nil {
		return nil, huberr.New(huberr.ErrKVDisconnected, "kv smembers failed").WithCause(err)
	}
	return members, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) (<-chan string, error) {
	c, err := s.requireConnected()
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var cursor uint64
		for {
			keys, next, err := c.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				s.logger.Warn("kv scan failed", zap.Error(err))
				return
			}
			for _, k := range keys {
				select {
				case out <- k:
				case <-ctx.Done():
					return
				}
			}
			cursor = next
			if cursor == 0 {
				return
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	c, err := s.requireConnected()
	if err != nil {
		return nil, err
	}

	pubsub := c.Subscribe(ctx, channel)
	subCtx, cancel := context.WithCancel(ctx)

	sub := &subscription{channel: channel, handler: handler, pubsub: pubsub, cancel: cancel}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, msg.Payload)
			}
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload string) error {
	c, err := s.requireConnected()
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, channel, payload).Err(); err != nil {
		return huberr.New(huberr.ErrKVDisconnected, "kv publish failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == Closed {
		return nil
	}
	s.state.Store(int32(Closed))

	for _, sub := range s.subs {
		sub.cancel()
		_ = sub.pubsub.Close()
	}

	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// redacted strips credentials from a connection URL before logging.
func redacted(url string) string {
	at := -1
	for i, c := range url {
		if c == '@' {
			at = i
		}
	}
	if at == -1 {
		return url
	}
	schemeEnd := 0
	for i := 0; i+2 < len(url); i++ {
		if url[i] == ':' && url[i+1] == '/' && url[i+2] == '/' {
			schemeEnd = i + 3
			break
		}
	}
	return url[:schemeEnd] + "***" + url[at:]
}
