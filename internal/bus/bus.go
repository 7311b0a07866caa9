package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
)

// EnvelopeHandler is invoked once per received envelope, cooperatively
// (the bus does not spawn a goroutine per message).
type EnvelopeHandler func(Envelope)

// Bus is the hub's topic-addressed messaging layer.
type Bus struct {
	store   kvstore.Store
	logger  *zap.Logger
	limiter *rate.Limiter

	defaultTimeout time.Duration

	mu      sync.Mutex
	cancels []func()
}

// Config controls publish pacing and the default request timeout.
type Config struct {
	// PublishBurst and PublishRPS bound how fast Publish may fire,
	// protecting the KV store from a thundering herd of agents.
	PublishRPS     float64
	PublishBurst   int
	DefaultTimeout time.Duration
}

// DefaultConfig returns sane pacing defaults.
func DefaultConfig() Config {
	return Config{
		PublishRPS:     200,
		PublishBurst:   50,
		DefaultTimeout: 5 * time.Second,
	}
}

// New builds a Bus over store.
func New(store kvstore.Store, cfg Config, logger *zap.Logger) *Bus {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	return &Bus{
		store:          store,
		logger:         logger.With(zap.String("component", "bus")),
		limiter:        rate.NewLimiter(rate.Limit(cfg.PublishRPS), cfg.PublishBurst),
		defaultTimeout: cfg.DefaultTimeout,
	}
}

// Publish is fire-and-forget; it may fail with a Transient huberr.Error
// if the underlying store rejects the write (e.g. disconnected).
func (b *Bus) Publish(ctx context.Context, channel string, env Envelope) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return huberr.New(huberr.ErrRequestTimeout, "publish rate limiter wait canceled").WithCause(err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return huberr.New(huberr.ErrMalformedManifest, "envelope marshal failed").WithCause(err)
	}

	if err := b.store.Publish(ctx, channel, string(data)); err != nil {
		return err
	}
	return nil
}

// Subscribe invokes handler once per envelope received on channel.
// Malformed payloads are logged and dropped, not surfaced to handler.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler EnvelopeHandler) (func(), error) {
	unsub, err := b.store.Subscribe(ctx, channel, func(_ string, payload string) {
		var env Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			b.logger.Warn("dropping malformed envelope", zap.String("channel", channel), zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cancels = append(b.cancels, unsub)
	b.mu.Unlock()

	return unsub, nil
}

// UnsubscribeAll tears down every subscription registered through this
// Bus instance.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Request publishes env on channel with a fresh correlation id,
// subscribes to a per-sender response channel, and resolves when a
// matching response arrives or timeout elapses.
func (b *Bus) Request(ctx context.Context, channel string, env Envelope, responseChannel string, timeout time.Duration) (Envelope, error) {
	if timeout == 0 {
		timeout = b.defaultTimeout
	}
	env.CorrelationID = uuid.NewString()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Envelope, 1)
	unsub, err := b.store.Subscribe(reqCtx, responseChannel, func(_ string, payload string) {
		var resp Envelope
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			return
		}
		if resp.CorrelationID != env.CorrelationID {
			return
		}
		select {
		case resultCh <- resp:
		default:
		}
	})
	if err != nil {
		return Envelope{}, err
	}
	defer unsub()

	if err := b.Publish(reqCtx, channel, env); err != nil {
		return Envelope{}, err
	}

	select {
	case resp := <-resultCh:
		return resp, nil
	case <-reqCtx.Done():
		return Envelope{}, huberr.New(huberr.ErrRequestTimeout, "bus request timed out").WithCause(reqCtx.Err())
	}
}
