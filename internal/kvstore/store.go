package kvstore

import "context"

// State is the adapter's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes a message delivered on a subscribed channel.
type Handler func(channel string, payload string)

// Store is the capability interface the rest of the hub depends on.
// No concrete product is named here so components can be tested
// against a fake without importing redis.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, seconds int) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Scan(ctx context.Context, pattern string) (<-chan string, error)

	Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error)
	Publish(ctx context.Context, channel string, payload string) error

	State() State
	Close() error
}
