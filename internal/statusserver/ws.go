package statusserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/bus"
)

// LiveFeed broadcasts hub:messages envelopes to connected status-API
// websocket clients, for a dashboard that wants to watch agent
// lifecycle and PR transitions without polling the REST endpoints.
type LiveFeed struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	clients map[chan bus.Envelope]struct{}
}

// NewLiveFeed subscribes to b's hub:messages channel immediately and
// returns the feed together with the function that unsubscribes it.
func NewLiveFeed(ctx context.Context, b *bus.Bus, logger *zap.Logger) (*LiveFeed, func(), error) {
	lf := &LiveFeed{
		bus:     b,
		logger:  logger.With(zap.String("component", "status_ws")),
		clients: make(map[chan bus.Envelope]struct{}),
	}

	unsub, err := b.Subscribe(ctx, bus.ChannelHubMessages, lf.broadcast)
	if err != nil {
		return nil, nil, err
	}
	return lf, unsub, nil
}

func (lf *LiveFeed) broadcast(env bus.Envelope) {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	for ch := range lf.clients {
		select {
		case ch <- env:
		default:
			lf.logger.Warn("dropping envelope for slow websocket client", zap.String("type", string(env.Type)))
		}
	}
}

func (lf *LiveFeed) subscribe() chan bus.Envelope {
	ch := make(chan bus.Envelope, 64)
	lf.mu.Lock()
	lf.clients[ch] = struct{}{}
	lf.mu.Unlock()
	return ch
}

func (lf *LiveFeed) unsubscribe(ch chan bus.Envelope) {
	lf.mu.Lock()
	delete(lf.clients, ch)
	lf.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the connection and streams envelopes until the
// client disconnects or the request context is canceled.
func (lf *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		lf.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch := lf.subscribe()
	defer lf.unsubscribe(ch)

	ctx := r.Context()
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case env, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, env)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
