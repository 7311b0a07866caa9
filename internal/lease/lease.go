package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/types"
)

// Manager acquires, releases, and re-checks file leases over a KV store.
type Manager struct {
	store  kvstore.Store
	clk    clock.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// New builds a Manager. ttl is the TTL applied to every acquired lease.
func New(store kvstore.Store, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		clk:    clk,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "lease")),
	}
}

func leaseKey(path string) string {
	return fmt.Sprintf("lease:%s", path)
}

// get fetches the lease at path, treating an expired lease as absent.
func (m *Manager) get(ctx context.Context, path string) (*types.Lease, bool, error) {
	val, ok, err := m.store.Get(ctx, leaseKey(path))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var l types.Lease
	if err := json.Unmarshal([]byte(val), &l); err != nil {
		return nil, false, huberr.New(huberr.ErrMalformedManifest, "lease record unmarshal failed").WithCause(err)
	}
	if l.Expired(m.clk.Now()) {
		return nil, false, nil
	}
	return &l, true, nil
}

// Acquire takes a pessimistic hold on filePath for agentID/prID,
// failing with huberr.ErrLeaseHeld if another agent or PR already
// holds an unexpired lease on the path (or, for a test file, on its
// paired parent file).
func (m *Manager) Acquire(ctx context.Context, filePath, agentID, prID string) (*types.Lease, error) {
	existing, held, err := m.get(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if held && !sameHolder(existing, agentID, prID) {
		return nil, huberr.New(huberr.ErrLeaseHeld, fmt.Sprintf("%s held by agent %s (pr %s)", filePath, existing.AgentID, existing.PRID))
	}

	l := types.NewLease(filePath, agentID, prID, m.clk.Now(), m.ttl)

	if l.ParentFile != "" {
		parent, parentHeld, err := m.get(ctx, l.ParentFile)
		if err != nil {
			return nil, err
		}
		if parentHeld && parent.PRID != prID {
			return nil, huberr.New(huberr.ErrLeaseHeld, fmt.Sprintf("%s paired with %s held by pr %s", filePath, l.ParentFile, parent.PRID))
		}
	}

	data, err := json.Marshal(l)
	if err != nil {
		return nil, huberr.New(huberr.ErrMalformedManifest, "lease record marshal failed").WithCause(err)
	}
	if err := m.store.Set(ctx, leaseKey(filePath), string(data)); err != nil {
		return nil, err
	}
	if err := m.store.Expire(ctx, leaseKey(filePath), int(m.ttl.Seconds())); err != nil {
		return nil, err
	}
	return l, nil
}

func sameHolder(l *types.Lease, agentID, prID string) bool {
	return l.AgentID == agentID && l.PRID == prID
}

// Release drops the lease on filePath, if held by agentID.
func (m *Manager) Release(ctx context.Context, filePath, agentID string) error {
	existing, held, err := m.get(ctx, filePath)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}
	if existing.AgentID != agentID {
		return huberr.New(huberr.ErrLeaseHeld, fmt.Sprintf("%s held by a different agent (%s)", filePath, existing.AgentID))
	}
	return m.store.Del(ctx, leaseKey(filePath))
}

// Holder returns the current unexpired lease on filePath, if any. An
// agent must call this before each write per spec §5's re-check
// requirement.
func (m *Manager) Holder(ctx context.Context, filePath string) (*types.Lease, bool, error) {
	return m.get(ctx, filePath)
}

// All returns every currently-held, unexpired lease, for the status
// server's read-only snapshot endpoints.
func (m *Manager) All(ctx context.Context) ([]*types.Lease, error) {
	keys, err := m.store.Scan(ctx, "lease:*")
	if err != nil {
		return nil, err
	}

	var out []*types.Lease
	for key := range keys {
		path := key[len("lease:"):]
		l, held, err := m.get(ctx, path)
		if err != nil {
			m.logger.Warn("skipping unreadable lease during scan", zap.String("key", key), zap.Error(err))
			continue
		}
		if held {
			out = append(out, l)
		}
	}
	return out, nil
}
