package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/graph"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/internal/manifest"
	"github.com/taskhub/hub/types"
)

func coldKey(id string) string  { return fmt.Sprintf("pr:%s:cold_state", id) }
func hotKey(id string) string   { return fmt.Sprintf("pr:%s:hot_state", id) }
func agentKey(id string) string { return fmt.Sprintf("pr:%s:agent", id) }
func hotTSKey(id string) string { return fmt.Sprintf("pr:%s:hot_state_timestamp", id) }

// Synchronizer implements the three State Synchronizer duties of
// spec §4.12 plus on-demand conflict detection/resolution.
type Synchronizer struct {
	store  kvstore.Store
	logger *zap.Logger
}

// New builds a Synchronizer.
func New(store kvstore.Store, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{store: store, logger: logger.With(zap.String("component", "synchronizer"))}
}

// Hydrate writes pr:<id>:cold_state for every PR in m and builds the
// dependency graph over it, making cold state queryable without
// reparsing the manifest.
func (s *Synchronizer) Hydrate(ctx context.Context, m *manifest.Manifest) (*graph.Graph, error) {
	prs := m.PRs()
	for _, pr := range prs {
		if err := s.store.Set(ctx, coldKey(pr.ID), string(pr.ColdState)); err != nil {
			return nil, err
		}
	}
	return graph.Build(prs), nil
}

// RecoverFromCrash clears every hot-state key (hot_state, agent,
// hot_state_timestamp) regardless of manifest membership, and deletes
// any cached key whose pr_id is no longer present in m. Intended to
// run once on every hub (re)start, before the orchestrator loop begins.
func (s *Synchronizer) RecoverFromCrash(ctx context.Context, m *manifest.Manifest) error {
	for _, pattern := range []string{"pr:*:hot_state", "pr:*:agent", "pr:*:hot_state_timestamp"} {
		if err := s.clearMatching(ctx, pattern); err != nil {
			return err
		}
	}

	known := knownIDs(m)
	ids, err := s.scanColdStateIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !known[id] {
			s.logger.Info("clearing orphaned cache entry", zap.String("pr_id", id))
			if err := s.store.Del(ctx, coldKey(id), hotKey(id), agentKey(id), hotTSKey(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// DisplaySync is duty 3: a no-op refresh of observability caches. It
// exists as a named operation so callers on a periodic ticker have
// something concrete to invoke; correctness never depends on it running.
func (s *Synchronizer) DisplaySync(ctx context.Context) error {
	s.logger.Debug("display sync tick")
	return nil
}

func (s *Synchronizer) clearMatching(ctx context.Context, pattern string) error {
	keys, err := s.store.Scan(ctx, pattern)
	if err != nil {
		return err
	}
	var batch []string
	for k := range keys {
		batch = append(batch, k)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.store.Del(ctx, batch...)
}

func (s *Synchronizer) scanColdStateIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.Scan(ctx, "pr:*:cold_state")
	if err != nil {
		return nil, err
	}
	var ids []string
	for k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, "pr:"), ":cold_state")
		ids = append(ids, id)
	}
	return ids, nil
}

func knownIDs(m *manifest.Manifest) map[string]bool {
	out := make(map[string]bool)
	for _, pr := range m.PRs() {
		out[pr.ID] = true
	}
	return out
}

// ConflictKind names one of the three drift categories spec §4.12
// defines between the manifest and the KV cache.
type ConflictKind string

const (
	// ConflictHotGitDifferent: a hot state survives a terminal or
	// incompatible cold state. Resolution clears the hot keys.
	ConflictHotGitDifferent ConflictKind = "REDIS_HOT_GIT_DIFFERENT"
	// ConflictMissing: the manifest names a PR with no cached cold
	// state. Resolution rewrites it from the manifest.
	ConflictMissing ConflictKind = "REDIS_MISSING"
	// ConflictOrphaned: a cached pr_id is no longer in the manifest.
	// Resolution clears every key for that id.
	ConflictOrphaned ConflictKind = "REDIS_ORPHANED"
)

// Conflict is one detected drift between the manifest and the cache.
// ColdState is populated only for ConflictMissing, carrying the
// manifest's authoritative value to rewrite.
type Conflict struct {
	Kind      ConflictKind
	PRID      string
	ColdState types.ColdState
}

// incompatibleWithHot are cold states a hot state must never coexist
// with: approved is terminal, and a brand-new/blocked PR has not yet
// been picked up by any agent.
var incompatibleWithHot = map[types.ColdState]bool{
	types.ColdApproved: true,
	types.ColdNew:      true,
	types.ColdBlocked:  true,
}

// DetectConflicts compares m against the cache and returns every
// drift found, in no particular order.
func (s *Synchronizer) DetectConflicts(ctx context.Context, m *manifest.Manifest) ([]Conflict, error) {
	var conflicts []Conflict

	known := make(map[string]types.PR)
	for _, pr := range m.PRs() {
		known[pr.ID] = pr

		cold, ok, err := s.store.Get(ctx, coldKey(pr.ID))
		if err != nil {
			return nil, err
		}
		if !ok {
			conflicts = append(conflicts, Conflict{Kind: ConflictMissing, PRID: pr.ID, ColdState: pr.ColdState})
			continue
		}

		_, hotOK, err := s.store.Get(ctx, hotKey(pr.ID))
		if err != nil {
			return nil, err
		}
		if hotOK && incompatibleWithHot[types.ColdState(cold)] {
			conflicts = append(conflicts, Conflict{Kind: ConflictHotGitDifferent, PRID: pr.ID})
		}
	}

	ids, err := s.scanColdStateIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			conflicts = append(conflicts, Conflict{Kind: ConflictOrphaned, PRID: id})
		}
	}

	return conflicts, nil
}

// Resolve applies c's resolution. Every resolution is idempotent:
// resolving an already-resolved conflict is a harmless no-op.
func (s *Synchronizer) Resolve(ctx context.Context, c Conflict) error {
	switch c.Kind {
	case ConflictMissing:
		return s.store.Set(ctx, coldKey(c.PRID), string(c.ColdState))
	case ConflictHotGitDifferent:
		return s.store.Del(ctx, hotKey(c.PRID), agentKey(c.PRID), hotTSKey(c.PRID))
	case ConflictOrphaned:
		return s.store.Del(ctx, coldKey(c.PRID), hotKey(c.PRID), agentKey(c.PRID), hotTSKey(c.PRID))
	default:
		return fmt.Errorf("unknown conflict kind %q", c.Kind)
	}
}
