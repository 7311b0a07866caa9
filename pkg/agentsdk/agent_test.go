package agentsdk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/bus"
	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
	"github.com/taskhub/hub/types"
)

// recordingHooks captures every DoWork/ValidateAssignment call and
// returns canned results, letting tests drive specific branches of
// handleAssignment without a real agent binary.
type recordingHooks struct {
	mu        sync.Mutex
	validate  bool
	workErr   error
	workCalls int
}

func (h *recordingHooks) ValidateAssignment(Assignment) bool {
	return h.validate
}

func (h *recordingHooks) DoWork(context.Context, Assignment) (Result, error) {
	h.mu.Lock()
	h.workCalls++
	h.mu.Unlock()
	if h.workErr != nil {
		return Result{}, h.workErr
	}
	return Result{Summary: "ok"}, nil
}

func (h *recordingHooks) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workCalls
}

func newTestAgent(t *testing.T, hooks Hooks) (*Agent, *kvstore.FakeStore, *bus.Bus) {
	t.Helper()
	store := kvstore.NewFake()
	b := bus.New(store, bus.DefaultConfig(), zap.NewNop())
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := New(Config{
		AgentID:           "agent-1",
		Type:              types.AgentWorker,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  time.Hour,
	}, b, clk, hooks, zap.NewNop())
	return a, store, b
}

func TestHandleAssignment_SuccessReturnsToIdle(t *testing.T) {
	hooks := &recordingHooks{validate: true}
	a, _, _ := newTestAgent(t, hooks)

	a.handleAssignment(context.Background(), Assignment{PRID: "PR-001"})

	assert.Equal(t, types.AgentIdle, a.Lifecycle())
	assert.Equal(t, 1, hooks.calls())
}

func TestHandleAssignment_RejectedValidationPublishesFailedAndStaysIdle(t *testing.T) {
	hooks := &recordingHooks{validate: false}
	a, _, b := newTestAgent(t, hooks)

	var received bus.Envelope
	unsub, err := b.Subscribe(context.Background(), bus.ChannelHubMessages, func(env bus.Envelope) {
		if env.Type == bus.TypeFailed {
			received = env
		}
	})
	require.NoError(t, err)
	defer unsub()

	a.handleAssignment(context.Background(), Assignment{PRID: "PR-001"})

	assert.Equal(t, 0, hooks.calls())
	assert.Equal(t, bus.TypeFailed, received.Type)
	assert.Equal(t, "false", received.Payload["recoverable"])
	assert.Equal(t, string(CategoryAssignment), received.Payload["category"])
}

func TestHandleAssignment_TransientFailureRetriesThenSucceeds(t *testing.T) {
	calls := 0
	hooks := &recordingHooks{validate: true}
	a, _, _ := newTestAgent(t, hooks)

	// Wrap DoWork behavior manually: fail once with a transient
	// huberr, then succeed, to exercise the retry path.
	failingHooks := &toggleHooks{
		attempt: func() error {
			calls++
			if calls == 1 {
				return huberr.New(huberr.ErrKVDisconnected, "temporary blip")
			}
			return nil
		},
	}
	a.hooks = failingHooks

	a.handleAssignment(context.Background(), Assignment{PRID: "PR-002"})

	assert.Equal(t, types.AgentIdle, a.Lifecycle())
	assert.Equal(t, 2, calls)
}

type toggleHooks struct {
	attempt func() error
}

func (h *toggleHooks) ValidateAssignment(Assignment) bool { return true }

func (h *toggleHooks) DoWork(context.Context, Assignment) (Result, error) {
	if err := h.attempt(); err != nil {
		return Result{}, err
	}
	return Result{Summary: "ok"}, nil
}

func TestHandleAssignment_FatalErrorShutsDownWithoutRetry(t *testing.T) {
	hooks := &errHooks{err: huberr.New(huberr.ErrOOM, "out of memory")}
	a, _, _ := newTestAgent(t, hooks)

	a.handleAssignment(context.Background(), Assignment{PRID: "PR-003"})

	assert.Equal(t, types.AgentFailed, a.Lifecycle())
	assert.Equal(t, 1, hooks.calls)
}

type errHooks struct {
	err   error
	calls int
}

func (h *errHooks) ValidateAssignment(Assignment) bool { return true }

func (h *errHooks) DoWork(context.Context, Assignment) (Result, error) {
	h.calls++
	return Result{}, h.err
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, CategoryTransient, Categorize(huberr.New(huberr.ErrKVDisconnected, "x")))
	assert.Equal(t, CategoryFatal, Categorize(huberr.New(huberr.ErrOOM, "x")))
	assert.Equal(t, CategoryExecution, Categorize(errors.New("plain error")))
}

func TestRetrier_ExhaustsAfterMaxAttempts(t *testing.T) {
	// A real clock with a sub-millisecond backoff keeps this test fast
	// without needing to drive a fake clock's sleep from another
	// goroutine; Attempt's own logic (counting, clearing) is what's
	// under test, not the backoff timing itself.
	r := &Retrier{
		clk:          clock.New(),
		initialDelay: time.Microsecond,
		factor:       2,
		maxAttempts:  3,
		attempts:     make(map[string]int),
	}

	var calls int
	alwaysFails := func(ctx context.Context) error {
		calls++
		return errors.New("still broken")
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = r.Attempt(context.Background(), "key-1", alwaysFails)
	}

	require.Error(t, lastErr)
	assert.Equal(t, 3, calls)

	// counter was cleared on exhaustion; a fresh sequence starts over.
	calls = 0
	err := r.Attempt(context.Background(), "key-1", func(ctx context.Context) error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRun_RegistersSubscribesAndStopsOnCancel(t *testing.T) {
	hooks := &recordingHooks{validate: true}
	a, _, b := newTestAgent(t, hooks)

	var gotReg bool
	unsub, err := b.Subscribe(context.Background(), bus.ChannelHubMessages, func(env bus.Envelope) {
		if env.Type == bus.TypeRegistration {
			gotReg = true
		}
	})
	require.NoError(t, err)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Lifecycle() == types.AgentIdle }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.True(t, gotReg)
	assert.Equal(t, types.AgentShuttingDown, a.Lifecycle())
}
