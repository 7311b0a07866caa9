package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/clock"
	"github.com/taskhub/hub/internal/huberr"
	"github.com/taskhub/hub/internal/kvstore"
)

func TestAcquire_GrantsFreshLease(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	l, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)
	assert.Equal(t, "foo.go", l.FilePath)
	assert.Equal(t, "worker-agent-1", l.AgentID)
}

func TestAcquire_ConflictsWithDifferentHolder(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "foo.go", "worker-agent-2", "P2")
	require.Error(t, err)
	assert.Equal(t, huberr.ErrLeaseHeld, huberr.CodeOf(err))
}

func TestAcquire_SameHolderReacquiresIdempotently(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)
}

func TestAcquire_ExpiredLeaseIsReleasedAutomatically(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)

	l, err := m.Acquire(context.Background(), "foo.go", "worker-agent-2", "P2")
	require.NoError(t, err)
	assert.Equal(t, "worker-agent-2", l.AgentID)
}

func TestAcquire_TestFilePairedWithSamePRDoesNotConflict(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	l, err := m.Acquire(context.Background(), "foo_test.go", "worker-agent-1", "P1")
	require.NoError(t, err)
	assert.True(t, l.IsTestFile)
	assert.Equal(t, "foo.go", l.ParentFile)
}

func TestAcquire_TestFilePairedWithDifferentPRConflicts(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), "foo_test.go", "worker-agent-2", "P2")
	require.Error(t, err)
	assert.Equal(t, huberr.ErrLeaseHeld, huberr.CodeOf(err))
}

func TestRelease_ByNonHolderFails(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	err = m.Release(context.Background(), "foo.go", "worker-agent-2")
	require.Error(t, err)
	assert.Equal(t, huberr.ErrLeaseHeld, huberr.CodeOf(err))
}

func TestRelease_ThenReacquireByAnotherSucceeds(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, err := m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)
	require.NoError(t, m.Release(context.Background(), "foo.go", "worker-agent-1"))

	l, err := m.Acquire(context.Background(), "foo.go", "worker-agent-2", "P2")
	require.NoError(t, err)
	assert.Equal(t, "worker-agent-2", l.AgentID)
}

func TestHolder_ReturnsCurrentLease(t *testing.T) {
	store := kvstore.NewFake()
	fc := clock.NewFake(time.Unix(0, 0))
	m := New(store, fc, time.Minute, zap.NewNop())

	_, ok, err := m.Holder(context.Background(), "foo.go")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Acquire(context.Background(), "foo.go", "worker-agent-1", "P1")
	require.NoError(t, err)

	l, ok, err := m.Holder(context.Background(), "foo.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "worker-agent-1", l.AgentID)
}
