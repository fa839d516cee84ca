package placement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gungiarena/gungi-server-go/internal/telemetry"
)

func breachingMetrics() telemetry.Metrics {
	return telemetry.Metrics{
		AverageMoveLatency: 90 * time.Millisecond,
		TargetLatency:      50 * time.Millisecond,
		SamplesInWindow:    8,
	}
}

func healthyMetrics() telemetry.Metrics {
	return telemetry.Metrics{
		AverageMoveLatency: 20 * time.Millisecond,
		TargetLatency:      50 * time.Millisecond,
		SamplesInWindow:    8,
	}
}

func TestSelectRegionFollowsMajority(t *testing.T) {
	c := NewController(nil, 0, zaptest.NewLogger(t))

	require.Equal(t, RegionEUWest, c.SelectRegion([]Region{RegionEUWest, RegionEUWest}))
	require.Equal(t, RegionUSEast, c.SelectRegion([]Region{RegionUSEast, RegionUSEast}))

	// Split participants land on the region minimizing the summed latency.
	got := c.SelectRegion([]Region{RegionUSEast, RegionEUWest})
	require.Contains(t, []Region{RegionUSEast, RegionEUWest}, got)

	// No hints still yields a deterministic region.
	require.Equal(t, c.SelectRegion(nil), c.SelectRegion(nil))
}

func TestObserveRequiresSustainedBreach(t *testing.T) {
	c := NewController(nil, 3, zaptest.NewLogger(t))
	c.Register("s1", []Region{RegionEUWest, RegionEUWest})

	// Two breaches, then recovery: no migration.
	for i := 0; i < 2; i++ {
		_, migrate := c.Observe("s1", RegionUSEast, breachingMetrics())
		require.False(t, migrate, "breach %d must not trigger yet", i+1)
	}
	_, migrate := c.Observe("s1", RegionUSEast, healthyMetrics())
	require.False(t, migrate)

	// The counter reset; two more breaches still do not trigger.
	c.Observe("s1", RegionUSEast, breachingMetrics())
	_, migrate = c.Observe("s1", RegionUSEast, breachingMetrics())
	require.False(t, migrate)

	// The third consecutive breach does.
	target, migrate := c.Observe("s1", RegionUSEast, breachingMetrics())
	require.True(t, migrate)
	require.Equal(t, RegionEUWest, target, "target follows the participants")
}

func TestObserveResetAfterRecommendation(t *testing.T) {
	c := NewController(nil, 2, zaptest.NewLogger(t))
	c.Register("s1", []Region{RegionAPSouth, RegionAPSouth})

	c.Observe("s1", RegionUSEast, breachingMetrics())
	_, migrate := c.Observe("s1", RegionUSEast, breachingMetrics())
	require.True(t, migrate)

	// Immediately after a recommendation the counter starts over.
	_, migrate = c.Observe("s1", RegionUSEast, breachingMetrics())
	require.False(t, migrate)
}

func TestTargetRegionExcludesCurrent(t *testing.T) {
	c := NewController(nil, 0, zaptest.NewLogger(t))
	c.Register("s1", []Region{RegionEUWest, RegionEUWest})

	require.Equal(t, RegionEUWest, c.TargetRegion("s1", RegionUSEast))
	require.NotEqual(t, RegionEUWest, c.TargetRegion("s1", RegionEUWest))
}

func TestMemoryTransportDiscardsDuplicates(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	first := StateTransfer{SessionID: "s1", ToRegion: RegionEUWest, MoveCount: 10}
	require.NoError(t, tr.Transfer(ctx, RegionEUWest, first))

	// Redelivery of the same version is acknowledged but dropped.
	require.NoError(t, tr.Transfer(ctx, RegionEUWest, first))
	require.Equal(t, 1, tr.Discarded())

	// A stale lower version is dropped too.
	stale := first
	stale.MoveCount = 7
	require.NoError(t, tr.Transfer(ctx, RegionEUWest, stale))
	require.Equal(t, 2, tr.Discarded())

	applied, ok := tr.Applied(RegionEUWest, "s1")
	require.True(t, ok)
	require.Equal(t, 10, applied.MoveCount)

	// A newer version supersedes.
	next := first
	next.MoveCount = 12
	require.NoError(t, tr.Transfer(ctx, RegionEUWest, next))
	applied, _ = tr.Applied(RegionEUWest, "s1")
	require.Equal(t, 12, applied.MoveCount)
}

func TestTransferWithRetryExhaustsAndWraps(t *testing.T) {
	tr := NewMemoryTransport()
	tr.SetUnreachable(RegionAPSouth, true)

	transfer := StateTransfer{SessionID: "s1", ToRegion: RegionAPSouth, MoveCount: 3}
	err := TransferWithRetry(context.Background(), tr, transfer, 3, zaptest.NewLogger(t))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRegionUnreachable))

	_, ok := tr.Applied(RegionAPSouth, "s1")
	require.False(t, ok, "nothing may be applied at an unreachable region")
}

func TestTransferWithRetrySucceedsAfterRecovery(t *testing.T) {
	tr := NewMemoryTransport()
	transfer := StateTransfer{SessionID: "s1", ToRegion: RegionEUWest, MoveCount: 3}

	require.NoError(t, TransferWithRetry(context.Background(), tr, transfer, 3, zaptest.NewLogger(t)))
	applied, ok := tr.Applied(RegionEUWest, "s1")
	require.True(t, ok)
	require.Equal(t, "s1", applied.SessionID)
}
