package placement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/gungi"
	"github.com/gungiarena/gungi-server-go/internal/telemetry"
)

// ErrRegionUnreachable is returned when a transfer cannot reach the target
// region after the configured retries.
var ErrRegionUnreachable = errors.New("target region unreachable")

// StateTransfer is the atomic migration payload: everything a region needs
// to take over a session. MoveCount doubles as the transfer version; a
// receiver discards any transfer at or below its last applied version, which
// makes duplicate deliveries harmless.
type StateTransfer struct {
	SessionID  string
	FromRegion Region
	ToRegion   Region
	MoveCount  int
	Board      gungi.BoardSnapshot
	MoveLog    []gungi.MoveRecord
	Metrics    telemetry.Metrics
}

// RegionTransport delivers state transfers to remote regions.
type RegionTransport interface {
	// Transfer delivers the payload to the target region and blocks until
	// the target acknowledges receipt or the context expires.
	Transfer(ctx context.Context, target Region, transfer StateTransfer) error
}

// DefaultTransferRetries bounds how often a single migration retries the
// target region before aborting back to the source.
const DefaultTransferRetries = 3

// TransferWithRetry attempts a transfer up to retries times. On exhaustion
// it wraps ErrRegionUnreachable so callers can abort the migration and keep
// the session active in its current region.
func TransferWithRetry(ctx context.Context, transport RegionTransport, transfer StateTransfer, retries int, logger *zap.Logger) error {
	if retries <= 0 {
		retries = DefaultTransferRetries
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = transport.Transfer(ctx, transfer.ToRegion, transfer)
		if lastErr == nil {
			return nil
		}
		if logger != nil {
			logger.Warn("state transfer attempt failed",
				zap.String("session_id", transfer.SessionID),
				zap.String("to_region", string(transfer.ToRegion)),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRegionUnreachable, retries, lastErr)
}

// MemoryTransport is an in-process RegionTransport used by single-binary
// deployments and tests. Each region keeps the latest applied transfer per
// session, keyed by MoveCount for duplicate detection.
type MemoryTransport struct {
	mu          sync.Mutex
	unreachable map[Region]bool
	applied     map[Region]map[string]StateTransfer
	discarded   int
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		unreachable: make(map[Region]bool),
		applied:     make(map[Region]map[string]StateTransfer),
	}
}

// SetUnreachable marks a region as down; transfers to it fail.
func (t *MemoryTransport) SetUnreachable(region Region, down bool) {
	t.mu.Lock()
	t.unreachable[region] = down
	t.mu.Unlock()
}

// Transfer applies the payload at the target region. Stale or duplicate
// transfers (version at or below the last applied) are acknowledged but
// discarded, never applied.
func (t *MemoryTransport) Transfer(ctx context.Context, target Region, transfer StateTransfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.unreachable[target] {
		return fmt.Errorf("region %s: %w", target, ErrRegionUnreachable)
	}

	sessions := t.applied[target]
	if sessions == nil {
		sessions = make(map[string]StateTransfer)
		t.applied[target] = sessions
	}
	if prev, ok := sessions[transfer.SessionID]; ok && transfer.MoveCount <= prev.MoveCount {
		t.discarded++
		return nil
	}
	sessions[transfer.SessionID] = transfer
	return nil
}

// Applied returns the last applied transfer for a session at a region.
func (t *MemoryTransport) Applied(region Region, sessionID string) (StateTransfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	transfer, ok := t.applied[region][sessionID]
	return transfer, ok
}

// Discarded reports how many duplicate or stale transfers were dropped.
func (t *MemoryTransport) Discarded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discarded
}
