// Package placement assigns sessions to serving regions and decides when
// observed latency justifies migrating a session elsewhere.
package placement

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gungiarena/gungi-server-go/internal/telemetry"
)

// Region names a serving location.
type Region string

// Default serving regions and their pairwise round-trip estimates. The
// matrix is symmetric; real deployments override it from config.
const (
	RegionUSEast  Region = "us-east"
	RegionEUWest  Region = "eu-west"
	RegionAPSouth Region = "ap-south"
)

// DefaultLatencyMatrix estimates round-trip latency between regions. The
// diagonal is the in-region round trip.
func DefaultLatencyMatrix() map[Region]map[Region]time.Duration {
	return map[Region]map[Region]time.Duration{
		RegionUSEast: {
			RegionUSEast:  5 * time.Millisecond,
			RegionEUWest:  80 * time.Millisecond,
			RegionAPSouth: 220 * time.Millisecond,
		},
		RegionEUWest: {
			RegionUSEast:  80 * time.Millisecond,
			RegionEUWest:  5 * time.Millisecond,
			RegionAPSouth: 140 * time.Millisecond,
		},
		RegionAPSouth: {
			RegionUSEast:  220 * time.Millisecond,
			RegionEUWest:  140 * time.Millisecond,
			RegionAPSouth: 5 * time.Millisecond,
		},
	}
}

// DefaultSustainedSamples is how many consecutive over-target observations
// are required before a migration triggers. A single latency spike must not
// bounce a session between regions.
const DefaultSustainedSamples = 5

// Controller owns region selection and migration decisions. It is pure
// decision logic: the session manager executes the transfers it recommends.
type Controller struct {
	logger           *zap.Logger
	matrix           map[Region]map[Region]time.Duration
	sustainedSamples int

	mu     sync.Mutex
	hints  map[string][]Region
	breach map[string]int
}

// NewController creates a controller over the given latency matrix. A nil
// matrix or non-positive sample count falls back to the defaults.
func NewController(matrix map[Region]map[Region]time.Duration, sustainedSamples int, logger *zap.Logger) *Controller {
	if matrix == nil {
		matrix = DefaultLatencyMatrix()
	}
	if sustainedSamples <= 0 {
		sustainedSamples = DefaultSustainedSamples
	}
	return &Controller{
		logger:           logger,
		matrix:           matrix,
		sustainedSamples: sustainedSamples,
		hints:            make(map[string][]Region),
		breach:           make(map[string]int),
	}
}

// Regions lists the known regions in no particular order.
func (c *Controller) Regions() []Region {
	out := make([]Region, 0, len(c.matrix))
	for r := range c.matrix {
		out = append(out, r)
	}
	return out
}

// Register records a session's participant region hints for later migration
// targeting. Unknown hints are ignored at decision time.
func (c *Controller) Register(sessionID string, hints []Region) {
	c.mu.Lock()
	c.hints[sessionID] = append([]Region(nil), hints...)
	c.mu.Unlock()
}

// Release drops all controller state for a session.
func (c *Controller) Release(sessionID string) {
	c.mu.Lock()
	delete(c.hints, sessionID)
	delete(c.breach, sessionID)
	c.mu.Unlock()
}

// SelectRegion picks the region minimizing the summed expected latency to
// the participants' hinted regions. With no usable hints the first region in
// stable preference order wins.
func (c *Controller) SelectRegion(hints []Region) Region {
	best := Region("")
	bestCost := time.Duration(-1)
	for _, candidate := range orderedRegions(c.matrix) {
		cost := c.expectedCost(candidate, hints)
		if bestCost < 0 || cost < bestCost {
			best = candidate
			bestCost = cost
		}
	}
	return best
}

// Observe feeds one post-move metrics snapshot into the breach tracker.
// It returns a non-empty target region when the session has breached its
// latency target for the configured number of consecutive observations and
// a better region exists.
func (c *Controller) Observe(sessionID string, current Region, m telemetry.Metrics) (Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !m.Breaching() {
		c.breach[sessionID] = 0
		return "", false
	}
	c.breach[sessionID]++
	if c.breach[sessionID] < c.sustainedSamples {
		return "", false
	}

	target := c.targetLocked(sessionID, current)
	if target == "" || target == current {
		return "", false
	}

	// Reset so a failed or completed migration does not immediately
	// re-trigger before fresh samples accumulate.
	c.breach[sessionID] = 0

	if c.logger != nil {
		c.logger.Info("migration recommended",
			zap.String("session_id", sessionID),
			zap.String("from_region", string(current)),
			zap.String("to_region", string(target)),
			zap.Duration("average_move_latency", m.AverageMoveLatency),
			zap.Duration("target_latency", m.TargetLatency),
		)
	}
	return target, true
}

// TargetRegion returns the best region for a session other than its current
// one, based on its registered hints.
func (c *Controller) TargetRegion(sessionID string, current Region) Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetLocked(sessionID, current)
}

func (c *Controller) targetLocked(sessionID string, current Region) Region {
	hints := c.hints[sessionID]
	best := Region("")
	bestCost := time.Duration(-1)
	for _, candidate := range orderedRegions(c.matrix) {
		if candidate == current {
			continue
		}
		cost := c.expectedCost(candidate, hints)
		if bestCost < 0 || cost < bestCost {
			best = candidate
			bestCost = cost
		}
	}
	return best
}

// expectedCost sums the matrix latency from candidate to every usable hint.
// Hint-free sessions cost only the in-region round trip, keeping selection
// stable.
func (c *Controller) expectedCost(candidate Region, hints []Region) time.Duration {
	row := c.matrix[candidate]
	cost := row[candidate]
	for _, hint := range hints {
		if latency, ok := row[hint]; ok {
			cost += latency
		}
	}
	return cost
}

// orderedRegions returns the matrix keys in a fixed lexicographic order so
// tie breaks are deterministic.
func orderedRegions(matrix map[Region]map[Region]time.Duration) []Region {
	out := make([]Region, 0, len(matrix))
	for r := range matrix {
		out = append(out, r)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
