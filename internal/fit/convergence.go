package fit

import (
	"log/slog"
	"math"
)

// TrackerConfig defines parameters for detecting stalled ELBO progress.
type TrackerConfig struct {
	// Enabled controls whether stall detection is active.
	Enabled bool

	// Patience is the number of evaluations with no significant
	// improvement before the tracker reports a stall.
	Patience int

	// Threshold is the minimum relative improvement required to count as
	// progress, e.g. 0.001 for 0.1%.
	Threshold float64
}

// DefaultTrackerConfig returns sensible defaults for stall detection.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Enabled:   true,
		Patience:  10,
		Threshold: 1e-6,
	}
}

// Tracker records the ELBO history of a maximization run and detects when
// progress has stalled. The ELBO is maximized, so improvement means a larger
// value.
type Tracker struct {
	config          TrackerConfig
	history         []float64
	bestElbo        float64
	lastSignificant float64
	staleCount      int
}

// NewTracker creates a tracker with the given config.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		config:          config,
		bestElbo:        math.Inf(-1),
		lastSignificant: math.Inf(-1),
	}
}

// Update records a new ELBO value and returns true if progress has stalled.
func (c *Tracker) Update(elbo float64) bool {
	c.history = append(c.history, elbo)
	if elbo > c.bestElbo {
		c.bestElbo = elbo
	}
	if !c.config.Enabled {
		return false
	}
	if len(c.history) == 1 {
		c.lastSignificant = elbo
		return false
	}

	improvement := (elbo - c.lastSignificant) / math.Max(math.Abs(c.lastSignificant), 1)
	if improvement >= c.config.Threshold {
		c.lastSignificant = elbo
		c.staleCount = 0
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Debug("ELBO progress stalled",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_elbo", c.bestElbo,
		)
		return true
	}
	return false
}

// BestElbo returns the best ELBO seen so far.
func (c *Tracker) BestElbo() float64 {
	return c.bestElbo
}

// History returns a copy of the full ELBO history.
func (c *Tracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the current number of evaluations without improvement.
func (c *Tracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state.
func (c *Tracker) Reset() {
	c.history = c.history[:0]
	c.bestElbo = math.Inf(-1)
	c.lastSignificant = math.Inf(-1)
	c.staleCount = 0
}
