package store

import (
	"fmt"
	"time"
)

// RunConfig describes the shape of a fitting problem, kept alongside a
// checkpoint so a resumed run can verify it is compatible.
type RunConfig struct {
	Sources       int `json:"sources"`
	ActiveSources int `json:"activeSources"`
	Images        int `json:"images"`
	PsfK          int `json:"psfK"`
}

// Checkpoint is the persisted state of an ELBO maximization run: the best
// packed parameter vector seen so far and the ELBO it achieved. The
// optimizer's internal state (line-search memory, factorizations) is not
// saved; a resumed run restarts the optimizer from the best parameters.
type Checkpoint struct {
	// RunID is the unique identifier for this fitting run.
	RunID string `json:"runId"`

	// BestParams is the packed parameter vector of the active sources
	// (ParamsPerSource entries each) that achieved BestElbo.
	BestParams []float64 `json:"bestParams"`

	// BestElbo is the ELBO value achieved by BestParams.
	BestElbo float64 `json:"bestElbo"`

	// InitialElbo is the ELBO at the starting point, for improvement
	// tracking.
	InitialElbo float64 `json:"initialElbo"`

	// Evaluation is the objective evaluation count when this checkpoint
	// was created.
	Evaluation int `json:"evaluation"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the problem shape, validated during resume.
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains checkpoint metadata without the parameter data,
// for listing runs without loading large vectors.
type CheckpointInfo struct {
	RunID      string    `json:"runId"`
	BestElbo   float64   `json:"bestElbo"`
	Evaluation int       `json:"evaluation"`
	Timestamp  time.Time `json:"timestamp"`
	Sources    int       `json:"sources"`
	Images     int       `json:"images"`
}

// ToInfo converts a full Checkpoint to its metadata.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:      c.RunID,
		BestElbo:   c.BestElbo,
		Evaluation: c.Evaluation,
		Timestamp:  c.Timestamp,
		Sources:    c.Config.Sources,
		Images:     c.Config.Images,
	}
}

// Validate checks that the checkpoint has usable data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if c.Evaluation < 0 {
		return &ValidationError{Field: "Evaluation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.ActiveSources <= 0 {
		return &ValidationError{Field: "Config.ActiveSources", Reason: "must be positive"}
	}
	if len(c.BestParams)%c.Config.ActiveSources != 0 {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length %d is not a multiple of %d active sources", len(c.BestParams), c.Config.ActiveSources),
		}
	}
	return nil
}

// IsCompatible checks whether this checkpoint can seed a run with the given
// problem shape.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config != config {
		return &ValidationError{
			Field:  "Config",
			Reason: fmt.Sprintf("checkpoint was created for %+v, run is %+v", c.Config, config),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
