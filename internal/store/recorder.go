package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RunRecorder records the progress of a single optimization run: every
// evaluation goes to the trace file, and the best-so-far state is
// checkpointed every CheckpointEvery evaluations. It satisfies the
// fit.Recorder interface.
type RunRecorder struct {
	mu sync.Mutex

	store  Store
	trace  *TraceWriter
	runID  string
	config RunConfig

	// CheckpointEvery controls checkpoint frequency in evaluations.
	// Zero disables periodic checkpoints (only Finish writes one).
	CheckpointEvery int

	initialElbo float64
	bestElbo    float64
	bestParams  []float64
	evaluations int
	haveFirst   bool
}

// NewRunRecorder creates a recorder writing traces under baseDir and
// checkpoints through the given store.
func NewRunRecorder(st Store, baseDir, runID string, config RunConfig) (*RunRecorder, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	tw, err := NewTraceWriter(baseDir, runID)
	if err != nil {
		return nil, err
	}
	return &RunRecorder{
		store:           st,
		trace:           tw,
		runID:           runID,
		config:          config,
		CheckpointEvery: 50,
	}, nil
}

// Record logs one objective evaluation. Called by the fitting pipeline on
// every ELBO computation during optimization.
func (r *RunRecorder) Record(evaluation int, elbo float64, params []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluations = evaluation
	if !r.haveFirst {
		r.initialElbo = elbo
		r.bestElbo = elbo
		r.bestParams = append([]float64(nil), params...)
		r.haveFirst = true
	} else if elbo > r.bestElbo {
		r.bestElbo = elbo
		r.bestParams = append(r.bestParams[:0], params...)
	}

	entry := TraceEntry{
		Evaluation: evaluation,
		Elbo:       elbo,
		Timestamp:  time.Now(),
	}
	if err := r.trace.Write(entry); err != nil {
		return err
	}

	if r.CheckpointEvery > 0 && evaluation%r.CheckpointEvery == 0 {
		if err := r.saveLocked(); err != nil {
			slog.Warn("Periodic checkpoint failed", "runID", r.runID, "error", err)
		}
	}
	return nil
}

func (r *RunRecorder) saveLocked() error {
	checkpoint := &Checkpoint{
		RunID:       r.runID,
		BestParams:  append([]float64(nil), r.bestParams...),
		BestElbo:    r.bestElbo,
		InitialElbo: r.initialElbo,
		Evaluation:  r.evaluations,
		Timestamp:   time.Now(),
		Config:      r.config,
	}
	return r.store.SaveCheckpoint(r.runID, checkpoint)
}

// Finish writes a final checkpoint and closes the trace file.
func (r *RunRecorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var saveErr error
	if r.haveFirst {
		saveErr = r.saveLocked()
	}
	if err := r.trace.Close(); err != nil {
		return err
	}
	return saveErr
}
