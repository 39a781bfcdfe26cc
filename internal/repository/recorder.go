package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JonahGroendal/asn1-decode/internal/deploy"
)

// RunRecorder writes the outcome of one run's deployer calls to a
// Repository.
type RunRecorder struct {
	repo        Repository
	runID       uuid.UUID
	environment string

	mu sync.Mutex
	// pending holds libraries linked into a dependent that has not been
	// deployed yet.
	pending map[string]map[string]string
}

// StartRun creates a run record and returns a recorder for it.
func StartRun(ctx context.Context, repo Repository, environment string, variant string) (*RunRecorder, error) {
	run := &Run{
		Environment: environment,
		Variant:     variant,
		Status:      StatusRunning,
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	return &RunRecorder{
		repo:        repo,
		runID:       run.ID,
		environment: environment,
		pending:     make(map[string]map[string]string),
	}, nil
}

// RunID returns the ID of the recorded run.
func (r *RunRecorder) RunID() uuid.UUID {
	return r.runID
}

// UnitDeployed records a deployed unit along with the libraries linked
// into it earlier in the run.
func (r *RunRecorder) UnitDeployed(ctx context.Context, d deploy.Deployed) error {
	r.mu.Lock()
	libs := r.pending[d.Name]
	delete(r.pending, d.Name)
	r.mu.Unlock()

	return r.repo.RecordUnit(ctx, &UnitRecord{
		RunID:           r.runID,
		Environment:     r.environment,
		Unit:            d.Name,
		Address:         d.Address.Hex(),
		TxHash:          d.TxHash.Hex(),
		LinkedLibraries: libs,
	})
}

// UnitLinked records that library was bound into dependent.
func (r *RunRecorder) UnitLinked(ctx context.Context, dependent string, library deploy.Deployed) error {
	if err := r.repo.RecordLink(ctx, &LinkRecord{
		RunID:          r.runID,
		Dependent:      dependent,
		Library:        library.Name,
		LibraryAddress: library.Address.Hex(),
	}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[dependent] == nil {
		r.pending[dependent] = make(map[string]string)
	}
	r.pending[dependent][library.Name] = library.Address.Hex()
	return nil
}

// Finish marks the run completed, or failed with runErr.
func (r *RunRecorder) Finish(ctx context.Context, runErr error) error {
	status := StatusCompleted
	var errMsg *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := r.repo.FinishRun(ctx, r.runID, status, errMsg); err != nil {
		return fmt.Errorf("finish run %s: %w", r.runID, err)
	}
	return nil
}

var _ deploy.Recorder = (*RunRecorder)(nil)
