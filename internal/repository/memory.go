package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository in process memory. It backs
// runs without a database configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*Run
	order []uuid.UUID
	units []UnitRecord
	links []LinkRecord
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs: make(map[uuid.UUID]*Run),
	}
}

// CreateRun stores a new run.
func (r *MemoryRepository) CreateRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	run.StartedAt = time.Now().UTC()

	c := *run
	r.runs[run.ID] = &c
	r.order = append(r.order, run.ID)
	return nil
}

// FinishRun sets the final status of a run.
func (r *MemoryRepository) FinishRun(_ context.Context, id uuid.UUID, status Status, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.ErrorMessage = errMsg
	run.FinishedAt = &now
	return nil
}

// GetRun returns a copy of the run with id.
func (r *MemoryRepository) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *run
	return &c, nil
}

// ListRuns returns the most recent runs for an environment, newest first.
func (r *MemoryRepository) ListRuns(_ context.Context, environment string, limit int) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	var runs []*Run
	for i := len(r.order) - 1; i >= 0 && len(runs) < limit; i-- {
		run := r.runs[r.order[i]]
		if run.Environment != environment {
			continue
		}
		c := *run
		runs = append(runs, &c)
	}
	return runs, nil
}

// RecordUnit stores a deployed unit.
func (r *MemoryRepository) RecordUnit(_ context.Context, u *UnitRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[u.RunID]; !ok {
		return ErrNotFound
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()

	c := *u
	if u.LinkedLibraries != nil {
		c.LinkedLibraries = make(map[string]string, len(u.LinkedLibraries))
		for k, v := range u.LinkedLibraries {
			c.LinkedLibraries[k] = v
		}
	}
	r.units = append(r.units, c)
	return nil
}

// RecordLink stores a link.
func (r *MemoryRepository) RecordLink(_ context.Context, l *LinkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[l.RunID]; !ok {
		return ErrNotFound
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now().UTC()
	r.links = append(r.links, *l)
	return nil
}

// ListUnits returns the units deployed by a run in deployment order.
func (r *MemoryRepository) ListUnits(_ context.Context, runID uuid.UUID) ([]UnitRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var units []UnitRecord
	for _, u := range r.units {
		if u.RunID == runID {
			units = append(units, u)
		}
	}
	return units, nil
}

// ListLinks returns the links applied during a run.
func (r *MemoryRepository) ListLinks(_ context.Context, runID uuid.UUID) ([]LinkRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var links []LinkRecord
	for _, l := range r.links {
		if l.RunID == runID {
			links = append(links, l)
		}
	}
	return links, nil
}

// LatestAddress returns the most recent address of unit in environment.
func (r *MemoryRepository) LatestAddress(_ context.Context, environment, unit string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.units) - 1; i >= 0; i-- {
		u := r.units[i]
		if u.Environment == environment && u.Unit == unit {
			return u.Address, nil
		}
	}
	return "", ErrNotFound
}

var _ Repository = (*MemoryRepository)(nil)
