package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for deployment run data operations.
type Repository interface {
	// Run operations
	CreateRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, id uuid.UUID, status Status, errMsg *string) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, environment string, limit int) ([]*Run, error)

	// Unit operations
	RecordUnit(ctx context.Context, u *UnitRecord) error
	RecordLink(ctx context.Context, l *LinkRecord) error
	ListUnits(ctx context.Context, runID uuid.UUID) ([]UnitRecord, error)
	ListLinks(ctx context.Context, runID uuid.UUID) ([]LinkRecord, error)

	// LatestAddress returns the address unit was most recently deployed at
	// in environment, or ErrNotFound.
	LatestAddress(ctx context.Context, environment, unit string) (string, error)
}
