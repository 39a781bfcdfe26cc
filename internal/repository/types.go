// Package repository persists deployment runs and the units they deployed.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the state of a deployment run.
type Status string

const (
	// StatusRunning indicates the run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates every action of the run succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run stopped at a failing action.
	StatusFailed Status = "failed"
)

// Run represents one execution of a plan against an environment.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Environment  string     `json:"environment"`
	Variant      string     `json:"variant"`
	Status       Status     `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// UnitRecord represents a unit deployed during a run.
type UnitRecord struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"runId"`
	Environment string    `json:"environment"`
	Unit        string    `json:"unit"`
	Address     string    `json:"address"`
	TxHash      string    `json:"txHash"`
	// LinkedLibraries maps library name to the address bound into the unit.
	LinkedLibraries map[string]string `json:"linkedLibraries,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// LinkRecord represents a library bound into a dependent during a run.
type LinkRecord struct {
	ID             uuid.UUID `json:"id"`
	RunID          uuid.UUID `json:"runId"`
	Dependent      string    `json:"dependent"`
	Library        string    `json:"library"`
	LibraryAddress string    `json:"libraryAddress"`
	CreatedAt      time.Time `json:"createdAt"`
}
