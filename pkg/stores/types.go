package stores

import (
	"context"
	"time"

	"github.com/openfroyo/scripthost/pkg/value"
)

// RunStatus represents the status of a script run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one script execution recorded by the orchestrator
type Run struct {
	ID          string     `json:"id"`
	Workspace   string     `json:"workspace"`
	EngineKind  string     `json:"engine_kind"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// KeyValueStore is the persistent mapping used by scripts and the CLI.
type KeyValueStore interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (value.Value, bool, error)

	// Set stores v under key, replacing any previous value.
	Set(ctx context.Context, key string, v value.Value) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every entry in one transaction.
	Clear(ctx context.Context) error

	// Keys returns all keys ordered lexically.
	Keys(ctx context.Context) ([]string, error)

	// Values returns all non-null values ordered by key.
	Values(ctx context.Context) ([]value.Value, error)
}

// RunHistory persists run records.
type RunHistory interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
}

// Store defines the interface for the persistence layer
type Store interface {
	KeyValueStore
	RunHistory

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Utility
	HealthCheck(ctx context.Context) error
}
