// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/backroom/internal/domain"
)

// ErrPersistence marks every failure returned by a Repository.
var ErrPersistence = errors.New("persistence failure")

// ErrNotFound is returned when a scenario does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting scenarios and turns.
type Repository interface {
	// AppendTurn persists a turn and returns its ID. Writes for one scenario
	// are serialized; writes for different scenarios may run in parallel.
	AppendTurn(ctx context.Context, turn *domain.Turn) (string, error)

	// LoadRecent returns the most recent limit turns of a scenario, oldest
	// first, skipping turns written by any of the excluded authors.
	LoadRecent(ctx context.Context, scenarioID string, limit int, exclude ...domain.Author) ([]domain.Turn, error)

	// ListTurns returns the most recent limit turns, oldest first. A
	// non-positive limit returns the whole history.
	ListTurns(ctx context.Context, scenarioID string, limit int) ([]domain.Turn, error)

	// CountTurns returns the number of persisted turns for a scenario.
	CountTurns(ctx context.Context, scenarioID string) (int64, error)

	// GetOrCreateScenario persists cfg on first use of its ID and returns the
	// stored scenario. An existing scenario is never modified.
	GetOrCreateScenario(ctx context.Context, cfg domain.ScenarioConfig) (*domain.Scenario, error)

	// GetScenario retrieves a scenario by ID.
	GetScenario(ctx context.Context, scenarioID string) (*domain.Scenario, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
