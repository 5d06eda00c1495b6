// Package storage provides the persistence layer for the simulation server.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"

	"github.com/MedSimWorks/attending-sim/server/internal/domain/session"
)

// SessionRepository defines the interface for session persistence.
// Each session row is written and read as a whole; the engine owns the
// record exclusively between Get and Save.
type SessionRepository interface {
	// Create inserts a freshly started session.
	Create(ctx context.Context, s *session.Session) error

	// Get retrieves one session by id. Returns (nil, nil) when absent.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Save replaces the stored session state wholesale.
	Save(ctx context.Context, s *session.Session) error
}

// ActionRepository defines the interface for the append-only action log.
type ActionRepository interface {
	// Append adds one action record. The store assigns the record id.
	Append(ctx context.Context, rec session.ActionRecord) error

	// ListBySession retrieves all actions for a session in insertion order.
	ListBySession(ctx context.Context, sessionID string) ([]session.ActionRecord, error)
}

// PendingResultRepository defines the interface for scheduled lab and
// consult results.
type PendingResultRepository interface {
	// Schedule inserts a pending result with its availability time.
	Schedule(ctx context.Context, pr session.PendingResult) error

	// DueBy retrieves undelivered results whose availability time has
	// been reached at the given sim-minute.
	DueBy(ctx context.Context, sessionID string, simTime int) ([]session.PendingResult, error)

	// MarkDelivered flips a result to delivered. Returns false when the
	// result was already delivered, so each result is surfaced exactly once.
	MarkDelivered(ctx context.Context, id int64) (bool, error)

	// ListBySession retrieves every pending result for a session, delivered
	// or not, in scheduling order.
	ListBySession(ctx context.Context, sessionID string) ([]session.PendingResult, error)
}

// EncounterLogRepository defines the interface for the role-tagged
// transcript of a session.
type EncounterLogRepository interface {
	// Append adds one log line.
	Append(ctx context.Context, entry session.LogEntry) error

	// ListBySession retrieves the full transcript in insertion order.
	ListBySession(ctx context.Context, sessionID string) ([]session.LogEntry, error)
}
