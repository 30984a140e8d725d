package harvest

import (
	"context"
	"time"
)

// SiteAdapter is the source-specific logic that turns rendered pages into
// structured candidates and records. Implementations must return errors on
// failure rather than silently returning partial data; the orchestrator
// relies on errors to drive its failure counters.
type SiteAdapter interface {
	// Discover returns the ordered candidates for one search term.
	Discover(ctx context.Context, term string, opts RunOptions) ([]Candidate, error)
	// Enrich resolves one candidate into a full record.
	Enrich(ctx context.Context, candidate Candidate) (Record, error)
}

// Sink owns the byte-level artifact format. The checkpoint subsystem
// decides what goes in each file and when files are merged or deleted, not
// how records are encoded.
type Sink interface {
	Write(records []Record, path string) error
	Read(path string) ([]Record, error)
}

// Repository persists run history for later inspection.
type Repository interface {
	SaveRun(ctx context.Context, stats RunStats) error
	LastRuns(ctx context.Context, limit int) ([]RunStats, error)
}

// Publisher pushes run-completion events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
