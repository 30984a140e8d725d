// Package harvest defines core types shared across subsystems.
package harvest

import (
	"time"
)

// RecordStatus tags the outcome of enriching a single candidate.
type RecordStatus string

// Record status values stamped on every enriched record.
const (
	StatusSuccess RecordStatus = "success"
	StatusSkipped RecordStatus = "skipped"
	StatusNoData  RecordStatus = "no_data"
	StatusError   RecordStatus = "error"
)

// Candidate is one item produced by the discovery stage. It must carry
// enough identity (Key) for the enrich stage to locate it again, and is
// immutable once produced.
type Candidate struct {
	// Key is a stable identifier, e.g. an approval number or detail URL.
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

// Field returns a named field value, or "" when absent.
func (c Candidate) Field(name string) string {
	return c.Fields[name]
}

// Record is one enriched result, stamped with the originating term and a
// status tag. Records are never mutated after creation.
type Record struct {
	Term       string            `json:"term"`
	Status     RecordStatus      `json:"status"`
	Fields     map[string]string `json:"fields"`
	CapturedAt time.Time         `json:"captured_at"`
}

// Failure describes one term-level or item-level error captured during a
// run. ItemKey is empty for term-level failures.
type Failure struct {
	Term    string `json:"term"`
	ItemKey string `json:"item_key,omitempty"`
	Err     string `json:"error"`
}

// RunStats accumulates outcome counters for a whole run. It is the sole
// success/failure signal returned to callers; a run never fails outright
// for partial failures.
type RunStats struct {
	RunID      string    `json:"run_id"`
	TotalTerms int       `json:"total_terms"`
	TotalItems int       `json:"total_items"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"errors"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunOptions carries run-scoped knobs supplied by the caller.
type RunOptions struct {
	// SearchType distinguishes artifact families, e.g. "domestic" vs
	// "overseas". Defaults to "domestic" when empty.
	SearchType string
	// StartPage and EndPage bound paginated discovery. EndPage 0 means
	// "through the last page the source reports".
	StartPage int
	EndPage   int
	// BatchSize is the number of records buffered before an incremental
	// checkpoint flush. Defaults to 50 when <= 0.
	BatchSize int
	// OutputDir is where final artifacts land; temp artifacts go in a
	// temp/ subdirectory beneath it.
	OutputDir string
}

func (o RunOptions) withDefaults() RunOptions {
	if o.SearchType == "" {
		o.SearchType = "domestic"
	}
	if o.StartPage <= 0 {
		o.StartPage = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.OutputDir == "" {
		o.OutputDir = "output/data"
	}
	return o
}

// Normalized returns a copy of the options with defaults applied.
func (o RunOptions) Normalized() RunOptions {
	return o.withDefaults()
}
