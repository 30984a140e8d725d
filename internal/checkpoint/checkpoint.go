// Package checkpoint persists partial record batches as uniquely named
// temp artifacts and consolidates them per search term, so long runs can be
// interrupted and resumed without losing or duplicating data.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/telemetry"
)

const (
	tempSubdir    = "temp"
	maxTermRunes  = 60
	artifactExt   = ".jsonl"
	mergedSuffix  = "merged"
	dateLayout    = "20060102"
	batchInfix    = "batch"
)

var (
	unsafeChars  = regexp.MustCompile(`[\\/*?:"<>|\s]+`)
	batchPattern = regexp.MustCompile(`_` + batchInfix + `(\d+)\` + artifactExt + `$`)
)

// Checkpointer writes temp artifacts under dataDir/temp and final merged
// artifacts under dataDir.
type Checkpointer struct {
	dataDir string
	tempDir string
	sink    harvest.Sink
	clock   harvest.Clock
	logger  *zap.Logger
}

// New creates a Checkpointer, creating both directories up front.
func New(dataDir string, sink harvest.Sink, clock harvest.Clock, logger *zap.Logger) (*Checkpointer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tempDir := filepath.Join(dataDir, tempSubdir)
	for _, dir := range []string{dataDir, tempDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint dir %s: %w", dir, err)
		}
	}
	return &Checkpointer{
		dataDir: dataDir,
		tempDir: tempDir,
		sink:    sink,
		clock:   clock,
		logger:  logger,
	}, nil
}

// SaveBatch writes one temp artifact for the batch. The name embeds the
// search type, sanitized term, date, and batch number, so repeated runs on
// the same day are distinguishable across batch numbers. An empty batch is
// a logged no-op.
func (c *Checkpointer) SaveBatch(records []harvest.Record, term, searchType string, batchNum int) error {
	if len(records) == 0 {
		c.logger.Warn("empty batch, nothing to checkpoint",
			zap.String("term", term),
			zap.Int("batch", batchNum),
		)
		return nil
	}

	path := filepath.Join(c.tempDir, c.artifactName(term, searchType, batchNum))
	if err := c.sink.Write(records, path); err != nil {
		return fmt.Errorf("save batch %d for term %q: %w", batchNum, term, err)
	}
	telemetry.ObserveBatchSaved()
	c.logger.Info("checkpoint batch saved",
		zap.String("path", path),
		zap.String("term", term),
		zap.Int("records", len(records)),
	)
	return nil
}

// Merge consolidates every temp artifact for the term into one final
// artifact and deletes the consumed temps. It returns "" with a nil error
// when there is nothing to merge. If any temp artifact is unreadable the
// merge fails with a MergeIntegrityError and no input is deleted. A delete
// failure after a successful merge is logged and tolerated: the final
// artifact already exists and is authoritative.
func (c *Checkpointer) Merge(term, searchType string) (string, error) {
	date := c.clock.Now().Format(dateLayout)
	prefix := fmt.Sprintf("%s_%s_%s_", searchType, sanitizeTerm(term), date)
	pattern := filepath.Join(c.tempDir, prefix+batchInfix+"*"+artifactExt)

	tempFiles, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob temp artifacts %s: %w", pattern, err)
	}
	if len(tempFiles) == 0 {
		c.logger.Info("no temp artifacts to merge", zap.String("term", term))
		telemetry.ObserveMerge("empty")
		return "", nil
	}

	// Batch numbers embedded in the names give the final artifact a
	// deterministic row order regardless of filesystem enumeration.
	sortByBatchNumber(tempFiles)

	var merged []harvest.Record
	seen := make(map[string]struct{})
	for _, tf := range tempFiles {
		records, err := c.sink.Read(tf)
		if err != nil {
			telemetry.ObserveMerge("failed")
			return "", &harvest.MergeIntegrityError{Path: tf, Cause: err}
		}
		for _, rec := range records {
			key := dedupKey(rec)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, rec)
		}
	}

	finalPath := filepath.Join(c.dataDir, prefix+mergedSuffix+artifactExt)
	if err := c.sink.Write(merged, finalPath); err != nil {
		telemetry.ObserveMerge("failed")
		return "", fmt.Errorf("write merged artifact %s: %w", finalPath, err)
	}

	for _, tf := range tempFiles {
		if err := os.Remove(tf); err != nil {
			c.logger.Warn("could not delete temp artifact", zap.String("path", tf), zap.Error(err))
		}
	}

	telemetry.ObserveMerge("merged")
	c.logger.Info("merged temp artifacts",
		zap.Int("sources", len(tempFiles)),
		zap.Int("records", len(merged)),
		zap.String("path", finalPath),
	)
	return finalPath, nil
}

// TempDir exposes the temp artifact directory, mainly for tests.
func (c *Checkpointer) TempDir() string { return c.tempDir }

func (c *Checkpointer) artifactName(term, searchType string, batchNum int) string {
	date := c.clock.Now().Format(dateLayout)
	return fmt.Sprintf("%s_%s_%s_%s%d%s",
		searchType, sanitizeTerm(term), date, batchInfix, batchNum, artifactExt)
}

// sanitizeTerm strips filesystem-unsafe characters and bounds the length so
// long terms cannot overflow path limits.
func sanitizeTerm(term string) string {
	safe := unsafeChars.ReplaceAllString(term, "_")
	runes := []rune(safe)
	if len(runes) > maxTermRunes {
		safe = string(runes[:maxTermRunes])
	}
	return safe
}

func sortByBatchNumber(files []string) {
	sort.Slice(files, func(i, j int) bool {
		return batchNumber(files[i]) < batchNumber(files[j])
	})
}

func batchNumber(path string) int {
	m := batchPattern.FindStringSubmatch(path)
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// dedupKey ignores CapturedAt so a batch rewritten after a crash does not
// double its rows in the final artifact.
func dedupKey(rec harvest.Record) string {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		fields = []byte(fmt.Sprint(rec.Fields))
	}
	return rec.Term + "\x00" + string(rec.Status) + "\x00" + string(fields)
}
