// Package jsonl persists record batches as JSON Lines artifacts. The
// checkpoint subsystem decides which files exist and when; this package
// owns only the byte-level format.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
)

// Sink reads and writes JSONL record artifacts.
type Sink struct {
	logger *zap.Logger
}

// New creates a Sink.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// Write encodes records one JSON object per line, creating parent
// directories as needed.
func (s *Sink) Write(records []harvest.Record, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create artifact dir for %s: %w", path, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d for %s: %w", i, path, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	s.logger.Debug("artifact written", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}

// Read decodes every line of the artifact at path. Any malformed line
// fails the whole read; partial batches must never slip through a merge.
func (s *Sink) Read(path string) ([]harvest.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()

	var records []harvest.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec harvest.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return records, nil
}
