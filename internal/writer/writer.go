package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/crmcrawl/internal/types"
)

// Snapshot is the structured checkpoint artifact.
type Snapshot struct {
	Data         []types.Record `json:"data"`
	SkippedPages []int          `json:"skippedPages"`
}

// Checkpoint writes full snapshots of the crawl to a JSON file and a CSV file.
type Checkpoint struct {
	outputDir string
	jsonName  string
	csvName   string

	mu      sync.Mutex
	columns []string
	known   map[string]bool
}

// Option configures a Checkpoint.
type Option func(*Checkpoint)

// WithFileNames overrides the artifact file names inside the output directory.
func WithFileNames(jsonName, csvName string) Option {
	return func(c *Checkpoint) {
		if jsonName != "" {
			c.jsonName = jsonName
		}
		if csvName != "" {
			c.csvName = csvName
		}
	}
}

// WithLeadingColumns fixes the first CSV columns regardless of which record
// introduces them.
func WithLeadingColumns(names ...string) Option {
	return func(c *Checkpoint) {
		for _, n := range names {
			c.addColumn(n)
		}
	}
}

// New creates a Checkpoint rooted at outputDir, creating the directory if needed.
func New(outputDir string, opts ...Option) (*Checkpoint, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	c := &Checkpoint{
		outputDir: outputDir,
		jsonName:  "data.json",
		csvName:   "data.csv",
		known:     make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// JSONPath returns the location of the structured artifact.
func (c *Checkpoint) JSONPath() string { return filepath.Join(c.outputDir, c.jsonName) }

// CSVPath returns the location of the tabular artifact.
func (c *Checkpoint) CSVPath() string { return filepath.Join(c.outputDir, c.csvName) }

// Columns returns the CSV header as of the last Persist.
func (c *Checkpoint) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.columns))
	copy(out, c.columns)
	return out
}

// Persist overwrites both artifacts with the given snapshot. The two files are
// written concurrently; the returned error joins whichever failed. Nothing is
// written once ctx is done, and the previous checkpoint stays as it was.
func (c *Checkpoint) Persist(ctx context.Context, records []types.Record, skipped []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if skipped == nil {
		skipped = []int{}
	}
	if records == nil {
		records = []types.Record{}
	}
	for _, rec := range records {
		for _, name := range rec.Names() {
			c.addColumn(name)
		}
	}
	columns := append([]string(nil), c.columns...)

	var g errgroup.Group
	var jsonErr, csvErr error
	g.Go(func() error {
		jsonErr = c.writeJSON(Snapshot{Data: records, SkippedPages: skipped})
		return jsonErr
	})
	g.Go(func() error {
		csvErr = c.writeCSV(columns, records)
		return csvErr
	})
	_ = g.Wait()

	if err := errors.Join(jsonErr, csvErr); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpoint) addColumn(name string) {
	if c.known[name] {
		return
	}
	c.known[name] = true
	c.columns = append(c.columns, name)
}

func (c *Checkpoint) writeJSON(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.jsonName, err)
	}
	return writeFileAtomic(c.JSONPath(), data)
}

// EncodeCSV renders records under the given header. Missing fields are empty cells.
func EncodeCSV(columns []string, records []types.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i], _ = rec.Get(col)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Checkpoint) writeCSV(columns []string, records []types.Record) error {
	data, err := EncodeCSV(columns, records)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.csvName, err)
	}
	return writeFileAtomic(c.CSVPath(), data)
}

// writeFileAtomic replaces path so readers never observe a half-written snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
