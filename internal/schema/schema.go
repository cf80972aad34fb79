// Package schema maintains an in-memory snapshot of the target database schema.
//
// The snapshot is loaded from a JSON description of the target database
// (produced offline by an introspection job) and served to the generation
// pipeline. Refresh replaces the snapshot atomically; readers holding the
// previous snapshot finish against a consistent view.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrNotLoaded indicates the catalog has not been loaded yet.
	ErrNotLoaded = errors.New("schema catalog not loaded")

	// ErrEmptySchema indicates the schema file contains no tables.
	ErrEmptySchema = errors.New("schema contains no tables")
)

// ForeignKey describes a reference from one column to another table's column.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column describes a single column of a target table.
type Column struct {
	Name       string      `json:"name"`
	DataType   string      `json:"type"`
	Nullable   bool        `json:"nullable"`
	PrimaryKey bool        `json:"primary_key"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty"`
}

// Table describes a target table with its columns.
type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns"`
}

// Snapshot is an immutable view of the target schema.
// All lookups are case-insensitive on table name.
type Snapshot struct {
	tables   []Table
	byName   map[string]int // lowercase name -> index into tables
	loadedAt time.Time
}

// Tables returns all tables in file order.
func (s *Snapshot) Tables() []Table { return s.tables }

// LoadedAt returns when this snapshot was read from disk.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Lookup finds a table by name, case-insensitively.
func (s *Snapshot) Lookup(name string) (Table, bool) {
	idx, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return s.tables[idx], true
}

// Resolve maps the given names onto canonical table names, dropping names the
// schema does not contain. Duplicates resolve to a single entry; input order
// is preserved. The second return lists the dropped names.
func (s *Snapshot) Resolve(names []string) (valid, unknown []string) {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if idx, ok := s.byName[key]; ok {
			valid = append(valid, s.tables[idx].Name)
		} else {
			unknown = append(unknown, name)
		}
	}
	return valid, unknown
}

// Filter returns the tables matching the given names, in input order.
// Unknown names are skipped.
func (s *Snapshot) Filter(names []string) []Table {
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		if t, ok := s.Lookup(name); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

// Catalog holds the current schema snapshot and reloads it on demand.
// Safe for concurrent use; Refresh swaps the snapshot atomically.
type Catalog struct {
	path   string
	logger *slog.Logger
	snap   atomic.Pointer[Snapshot]
}

// NewCatalog creates a catalog reading from the given JSON file.
// Call Refresh before first use.
func NewCatalog(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{path: path, logger: logger}
}

// Refresh reads the schema file and atomically replaces the current snapshot.
// On failure the previous snapshot stays in place.
func (c *Catalog) Refresh() error {
	snap, err := loadSnapshot(c.path)
	if err != nil {
		return err
	}

	c.snap.Store(snap)
	c.logger.Info("schema snapshot loaded",
		"path", c.path,
		"tables", len(snap.tables),
	)
	return nil
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() (*Snapshot, error) {
	snap := c.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Stats describes the current snapshot for admin endpoints.
type Stats struct {
	Tables   int       `json:"tables"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Stats returns table count and load time of the current snapshot.
func (c *Catalog) Stats() (Stats, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tables: len(snap.tables), LoadedAt: snap.loadedAt}, nil
}

// loadSnapshot reads and validates a schema JSON file.
func loadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	var file struct {
		Tables []Table `json:"tables"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}

	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySchema, path)
	}

	byName := make(map[string]int, len(file.Tables))
	for i, t := range file.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("schema file %s: table %d has no name", path, i)
		}
		key := strings.ToLower(t.Name)
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("schema file %s: duplicate table %q", path, t.Name)
		}
		byName[key] = i
	}

	return &Snapshot{
		tables:   file.Tables,
		byName:   byName,
		loadedAt: time.Now(),
	}, nil
}
