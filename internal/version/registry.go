// Package version holds the ordered table of game versions and the schema
// numbers each one expects. Ordering always comes from table position; version
// ids are never parsed.
package version

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xekr/packsmith/internal/domain"
)

//go:embed versions.yaml
var defaultTable []byte

// Entry is one game version and its schema numbers
type Entry struct {
	ID              string  `json:"id" yaml:"id"`
	DataVersion     float64 `json:"data" yaml:"data"`
	ResourceVersion float64 `json:"resource" yaml:"resource"`
}

// SchemaFor returns the schema number a pack of the given type is judged by
func (e Entry) SchemaFor(t domain.PackType) float64 {
	if t == domain.PackTypeData {
		return e.DataVersion
	}
	return e.ResourceVersion
}

// SplitSchema splits a schema number into its integer and fractional parts, 88.1 -> [88, 1]
func SplitSchema(v float64) [2]int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	major, _ := strconv.Atoi(whole)
	minor, _ := strconv.Atoi(frac)
	return [2]int{major, minor}
}

type table struct {
	Versions []Entry `yaml:"versions"`
}

// Registry is an immutable, ordered table of versions (oldest first)
type Registry struct {
	entries []Entry
	index   map[string]int
}

// New builds a registry from entries in release order
func New(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("version table is empty")
	}

	r := &Registry{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	copy(r.entries, entries)

	for i, e := range r.entries {
		if e.ID == "" {
			return nil, fmt.Errorf("version table entry %d has no id", i)
		}
		if _, dup := r.index[e.ID]; dup {
			return nil, fmt.Errorf("version %q listed twice", e.ID)
		}
		r.index[e.ID] = i
	}

	return r, nil
}

// Parse decodes a YAML version table
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse version table: %w", err)
	}
	return New(t.Versions)
}

// LoadFile reads a YAML version table from disk
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version table: %w", err)
	}
	return Parse(data)
}

// Default returns the registry compiled into the binary
func Default() (*Registry, error) {
	return Parse(defaultTable)
}

// Lookup returns the entry for id
func (r *Registry) Lookup(id string) (Entry, error) {
	i, ok := r.index[id]
	if !ok {
		return Entry{}, domain.UnknownVersion(id)
	}
	return r.entries[i], nil
}

// Contains reports whether id is in the table
func (r *Registry) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Position returns the release order index of id
func (r *Registry) Position(id string) (int, error) {
	i, ok := r.index[id]
	if !ok {
		return 0, domain.UnknownVersion(id)
	}
	return i, nil
}

// Compare returns -1 if a is older than b, 0 if equal, 1 if a is newer
func (r *Registry) Compare(a, b string) (int, error) {
	ia, err := r.Position(a)
	if err != nil {
		return 0, err
	}
	ib, err := r.Position(b)
	if err != nil {
		return 0, err
	}

	switch {
	case ia < ib:
		return -1, nil
	case ia > ib:
		return 1, nil
	}
	return 0, nil
}

// Entries returns a copy of the table in release order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Latest returns the newest entry
func (r *Registry) Latest() Entry {
	return r.entries[len(r.entries)-1]
}

// Len returns the number of versions in the table
func (r *Registry) Len() int {
	return len(r.entries)
}

// Between returns the entries from..to inclusive, in release order.
// An empty bound is open.
func (r *Registry) Between(from, to string) ([]Entry, error) {
	lo, hi := 0, len(r.entries)-1
	if from != "" {
		i, err := r.Position(from)
		if err != nil {
			return nil, err
		}
		lo = i
	}
	if to != "" {
		i, err := r.Position(to)
		if err != nil {
			return nil, err
		}
		hi = i
	}
	if lo > hi {
		return nil, nil
	}

	out := make([]Entry, hi-lo+1)
	copy(out, r.entries[lo:hi+1])
	return out, nil
}
