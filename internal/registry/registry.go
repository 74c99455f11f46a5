package registry

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry tracks the files available for analysis and their known column
// schemas. Safe for concurrent use; updated when datasets are (re)indexed.
type Registry struct {
	mu      sync.RWMutex
	files   []string
	schemas map[string][]string
}

func New() *Registry {
	return &Registry{
		schemas: make(map[string][]string),
	}
}

// List returns the available file paths.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

// Schemas returns a copy of the file-path → column-names mapping.
func (r *Registry) Schemas() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.schemas))
	for path, cols := range r.schemas {
		copied := make([]string, len(cols))
		copy(copied, cols)
		out[path] = copied
	}
	return out
}

// AllColumns returns the sorted union of all known column names.
func (r *Registry) AllColumns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, cols := range r.schemas {
		for _, c := range cols {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Update replaces the registry contents.
func (r *Registry) Update(files []string, schemas map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = make([]string, len(files))
	copy(r.files, files)
	r.schemas = make(map[string][]string, len(schemas))
	for path, cols := range schemas {
		copied := make([]string, len(cols))
		copy(copied, cols)
		r.schemas[path] = copied
	}
}

// ScanDir walks a data directory for tabular files and reads their headers.
// Files whose headers cannot be read are listed without a schema.
func ScanDir(dir string) ([]string, map[string][]string, error) {
	var files []string
	schemas := make(map[string][]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".csv" && ext != ".tsv" {
			return nil
		}
		files = append(files, path)
		if header, err := readHeader(path, ext); err == nil {
			schemas[path] = header
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error scanning data directory: %w", err)
	}
	sort.Strings(files)
	return files, schemas, nil
}

func readHeader(path, ext string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if ext == ".tsv" {
		reader.Comma = '\t'
	}
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}
