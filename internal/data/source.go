// Package data loads CSV and JSON files that feed per-iteration
// variables, so many VUs can run the same scenario with different users,
// products, or payloads.
package data

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Mode selects how rows are handed out across iterations.
type Mode string

const (
	// ModeSequential walks rows in file order and wraps around.
	ModeSequential Mode = "sequential"
	// ModeRandom picks a uniformly random row each time.
	ModeRandom Mode = "random"
)

// ParseMode maps a config string to a Mode. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeRandom:
		return ModeRandom, nil
	default:
		return "", fmt.Errorf("data: unknown mode %q (use sequential or random)", s)
	}
}

// Source is a loaded data file. Next is safe for concurrent use from all
// VUs; sequential order is global across them, so with N rows and N
// iterations every row is used exactly once.
type Source struct {
	name string
	rows []map[string]string
	mode Mode

	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewSource creates a source over pre-built rows.
func NewSource(name string, rows []map[string]string, mode Mode) *Source {
	if mode == "" {
		mode = ModeSequential
	}
	return &Source{
		name: name,
		rows: rows,
		mode: mode,
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

// Name returns the source name used in {{name.field}} placeholders.
func (s *Source) Name() string {
	return s.name
}

// Len returns the number of rows.
func (s *Source) Len() int {
	return len(s.rows)
}

// Next returns the row for the current iteration. The returned map is
// shared; callers must not mutate it.
func (s *Source) Next() map[string]string {
	if len(s.rows) == 0 {
		return nil
	}

	var idx int
	switch s.mode {
	case ModeRandom:
		s.mu.Lock()
		idx = s.rng.Intn(len(s.rows))
		s.mu.Unlock()
	default:
		n := s.counter.Add(1) - 1
		idx = int(n % uint64(len(s.rows)))
	}

	return s.rows[idx]
}

// LoadFile loads a .csv or .json file into a source. Relative paths are
// resolved against configDir, the directory of the test config file.
func LoadFile(name, path string, mode Mode, configDir string) (*Source, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}

	var (
		rows []map[string]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".json":
		rows, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("data: unsupported file format %q (use .csv or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("data: loading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data: file %s has no rows", path)
	}

	return NewSource(name, rows, mode), nil
}

// loadCSV reads a CSV file whose first record is the header row.
func loadCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV needs a header row and at least one data row")
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// loadJSON reads a JSON array of flat objects. Values are stringified
// for placeholder substitution; numbers keep their literal form.
func loadJSON(path string) ([]map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var objects []map[string]any
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("JSON must be an array of objects: %w", err)
	}

	rows := make([]map[string]string, 0, len(objects))
	for _, obj := range objects {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			row[k] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Sources is the named data sources of a run.
type Sources map[string]*Source
