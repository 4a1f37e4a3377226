package data

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFile_CSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.csv", "username,password\nalice,s3cret\nbob,hunter2\n")

	src, err := LoadFile("users", "users.csv", ModeSequential, dir)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", src.Len())
	}

	row := src.Next()
	if row["username"] != "alice" || row["password"] != "s3cret" {
		t.Errorf("first row = %v", row)
	}
	row = src.Next()
	if row["username"] != "bob" {
		t.Errorf("second row = %v", row)
	}
}

func TestLoadFile_CSVShortRecord(t *testing.T) {
	dir := t.TempDir()
	// csv.Reader rejects ragged rows, so pad with an empty field.
	writeFile(t, dir, "u.csv", "a,b\n1,\n")

	src, err := LoadFile("u", "u.csv", ModeSequential, dir)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	row := src.Next()
	if row["b"] != "" {
		t.Errorf("missing field should be empty, got %q", row["b"])
	}
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "products.json", `[
		{"id": 1, "name": "widget", "inStock": true, "price": 9.99},
		{"id": 2, "name": "gadget", "inStock": false, "price": 19.5}
	]`)

	src, err := LoadFile("products", "products.json", ModeSequential, dir)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	row := src.Next()
	if row["id"] != "1" {
		t.Errorf("numeric id stringified to %q, want 1", row["id"])
	}
	if row["name"] != "widget" {
		t.Errorf("name = %q", row["name"])
	}
	if row["inStock"] != "true" {
		t.Errorf("inStock = %q", row["inStock"])
	}
	if row["price"] != "9.99" {
		t.Errorf("price should keep its literal form, got %q", row["price"])
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.json", `[]`)
	writeFile(t, dir, "headeronly.csv", "a,b\n")
	writeFile(t, dir, "notarray.json", `{"a": 1}`)
	writeFile(t, dir, "data.yaml", "a: 1\n")

	tests := []struct {
		name string
		path string
	}{
		{"missing file", "nope.csv"},
		{"empty json array", "empty.json"},
		{"csv without data rows", "headeronly.csv"},
		{"json object instead of array", "notarray.json"},
		{"unsupported extension", "data.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile("x", tt.path, ModeSequential, dir); err == nil {
				t.Errorf("LoadFile(%s) expected error", tt.path)
			}
		})
	}
}

func TestSource_SequentialWrapsAround(t *testing.T) {
	src := NewSource("s", []map[string]string{
		{"v": "0"}, {"v": "1"}, {"v": "2"},
	}, ModeSequential)

	want := []string{"0", "1", "2", "0", "1", "2", "0"}
	for i, w := range want {
		if got := src.Next()["v"]; got != w {
			t.Errorf("draw %d = %q, want %q", i, got, w)
		}
	}
}

func TestSource_SequentialCoversAllRowsConcurrently(t *testing.T) {
	const rows = 8
	const perRow = 25

	rs := make([]map[string]string, rows)
	for i := range rs {
		rs[i] = map[string]string{"v": string(rune('a' + i))}
	}
	src := NewSource("s", rs, ModeSequential)

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for g := 0; g < rows; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perRow; i++ {
				v := src.Next()["v"]
				mu.Lock()
				counts[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// rows*perRow draws over rows entries must hit every row exactly
	// perRow times: the shared counter makes the distribution exact.
	for i := 0; i < rows; i++ {
		v := string(rune('a' + i))
		if counts[v] != perRow {
			t.Errorf("row %q drawn %d times, want %d", v, counts[v], perRow)
		}
	}
}

func TestSource_Random(t *testing.T) {
	src := NewSource("s", []map[string]string{
		{"v": "0"}, {"v": "1"}, {"v": "2"},
	}, ModeRandom)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		v := src.Next()["v"]
		if v != "0" && v != "1" && v != "2" {
			t.Fatalf("unexpected row %q", v)
		}
		seen[v] = true
	}
	if len(seen) < 2 {
		t.Errorf("200 random draws hit %d distinct rows, expected more spread", len(seen))
	}
}

func TestSource_EmptyNextIsNil(t *testing.T) {
	src := NewSource("s", nil, ModeSequential)
	if row := src.Next(); row != nil {
		t.Errorf("Next() on empty source = %v, want nil", row)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeSequential, false},
		{"sequential", ModeSequential, false},
		{"random", ModeRandom, false},
		{"shuffled", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
