package jsonpath

import (
	"testing"
)

const doc = `{
	"name": "John Doe",
	"age": 30,
	"address": {
		"street": "123 Main St",
		"city": "Anytown"
	},
	"phones": [
		{"type": "home", "number": "555-1234"},
		{"type": "work", "number": "555-5678"}
	],
	"active": true,
	"scores": [10, 20, 30, 40],
	"metadata": null
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"root path", "$", doc, false},
		{"simple property", "$.name", "John Doe", false},
		{"numeric property", "$.age", "30", false},
		{"boolean property", "$.active", "true", false},
		{"nested property", "$.address.city", "Anytown", false},
		{"array element field", "$.phones[0].number", "555-1234", false},
		{"second array element", "$.phones[1].type", "work", false},
		{"scalar array index", "$.scores[2]", "30", false},
		{"null value", "$.metadata", "null", false},
		{"bracket notation single quotes", "$['name']", "John Doe", false},
		{"bracket notation double quotes", `$["name"]`, "John Doe", false},
		{"without dollar prefix", "address.street", "123 Main St", false},
		{"missing path", "$.nope", "", true},
		{"missing nested path", "$.address.country", "", true},
		{"index out of range", "$.scores[9]", "", true},
		{"empty path", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(doc, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Extract(%q) expected error, got %q", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtract_EmptyJSON(t *testing.T) {
	if _, err := Extract("", "$.name"); err == nil {
		t.Error("Extract with empty JSON expected error")
	}
}

func TestExists(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"present property", "$.name", true},
		{"present null counts as existing", "$.metadata", true},
		{"nested present", "$.phones[1].number", true},
		{"absent property", "$.nope", false},
		{"absent nested", "$.address.zipcode", false},
		{"empty path", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Exists(doc, tt.path); got != tt.want {
				t.Errorf("Exists(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if Exists("", "$.name") {
		t.Error("Exists on empty JSON should be false")
	}
}

func TestExtractMultiple(t *testing.T) {
	t.Run("all paths resolve", func(t *testing.T) {
		got, err := ExtractMultiple(doc, map[string]string{
			"who":   "$.name",
			"where": "$.address.city",
		})
		if err != nil {
			t.Fatalf("ExtractMultiple error: %v", err)
		}
		if got["who"] != "John Doe" || got["where"] != "Anytown" {
			t.Errorf("results = %v", got)
		}
	})

	t.Run("partial failure reports error and keeps successes", func(t *testing.T) {
		got, err := ExtractMultiple(doc, map[string]string{
			"who":  "$.name",
			"bad":  "$.missing",
			"bad2": "$.also.missing",
		})
		if err == nil {
			t.Fatal("expected aggregated error")
		}
		if got["who"] != "John Doe" {
			t.Errorf("successful extraction lost: %v", got)
		}
	})

	t.Run("no paths", func(t *testing.T) {
		if _, err := ExtractMultiple(doc, nil); err == nil {
			t.Error("expected error for empty path map")
		}
	})
}
