package jsonschema

import (
	"strings"
	"testing"
)

const userSchema = `{
	"type": "object",
	"required": ["name", "age"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	}
}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"valid document", `{"name": "ada", "age": 36}`, true},
		{"missing required field", `{"name": "ada"}`, false},
		{"wrong type", `{"name": "ada", "age": "old"}`, false},
		{"below minimum", `{"name": "ada", "age": -1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.doc, userSchema)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Validate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	if _, err := Validate(`{not json`, userSchema); err == nil {
		t.Error("expected error for malformed document")
	}
}

func TestCompileInvalidSchema(t *testing.T) {
	if _, err := Compile(`{"type": "nonsense"}`); err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestCompiledSchemaReuse(t *testing.T) {
	s, err := Compile(userSchema)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		ok, err := s.Validate(`{"name": "ada", "age": 36}`)
		if err != nil || !ok {
			t.Fatalf("iteration %d: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestValidateWithErrors(t *testing.T) {
	ok, errs := ValidateWithErrors(`{"age": -1}`, userSchema)
	if ok {
		t.Fatal("expected validation failure")
	}
	if len(errs) == 0 {
		t.Fatal("expected at least one violation")
	}
	if !strings.Contains(errs.Error(), "validation error") {
		t.Errorf("unexpected message: %s", errs.Error())
	}
}
