package executor

import (
	"strings"
	"testing"
)

func TestFormatCSVValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"bool true", true, "Yes"},
		{"bool false", false, "No"},
		{"float", float64(3.5), "3.5"},
		{"int64", int64(42), "42"},
		{"json object", map[string]any{"a": float64(1)}, `{"a":1}`},
		{"json array", []any{"x", float64(2)}, `["x",2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCSVValue(tt.in); got != tt.want {
				t.Errorf("formatCSVValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var sb strings.Builder
	columns := []string{"id", "email", "active"}
	rows := [][]any{
		{int64(1), "a@example.com", true},
		{int64(2), nil, false},
		{int64(3), "quote \"me\", please", true},
	}
	if err := WriteCSV(&sb, columns, rows); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), sb.String())
	}
	if lines[0] != "id,email,active" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "2,,No" {
		t.Errorf("null row = %q, want empty field for NULL", lines[2])
	}
	if lines[3] != `3,"quote ""me"", please",Yes` {
		t.Errorf("quoted row = %q", lines[3])
	}
}

func TestWriteCSVShortRow(t *testing.T) {
	var sb strings.Builder
	if err := WriteCSV(&sb, []string{"a", "b"}, [][]any{{int64(1)}}); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if lines[1] != "1," {
		t.Errorf("short row = %q, want padded field", lines[1])
	}
}
