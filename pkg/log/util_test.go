package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, 3},
		{"time type", []any{"t", now}, 1},
		{"duration", []any{"elapsed", 3 * time.Second}, 1},
		{"bytes", []any{"data", []byte("xyz")}, 1},
		{"error only", []any{err}, 1},
		{"multiple errors", []any{err, errors.New("again")}, 2},
		{"passthrough field", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value"}, 1},
		{"nil value", []any{"a", nil}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != tt.want {
				t.Errorf("toFields(%v) produced %d fields, want %d", tt.input, len(fields), tt.want)
			}

			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestInitReplacesGlobal(t *testing.T) {
	before := Std()
	Init(&Options{Level: "debug", Format: "json"})
	after := Std()
	if before == after {
		t.Fatal("Init did not replace the global logger")
	}

	// A second Init must also take effect (runtime level changes).
	Init(&Options{Level: "warn", Format: "json"})
	if Std() == after {
		t.Fatal("second Init did not replace the global logger")
	}
}
