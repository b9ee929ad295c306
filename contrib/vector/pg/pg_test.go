package pg

import (
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
)

func TestNewValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"injection":      {Dimension: 3, TableName: "passages; DROP TABLE users"},
		"zero dimension": {Dimension: 0, TableName: "passages"},
		"leading digit":  {Dimension: 3, TableName: "1passages"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(nil, cfg); !errors.Is(err, errorskg.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
		})
	}

	store, err := New(nil, Config{Dimension: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if store.table != "legal_passages" {
		t.Errorf("Expected default table name, got %s", store.table)
	}
}
