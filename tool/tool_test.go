package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
)

func searchTool(calls *int) *Tool {
	return &Tool{
		Name:        "search_lexml_legislation",
		Description: "Search Brazilian legislation",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search terms", Required: true},
			{Name: "max_results", Type: "integer", Description: "Result limit", Default: 3},
			{Name: "kind", Type: "string", Description: "Document type", Enum: []string{"lei", "jurisprudencia"}},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			*calls++
			return StringArg(args, "query", "") + "_processed", nil
		},
	}
}

func TestToolExecution(t *testing.T) {
	var calls int
	tl := searchTool(&calls)
	args := map[string]any{"query": "sociedade limitada"}

	result, err := tl.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != "sociedade limitada_processed" {
		t.Errorf("Unexpected result %q", result)
	}
	if IntArg(args, "max_results", 0) != 3 {
		t.Errorf("Expected default max_results to be applied, got %v", args["max_results"])
	}
}

func TestToolValidation(t *testing.T) {
	var calls int
	tl := searchTool(&calls)

	_, err := tl.Execute(context.Background(), nil)
	if !errors.Is(err, errorskg.ErrInvalidInput) {
		t.Fatalf("Expected ErrInvalidInput for missing parameter, got %v", err)
	}
	_, err = tl.Execute(context.Background(), map[string]any{"query": "x", "kind": "decreto"})
	if err == nil {
		t.Fatal("Expected enum violation")
	}
	if calls != 0 {
		t.Errorf("Handler should not run on invalid args, ran %d times", calls)
	}
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"a": 2.0, "b": 4, "c": json.Number("7"), "d": "x"}
	for name, want := range map[string]int{"a": 2, "b": 4, "c": 7, "d": 9, "missing": 9} {
		if got := IntArg(args, name, 9); got != want {
			t.Errorf("IntArg(%s) = %d, want %d", name, got, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	var calls int
	reg := NewRegistry()
	if err := reg.Register(searchTool(&calls)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(searchTool(&calls)); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := reg.Upsert(&Tool{Name: "search_web_legal", Handler: func(context.Context, map[string]any) (string, error) {
		return "web", nil
	}}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	list := reg.List()
	if len(list) != 2 || list[0].Name != "search_lexml_legislation" || list[1].Name != "search_web_legal" {
		t.Fatalf("Unexpected list order: %v", list)
	}

	schemas := reg.ToJSONSchemas()
	fn := schemas[0]["function"].(map[string]any)
	if fn["name"] != "search_lexml_legislation" {
		t.Errorf("Unexpected schema name %v", fn["name"])
	}
	params := fn["parameters"].(map[string]any)
	if req := params["required"].([]string); len(req) != 1 || req[0] != "query" {
		t.Errorf("Unexpected required list %v", req)
	}

	out, err := reg.Execute(context.Background(), "search_web_legal", nil)
	if err != nil || out != "web" {
		t.Errorf("Execute = %q, %v", out, err)
	}
	if _, err := reg.Execute(context.Background(), "missing", nil); !errors.Is(err, errorskg.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
