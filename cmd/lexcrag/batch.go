package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/runner"
	"gopkg.in/yaml.v3"
)

// batchEntry is one question of a batch file. JSON files parse as YAML.
type batchEntry struct {
	ID              string `yaml:"id"`
	Text            string `yaml:"text"`
	Mode            string `yaml:"mode"`
	Priority        string `yaml:"priority"`
	ValidationLevel string `yaml:"validation_level"`
	UserID          string `yaml:"user_id"`
}

func loadTasks(r io.Reader, defaultMode string) ([]runner.Task, error) {
	var entries []batchEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	tasks := make([]runner.Task, len(entries))
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		mode := e.Mode
		if mode == "" {
			mode = defaultMode
		}
		tasks[i] = runner.Task{ID: id, Request: pipeline.Request{
			Text:            e.Text,
			Priority:        legal.Priority(e.Priority),
			ValidationLevel: legal.ValidationLevel(e.ValidationLevel),
			UserID:          e.UserID,
			Mode:            pipeline.Mode(mode),
		}}
	}
	return tasks, nil
}

// writeResults prints one JSON object per line and counts failures.
func writeResults(w io.Writer, results []runner.Result) (failed int, err error) {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if r.Err != nil || (r.Response != nil && r.Response.Status == legal.StatusFailed) {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Answer every question of a YAML or JSON file concurrently",
		Long: `Reads a list of questions and writes one JSON result per line, in file
order. Each entry has a text and optionally id, mode, priority,
validation_level and user_id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			tasks, err := loadTasks(f, cfg.Mode)
			f.Close()
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return fmt.Errorf("%s has no questions", args[0])
			}

			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			if concurrency <= 0 {
				concurrency = cfg.Concurrency
			}
			results := runner.New(a.service, concurrency).RunBatch(cmd.Context(), tasks)
			failed, err := writeResults(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d questions, %d failed\n", len(results), failed)
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "parallel runs (default from config)")
	return cmd
}
