package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pipeline"
)

type askOptions struct {
	mode       string
	priority   string
	validation string
	user       string
	asJSON     bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question, streaming progress and text",
		Example: `  lexcrag ask "Quais os requisitos da usucapião extraordinária?"
  lexcrag ask --mode standalone --json "O empregador pode reduzir salário?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))

			req := opts.request(strings.Join(args, " "), cfg.Mode)
			_, err = render(cmd.OutOrStdout(), cmd.ErrOrStderr(), a.service.Run(cmd.Context(), req), opts.asJSON)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", "", "integrated or standalone (default from config)")
	f.StringVar(&opts.priority, "priority", string(legal.PriorityMedium), "low, medium, high or urgent")
	f.StringVar(&opts.validation, "validation", string(legal.ValidationModerate), "strict, moderate or lenient")
	f.StringVar(&opts.user, "user", "", "user identifier recorded on the query")
	f.BoolVar(&opts.asJSON, "json", false, "print the final response as JSON instead of streaming text")
	return cmd
}

func (o *askOptions) request(text, defaultMode string) pipeline.Request {
	mode := o.mode
	if mode == "" {
		mode = defaultMode
	}
	return pipeline.Request{
		Text:            text,
		Priority:        legal.Priority(o.priority),
		ValidationLevel: legal.ValidationLevel(o.validation),
		UserID:          o.user,
		Mode:            pipeline.Mode(mode),
	}
}

// render writes streamed text to out and progress to status. In JSON mode
// only the final response is written to out.
func render(out, status io.Writer, events iter.Seq[pipeline.Event], asJSON bool) (*legal.FinalResponse, error) {
	for ev := range events {
		switch ev.Stage {
		case pipeline.StageProgress:
			fmt.Fprintf(status, "[%s] %s\n", ev.Step, ev.Message)
		case pipeline.StageStreaming:
			if !asJSON {
				io.WriteString(out, ev.Chunk)
			}
		case pipeline.StageFinal:
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return ev.Response, enc.Encode(ev.Response)
			}
			writeFooter(out, ev.Response)
			return ev.Response, nil
		case pipeline.StageError:
			return nil, ev.Err
		}
	}
	return nil, errors.New("run ended without a response")
}

func writeFooter(w io.Writer, resp *legal.FinalResponse) {
	fmt.Fprintf(w, "\n\n---\nstatus: %s  confidence: %.2f  completeness: %.2f  query: %s\n",
		resp.Status, resp.Confidence, resp.Completeness, resp.QueryID)
	for _, warn := range resp.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	if resp.Disclaimer != "" {
		fmt.Fprintf(w, "\n%s\n", resp.Disclaimer)
	}
}
