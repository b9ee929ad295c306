package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/contrib/archive/mongo"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/observability"
)

type trailOutput struct {
	QueryID     string                     `json:"query_id"`
	Checkpoints []observability.Checkpoint `json:"checkpoints"`
	Response    *legal.FinalResponse       `json:"response,omitempty"`
}

func newTrailCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trail <query-id>",
		Short: "Print the archived checkpoints and response of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled {
				return errors.New("the run archive is disabled; set archive.enabled or LEXCRAG_ARCHIVE")
			}
			ctx := cmd.Context()
			archive, err := mongo.Open(ctx, cfg.Archive.Mongo)
			if err != nil {
				return err
			}
			defer archive.Close(context.WithoutCancel(ctx))

			out := trailOutput{QueryID: args[0]}
			if out.Checkpoints, err = archive.Trail(ctx, args[0]); err != nil {
				return err
			}
			if len(out.Checkpoints) == 0 {
				return errors.New("no checkpoints recorded for " + args[0])
			}
			// The response is missing while the run is still going.
			if resp, err := archive.Response(ctx, args[0]); err == nil {
				out.Response = resp
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
