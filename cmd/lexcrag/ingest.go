package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/config"
	"github.com/sweetpotato0/lexcrag/ingest"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/vector"
)

type ingestOptions struct {
	chunkSize    int
	overlap      int
	authority    string
	jurisdiction string
	url          string
}

func (o *ingestOptions) defaults() map[string]string {
	meta := map[string]string{}
	for k, v := range map[string]string{
		vector.MetaAuthority:    o.authority,
		vector.MetaJurisdiction: o.jurisdiction,
		vector.MetaURL:          o.url,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index the .txt, .md and .html files of a directory into the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a := &app{cfg: cfg, logger: logging.WithComponent("lexcrag")}
			defer a.Close(context.WithoutCancel(ctx))

			if err := a.openStore(ctx); err != nil {
				return err
			}
			if a.store == nil {
				return errors.New("vector store disabled or no embedding key configured")
			}
			if cfg.Vector.Backend == config.BackendMemory {
				a.logger.Warn("the memory vector backend is discarded when this command exits")
			}

			ix, err := ingest.NewIndexer(a.embedder, a.store,
				ingest.WithChunker(ingest.NewChunker(ingest.WithChunkSize(opts.chunkSize), ingest.WithOverlap(opts.overlap))),
				ingest.WithDefaults(opts.defaults()),
			)
			if err != nil {
				return err
			}
			stats, err := ix.IndexDir(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents as %d chunks (%d skipped)\n", stats.Documents, stats.Chunks, stats.Skipped)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.chunkSize, "chunk-size", 1200, "maximum chunk length in characters")
	f.IntVar(&opts.overlap, "overlap", 150, "characters shared by consecutive windows of a long paragraph")
	f.StringVar(&opts.authority, "authority", "", "issuing authority recorded on every chunk")
	f.StringVar(&opts.jurisdiction, "jurisdiction", "", "federal, state or municipal")
	f.StringVar(&opts.url, "url", "", "source URL recorded on every chunk")
	return cmd
}
