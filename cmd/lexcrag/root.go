package main

import (
	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/config"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "lexcrag",
		Short: "Legal question answering over legislation, case law and the web",
		Long: `lexcrag answers questions about Brazilian law. Each question is searched
in the vector knowledge base, the LexML legislation index and the web, the
evidence is graded and analysed, and a four-section answer is written.

Configuration comes from an optional YAML file, a .env file and the
environment, in increasing precedence.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")

	cmd.AddCommand(
		newAskCmd(opts),
		newBatchCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newIngestCmd(opts),
		newTrailCmd(opts),
	)
	return cmd
}
