package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/api"
	"github.com/sweetpotato0/lexcrag/mcp"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the MCP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx := cmd.Context()
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           a.handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.logger.Info("listening", "addr", cfg.Server.Addr, "mcp_path", cfg.Server.MCPPath)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func (a *app) mcpServer() *sdkmcp.Server {
	return mcp.NewServer(mcp.ServerDeps{
		Web:           a.web,
		Jurisprudence: a.jurisprudence,
		Answerer:      a.service,
		Version:       version,
	})
}

// handler is the HTTP API with the MCP endpoint mounted beside it.
func (a *app) handler() http.Handler {
	opts := []api.Option{
		api.WithMaxInFlight(a.cfg.Server.MaxInFlight),
		api.WithMount(a.cfg.Server.MCPPath, mcp.HTTPHandler(a.mcpServer())),
		api.WithLogger(a.logger),
	}
	if a.bus != nil {
		opts = append(opts, api.WithCheckpointFeed(a.bus, a.cfg.Bus.Topic))
	}
	return api.NewHandler(a.service, opts...)
}
