// Package mcp serves the legal search tools over the Model Context Protocol
// and consumes tools offered by other MCP servers.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
)

// ErrClientClosed is returned when the MCP client has been closed.
var ErrClientClosed = errors.New("mcp client closed")

// Option configures optional MCP client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation    sdkmcp.Implementation
	logger            *slog.Logger
	args              []string
	env               []string
	keepAlive         time.Duration
	terminateTimeout  time.Duration
	httpClient        *http.Client
	streamableRetries *int
	callTimeout       time.Duration
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithCommandArgs configures arguments when launching an stdio MCP server.
func WithCommandArgs(args ...string) Option {
	return func(cfg *clientConfig) { cfg.args = append(cfg.args, args...) }
}

// WithCommandEnv appends environment variables for the stdio MCP server process.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) { cfg.env = append(cfg.env, env...) }
}

// WithKeepAlive pings the server periodically.
func WithKeepAlive(interval time.Duration) Option {
	return func(cfg *clientConfig) { cfg.keepAlive = interval }
}

func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = client }
}

// WithStreamableMaxRetries overrides the reconnect attempts of the streamable
// HTTP transport.
func WithStreamableMaxRetries(retries int) Option {
	return func(cfg *clientConfig) { cfg.streamableRetries = &retries }
}

// WithCallTimeout bounds every tool call made through the client.
func WithCallTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.callTimeout = d }
}

func defaultConfig() clientConfig {
	return clientConfig{
		implementation:   sdkmcp.Implementation{Name: "lexcrag", Version: "0.1.0"},
		logger:           logging.WithComponent("mcp_client"),
		terminateTimeout: 5 * time.Second,
		callTimeout:      30 * time.Second,
	}
}

// Client wraps an MCP SDK client session.
type Client struct {
	session     *sdkmcp.ClientSession
	logger      *slog.Logger
	callTimeout time.Duration

	toolsChanged chan struct{}
	done         chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Connect performs the initialization handshake over transport.
func Connect(ctx context.Context, transport sdkmcp.Transport, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return connect(ctx, transport, cfg)
}

// NewStdioClient launches command and talks to it over stdio.
func NewStdioClient(ctx context.Context, command string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("mcp: command cannot be empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cmd := exec.Command(command, cfg.args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	cmd.Stderr = logWriter{logger: cfg.logger}
	return connect(ctx, &sdkmcp.CommandTransport{Command: cmd, TerminateDuration: cfg.terminateTimeout}, cfg)
}

// NewStreamableClient connects to an MCP server over streamable HTTP.
func NewStreamableClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	transport := &sdkmcp.StreamableClientTransport{Endpoint: endpoint}
	if cfg.httpClient != nil {
		transport.HTTPClient = cfg.httpClient
	}
	if cfg.streamableRetries != nil {
		transport.MaxRetries = *cfg.streamableRetries
	}
	return connect(ctx, transport, cfg)
}

func connect(ctx context.Context, transport sdkmcp.Transport, cfg clientConfig) (*Client, error) {
	c := &Client{
		logger:       cfg.logger,
		callTimeout:  cfg.callTimeout,
		toolsChanged: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	sdkClient := sdkmcp.NewClient(&cfg.implementation, &sdkmcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *sdkmcp.ToolListChangedRequest) {
			select {
			case c.toolsChanged <- struct{}{}:
			default:
			}
		},
		LoggingMessageHandler: func(_ context.Context, req *sdkmcp.LoggingMessageRequest) {
			if req != nil && req.Params != nil {
				c.logger.Info("mcp server log", "level", req.Params.Level, "data", req.Params.Data)
			}
		},
		KeepAlive: cfg.keepAlive,
	})
	session, err := sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	c.session = session
	go c.monitorSession()
	return c, nil
}

// Close terminates the session and its transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
		close(c.done)
	})
	return c.closeErr
}

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// ToolsChanged reports when the server's tool list changes.
func (c *Client) ToolsChanged() <-chan struct{} { return c.toolsChanged }

func (c *Client) monitorSession() {
	if err := c.session.Wait(); err != nil && !errors.Is(err, sdkmcp.ErrConnectionClosed) {
		c.logger.Warn("mcp session ended with error", "error", err)
	}
	_ = c.Close()
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Call invokes a remote tool and returns its text content. A result flagged
// as an error is returned as an error.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.closed() {
		return "", ErrClientClosed
	}
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	res, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp: call %s: %w", name, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("mcp: tool %s failed: %s", name, text)
	}
	return text, nil
}

func contentText(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if t, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Info("mcp server stderr", "line", msg)
	}
	return len(p), nil
}
