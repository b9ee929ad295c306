package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/config"
	"github.com/sweetpotato0/lexcrag/contrib/archive/mongo"
	"github.com/sweetpotato0/lexcrag/contrib/cache/redis"
	embedopenai "github.com/sweetpotato0/lexcrag/contrib/embedder/openai"
	"github.com/sweetpotato0/lexcrag/contrib/provider/claude"
	"github.com/sweetpotato0/lexcrag/contrib/provider/cohere"
	"github.com/sweetpotato0/lexcrag/contrib/provider/gemini"
	"github.com/sweetpotato0/lexcrag/contrib/provider/groq"
	"github.com/sweetpotato0/lexcrag/contrib/provider/openai"
	cohererank "github.com/sweetpotato0/lexcrag/contrib/reranker/cohere"
	"github.com/sweetpotato0/lexcrag/contrib/reranker/mmr"
	"github.com/sweetpotato0/lexcrag/contrib/search/lexml"
	"github.com/sweetpotato0/lexcrag/contrib/search/tavily"
	"github.com/sweetpotato0/lexcrag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/lexcrag/contrib/vector/inmemory"
	"github.com/sweetpotato0/lexcrag/contrib/vector/pg"
	"github.com/sweetpotato0/lexcrag/crag"
	"github.com/sweetpotato0/lexcrag/hybrid"
	"github.com/sweetpotato0/lexcrag/mcp"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/pipeline"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/review"
	"github.com/sweetpotato0/lexcrag/synthesis"
	"github.com/sweetpotato0/lexcrag/tool"
	"github.com/sweetpotato0/lexcrag/vector"
)

// app owns every long-lived dependency of a command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	service       *pipeline.Service
	reasoner      *hybrid.FallbackReasoner
	web           retrieval.WebSearcher
	jurisprudence retrieval.JurisprudenceSearcher
	embedder      vector.Embedder
	store         vector.VectorStore
	cache         retrieval.Cache
	bus           *gochannel.GoChannel
	archive       *mongo.Archive

	mu      sync.Mutex
	closers []func(context.Context) error
}

type buildOptions struct {
	traceWriter io.Writer
}

type buildOption func(*buildOptions)

func withTraceWriter(w io.Writer) buildOption {
	return func(o *buildOptions) { o.traceWriter = w }
}

func (a *app) onClose(f func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, f)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := slices.Clone(a.closers)
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for _, f := range slices.Backward(closers) {
		if err := f(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeFunc(f func() error) func(context.Context) error {
	return func(context.Context) error { return f() }
}

// build connects every configured backend and assembles the pipeline. On
// error the resources acquired so far are released.
func build(ctx context.Context, cfg config.Config, opts ...buildOption) (_ *app, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	a := &app{cfg: cfg, logger: logging.WithComponent("lexcrag")}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Writer:         o.traceWriter,
		Disable:        !cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(shutdown)

	a.reasoner = hybrid.NewFallbackReasoner(a.reasonerFactories(ctx))
	helper := a.helperLLM()

	if err := a.buildSearch(ctx); err != nil {
		return nil, err
	}
	vectorSearcher, err := a.buildVector(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.buildSinks(ctx)
	if err != nil {
		return nil, err
	}

	synthOpts := []synthesis.Option{synthesis.WithContextTokens(cfg.Synthesis.ContextTokens)}
	if tk, err := tiktoken.New(cfg.Synthesis.Encoding); err != nil {
		a.logger.Warn("tokenizer unavailable, truncating by characters", "encoding", cfg.Synthesis.Encoding, "error", err)
	} else {
		synthOpts = append(synthOpts, synthesis.WithTruncator(tk))
	}
	synth := synthesis.New(a.reasoner, synthOpts...)

	var extra []*tool.Tool
	if cfg.Tools.MCPEndpoint != "" {
		if extra, err = a.remoteTools(ctx); err != nil {
			return nil, err
		}
	}
	tools := hybrid.NewToolExecutor(helper, a.web, a.jurisprudence,
		hybrid.WithToolTimeout(cfg.Tools.Timeout),
		hybrid.WithExtraTools(extra...),
	)

	processor, err := hybrid.NewProcessor(hybrid.Deps{
		Reasoner:      a.reasoner,
		Tools:         tools,
		Vector:        vectorSearcher,
		Jurisprudence: a.jurisprudence,
		Web:           a.web,
		Synthesizer:   synth,
		Reviewer:      review.New(helper),
		Sink:          sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build hybrid processor: %w", err)
	}
	workflow, err := crag.New(crag.Deps{
		Vector:        vectorSearcher,
		Jurisprudence: a.jurisprudence,
		Web:           a.web,
		LLM:           helper,
		Synthesizer:   processor,
		Sink:          sink,
	})
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	a.service, err = pipeline.New(pipeline.Deps{Workflow: workflow, Processor: processor, Sink: sink}, cfg.Processing)
	if err != nil {
		return nil, err
	}
	a.logger.Info("pipeline ready",
		"providers", cfg.ReasoningProviders(),
		"web", a.web != nil,
		"vector", vectorSearcher != nil,
		"remote_tools", len(extra))
	return a, nil
}

// reasonerFactories builds one lazy factory per ranked provider with a key.
func (a *app) reasonerFactories(ctx context.Context) []hybrid.ProviderFactory {
	proc := a.cfg.Processing
	var out []hybrid.ProviderFactory
	for _, name := range a.cfg.ReasoningProviders() {
		p, _ := a.cfg.Providers.Get(name)
		var build func() (agent.LLMClient, error)
		switch name {
		case config.ProviderOpenRouter, config.ProviderOpenAI:
			build = func() (agent.LLMClient, error) {
				return openai.New(openai.Config{
					APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model,
					MaxTokens: int64(proc.MaxTokens), Temperature: proc.Temperature,
				})
			}
		case config.ProviderClaude:
			build = func() (agent.LLMClient, error) {
				return claude.New(claude.Config{
					APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model,
					MaxTokens: int64(proc.MaxTokens), Temperature: proc.Temperature,
				})
			}
		case config.ProviderGemini:
			build = func() (agent.LLMClient, error) {
				g, err := gemini.New(ctx, gemini.Config{
					APIKey: p.APIKey, Model: p.Model,
					MaxTokens: int64(proc.MaxTokens), Temperature: proc.Temperature,
				})
				if err != nil {
					return nil, err
				}
				a.onClose(closeFunc(g.Close))
				return g, nil
			}
		case config.ProviderCohere:
			build = func() (agent.LLMClient, error) {
				return cohere.New(cohere.Config{
					APIKey: p.APIKey, BaseURL: p.BaseURL, Model: p.Model,
					MaxTokens: int64(proc.MaxTokens), Temperature: proc.Temperature,
				})
			}
		default:
			continue
		}
		out = append(out, hybrid.ProviderFactory{Name: name, Build: build})
	}
	return out
}

// helperLLM grades, rewrites, evaluates and drives tools. Groq is used when
// configured, otherwise the reasoner.
func (a *app) helperLLM() agent.LLMClient {
	g := a.cfg.Providers.Groq
	if g.APIKey == "" {
		return a.reasoner
	}
	p, err := groq.New(groq.Config{
		APIKey: g.APIKey, BaseURL: g.BaseURL, Model: g.Model,
		MaxTokens: int64(a.cfg.Processing.MaxTokens), Temperature: a.cfg.Processing.Temperature,
	})
	if err != nil {
		a.logger.Warn("groq unavailable, helper calls use the reasoner", "error", err)
		return a.reasoner
	}
	return p
}

func (a *app) buildCache(ctx context.Context) (retrieval.Cache, error) {
	switch a.cfg.Search.Cache {
	case config.BackendMemory:
		return retrieval.NewMemoryCache(a.cfg.Search.CacheTTL, 2*a.cfg.Search.CacheTTL), nil
	case config.BackendRedis:
		c := redis.New(a.cfg.Redis)
		if err := c.Ping(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
		a.onClose(closeFunc(c.Close))
		return c, nil
	}
	return nil, nil
}

func (a *app) buildSearch(ctx context.Context) error {
	s := a.cfg.Search
	cache, err := a.buildCache(ctx)
	if err != nil {
		return err
	}
	a.cache = cache

	var jur retrieval.JurisprudenceSearcher = lexml.New(
		lexml.Config{BaseURL: s.LexMLBaseURL, DocumentType: s.LexMLDocumentType},
		lexml.WithLogger(logging.WithComponent("lexml")),
	)
	if cache != nil {
		jur = retrieval.NewCachedJurisprudence(jur, cache, s.CacheTTL)
	}
	a.jurisprudence = jur

	if s.TavilyAPIKey == "" {
		a.logger.Info("no Tavily key, web search disabled")
		return nil
	}
	t, err := tavily.New(tavily.Config{APIKey: s.TavilyAPIKey, SearchDepth: s.TavilyDepth}, nil)
	if err != nil {
		return fmt.Errorf("build tavily client: %w", err)
	}
	var web retrieval.WebSearcher = t
	if cache != nil {
		web = retrieval.NewCachedWeb(web, cache, s.CacheTTL)
	}
	a.web = web
	return nil
}

// openStore returns the configured vector store and embedder, or nils when
// the knowledge base is disabled or has no embedding key.
func (a *app) openStore(ctx context.Context) error {
	v := a.cfg.Vector
	if v.Backend == config.BackendNone {
		return nil
	}
	emb, err := embedopenai.New(embedopenai.Config{APIKey: v.EmbeddingAPIKey, Model: v.EmbeddingModel, Dimension: v.Dimension})
	if err != nil {
		a.logger.Warn("embedder unavailable, vector search disabled", "error", err)
		return nil
	}

	switch v.Backend {
	case config.BackendPostgres:
		store, err := pg.Open(ctx, pg.Config{DSN: v.DSN, Dimension: v.Dimension, TableName: v.Table})
		if err != nil {
			return fmt.Errorf("open vector store: %w", err)
		}
		a.onClose(closeFunc(store.Close))
		a.store = store
	default:
		a.store = inmemory.New()
	}
	a.embedder = emb
	return nil
}

func (a *app) buildVector(ctx context.Context) (retrieval.VectorSearcher, error) {
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.store == nil {
		return nil, nil
	}
	var opts []retrieval.StoreOption
	if r := a.reranker(); r != nil {
		opts = append(opts, retrieval.WithReranker(r, a.cfg.Vector.RerankFanout))
	}
	var searcher retrieval.VectorSearcher = retrieval.NewStoreSearcher(a.embedder, a.store, opts...)
	if a.cache != nil {
		searcher = retrieval.NewCachedVector(searcher, a.cache, a.cfg.Search.CacheTTL)
	}
	return searcher, nil
}

// reranker returns MMR, or Cohere backed by MMR, or nil.
func (a *app) reranker() retrieval.Reranker {
	v := a.cfg.Vector
	switch v.Reranker {
	case config.RerankerMMR:
		return mmr.New(v.MMRLambda)
	case config.RerankerCohere:
		c, err := cohererank.New(a.cfg.Providers.Cohere.APIKey,
			cohererank.WithModel(v.RerankModel),
			cohererank.WithFallback(mmr.New(v.MMRLambda)),
		)
		if err != nil {
			a.logger.Warn("cohere rerank unavailable, using mmr", "error", err)
			return mmr.New(v.MMRLambda)
		}
		return c
	}
	return nil
}

func (a *app) buildSinks(ctx context.Context) (observability.Sink, error) {
	sinks := []observability.Sink{observability.NewLogSink(nil), observability.TraceSink{}}

	if a.cfg.Bus.Enabled {
		a.bus = gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logging.WithComponent("bus")),
		)
		a.onClose(closeFunc(a.bus.Close))
		sinks = append(sinks, observability.NewBusSink(a.bus, a.cfg.Bus.Topic))
	}

	if a.cfg.Archive.Enabled {
		archive, err := mongo.Open(ctx, a.cfg.Archive.Mongo)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.onClose(archive.Close)
		a.archive = archive
		sinks = append(sinks, observability.NewArchiveSink(archive))
	}
	return observability.NewMulti(sinks...), nil
}

// remoteTools connects to the configured MCP server and imports its tools,
// except the ones this process already offers.
func (a *app) remoteTools(ctx context.Context) ([]*tool.Tool, error) {
	client, err := mcp.NewStreamableClient(ctx, a.cfg.Tools.MCPEndpoint,
		mcp.WithLogger(logging.WithComponent("mcp_client")),
		mcp.WithCallTimeout(a.cfg.Tools.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect MCP endpoint %s: %w", a.cfg.Tools.MCPEndpoint, err)
	}
	a.onClose(closeFunc(client.Close))

	tools, err := client.Tools(ctx, mcp.ToolSearchWeb, mcp.ToolSearchLexML, mcp.ToolAsk)
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}
	return tools, nil
}
