// Package config loads the process configuration from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sweetpotato0/lexcrag/contrib/archive/mongo"
	"github.com/sweetpotato0/lexcrag/contrib/cache/redis"
	"github.com/sweetpotato0/lexcrag/legal"
	"gopkg.in/yaml.v3"
)

// Provider names, also the keys of Providers.Order.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"
	ProviderGemini     = "gemini"
	ProviderCohere     = "cohere"
)

// Rerankers.
const (
	RerankerMMR    = "mmr"
	RerankerCohere = "cohere"
)

// Backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ProviderConfig is one model endpoint. An empty APIKey disables it.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ProvidersConfig struct {
	// Order ranks the reasoning providers; the first that works is used.
	Order      []string       `yaml:"order"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Claude     ProviderConfig `yaml:"claude"`
	Gemini     ProviderConfig `yaml:"gemini"`
	Cohere     ProviderConfig `yaml:"cohere"`
	// Groq runs the tool executor and the CRAG helper calls.
	Groq ProviderConfig `yaml:"groq"`
}

type SearchConfig struct {
	LexMLBaseURL      string        `yaml:"lexml_base_url"`
	LexMLDocumentType string        `yaml:"lexml_document_type"`
	TavilyAPIKey      string        `yaml:"tavily_api_key"`
	TavilyDepth       string        `yaml:"tavily_depth"`
	Cache             string        `yaml:"cache"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type VectorConfig struct {
	Backend         string `yaml:"backend"`
	DSN             string `yaml:"dsn"`
	Table           string `yaml:"table"`
	Dimension       int    `yaml:"dimension"`
	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingAPIKey string `yaml:"embedding_api_key"`
	// Reranker reorders hits: none, mmr, or cohere (with mmr as fallback).
	Reranker     string  `yaml:"reranker"`
	RerankFanout int     `yaml:"rerank_fanout"`
	MMRLambda    float64 `yaml:"mmr_lambda"`
	RerankModel  string  `yaml:"rerank_model"`
}

type ArchiveConfig struct {
	Enabled bool         `yaml:"enabled"`
	Mongo   mongo.Config `yaml:"mongo"`
}

// BusConfig publishes checkpoints on an in-process watermill topic.
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxInFlight int    `yaml:"max_in_flight"`
	MCPPath     string `yaml:"mcp_path"`
}

type ToolsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// MCPEndpoint adds the tools of a remote MCP server to the tool executor.
	MCPEndpoint string `yaml:"mcp_endpoint"`
}

type SynthesisConfig struct {
	Encoding      string `yaml:"encoding"`
	ContextTokens int    `yaml:"context_tokens"`
}

// Config is everything needed to build the pipeline.
type Config struct {
	Processing  legal.ProcessingConfig `yaml:"processing"`
	Mode        string                 `yaml:"mode"`
	Providers   ProvidersConfig        `yaml:"providers"`
	Search      SearchConfig           `yaml:"search"`
	Redis       redis.Config           `yaml:"redis"`
	Vector      VectorConfig           `yaml:"vector"`
	Archive     ArchiveConfig          `yaml:"archive"`
	Bus         BusConfig              `yaml:"bus"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	Server      ServerConfig           `yaml:"server"`
	Tools       ToolsConfig            `yaml:"tools"`
	Synthesis   SynthesisConfig        `yaml:"synthesis"`
	Concurrency int                    `yaml:"concurrency"`
}

// Default returns a configuration that runs with only API keys supplied.
func Default() Config {
	return Config{
		Processing: legal.DefaultProcessingConfig(),
		Mode:       "integrated",
		Providers: ProvidersConfig{
			Order:      []string{ProviderOpenRouter, ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderCohere},
			OpenRouter: ProviderConfig{BaseURL: "https://openrouter.ai/api/v1", Model: "openai/gpt-4o-mini"},
			OpenAI:     ProviderConfig{Model: "gpt-4o-mini"},
			Claude:     ProviderConfig{Model: "claude-sonnet-4-5-20250929"},
			Gemini:     ProviderConfig{Model: "gemini-1.5-flash"},
			Cohere:     ProviderConfig{Model: "command-r-plus"},
			Groq:       ProviderConfig{Model: "llama-3.3-70b-versatile"},
		},
		Search: SearchConfig{
			LexMLBaseURL:      "https://www.lexml.gov.br/busca/SRU",
			LexMLDocumentType: "jurisprudencia",
			TavilyDepth:       "basic",
			Cache:             BackendMemory,
			CacheTTL:          time.Hour,
		},
		Redis: redis.DefaultConfig(),
		Vector: VectorConfig{
			Backend:        BackendMemory,
			Table:          "legal_passages",
			Dimension:      1536,
			EmbeddingModel: "text-embedding-3-small",
			Reranker:       RerankerMMR,
			RerankFanout:   3,
			MMRLambda:      0.7,
		},
		Archive:     ArchiveConfig{Mongo: mongo.DefaultConfig()},
		Bus:         BusConfig{Topic: "lexcrag.checkpoints"},
		Telemetry:   TelemetryConfig{ServiceName: "lexcrag", Environment: "development"},
		Server:      ServerConfig{Addr: ":8080", MaxInFlight: 8, MCPPath: "/mcp"},
		Tools:       ToolsConfig{Timeout: 10 * time.Second},
		Synthesis:   SynthesisConfig{Encoding: "cl100k_base", ContextTokens: 3000},
		Concurrency: 4,
	}
}

// Load reads .env (if present), then path (if not empty), then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	p := &c.Providers
	p.Order = getEnvList("LEXCRAG_PROVIDERS", p.Order)
	p.OpenRouter.APIKey = getEnv("OPENROUTER_API_KEY", p.OpenRouter.APIKey)
	p.OpenRouter.Model = getEnv("OPENROUTER_MODEL", p.OpenRouter.Model)
	p.OpenAI.APIKey = getEnv("OPENAI_API_KEY", p.OpenAI.APIKey)
	p.OpenAI.Model = getEnv("OPENAI_MODEL", p.OpenAI.Model)
	p.Claude.APIKey = getEnv("ANTHROPIC_API_KEY", p.Claude.APIKey)
	p.Claude.Model = getEnv("ANTHROPIC_MODEL", p.Claude.Model)
	p.Gemini.APIKey = firstEnv(p.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	p.Gemini.Model = getEnv("GEMINI_MODEL", p.Gemini.Model)
	p.Cohere.APIKey = getEnv("COHERE_API_KEY", p.Cohere.APIKey)
	p.Groq.APIKey = getEnv("GROQ_API_KEY", p.Groq.APIKey)
	p.Groq.Model = getEnv("GROQ_MODEL", p.Groq.Model)

	c.Mode = getEnv("LEXCRAG_MODE", c.Mode)
	c.Search.TavilyAPIKey = getEnv("TAVILY_API_KEY", c.Search.TavilyAPIKey)
	c.Search.Cache = getEnv("LEXCRAG_SEARCH_CACHE", c.Search.Cache)
	c.Search.CacheTTL = getEnvDuration("LEXCRAG_SEARCH_CACHE_TTL", c.Search.CacheTTL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Vector.Backend = getEnv("LEXCRAG_VECTOR_BACKEND", c.Vector.Backend)
	c.Vector.DSN = firstEnv(c.Vector.DSN, "LEXCRAG_VECTOR_DSN", "DATABASE_URL")
	c.Vector.EmbeddingAPIKey = firstEnv(c.Vector.EmbeddingAPIKey, "LEXCRAG_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	c.Vector.Reranker = getEnv("LEXCRAG_RERANKER", c.Vector.Reranker)

	c.Archive.Enabled = getEnvBool("LEXCRAG_ARCHIVE", c.Archive.Enabled)
	c.Archive.Mongo.URI = getEnv("MONGODB_URI", c.Archive.Mongo.URI)
	c.Bus.Enabled = getEnvBool("LEXCRAG_BUS", c.Bus.Enabled)

	c.Telemetry.Enabled = getEnvBool("LEXCRAG_TRACING", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)

	c.Server.Addr = getEnv("LEXCRAG_ADDR", c.Server.Addr)
	c.Tools.Timeout = getEnvDuration("LEXCRAG_TOOL_TIMEOUT", c.Tools.Timeout)
	c.Tools.MCPEndpoint = getEnv("LEXCRAG_MCP_ENDPOINT", c.Tools.MCPEndpoint)
	c.Concurrency = getEnvInt("LEXCRAG_CONCURRENCY", c.Concurrency)

	c.Processing.Temperature = getEnvFloat("LEXCRAG_TEMPERATURE", c.Processing.Temperature)
	c.Processing.MaxTokens = getEnvInt("LEXCRAG_MAX_TOKENS", c.Processing.MaxTokens)
	c.Processing.EnableWebSearch = getEnvBool("LEXCRAG_WEB_SEARCH", c.Processing.EnableWebSearch)
	c.Processing.EnableJurisprudenceSearch = getEnvBool("LEXCRAG_JURISPRUDENCE_SEARCH", c.Processing.EnableJurisprudenceSearch)
	c.Processing.EnableGuardrails = getEnvBool("LEXCRAG_GUARDRAILS", c.Processing.EnableGuardrails)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	v := NewValidator()
	v.Check("processing", c.Processing.Validate())
	v.ValidateOneOf("mode", c.Mode, "integrated", "standalone")
	for _, name := range c.Providers.Order {
		v.ValidateOneOf("providers.order", name, ProviderOpenRouter, ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderCohere)
	}
	v.ValidateOneOf("search.cache", c.Search.Cache, BackendNone, BackendMemory, BackendRedis)
	v.ValidateOneOf("search.tavily_depth", c.Search.TavilyDepth, "basic", "advanced")
	v.RequireNonEmpty("search.lexml_base_url", c.Search.LexMLBaseURL)
	if c.Search.Cache != BackendNone {
		v.RequirePositiveDuration("search.cache_ttl", c.Search.CacheTTL)
	}
	if c.Search.Cache == BackendRedis {
		v.RequireNonEmpty("redis.addr", c.Redis.Addr)
		v.ValidateDBNumber("redis.db", c.Redis.DB)
		v.RequireNonEmpty("redis.prefix", c.Redis.Prefix)
	}

	v.ValidateOneOf("vector.backend", c.Vector.Backend, BackendNone, BackendMemory, BackendPostgres)
	if c.Vector.Backend != BackendNone {
		v.RequireNonEmpty("vector.embedding_model", c.Vector.EmbeddingModel)
		v.ValidateRange("vector.dimension", c.Vector.Dimension, 1, 16000)
	}
	v.ValidateOneOf("vector.reranker", c.Vector.Reranker, BackendNone, RerankerMMR, RerankerCohere)
	if c.Vector.Reranker != BackendNone {
		v.ValidateRange("vector.rerank_fanout", c.Vector.RerankFanout, 1, 10)
		v.ValidateFloatRange("vector.mmr_lambda", c.Vector.MMRLambda, 0, 1)
	}
	v.RequireNonEmptyIf(c.Vector.Reranker == RerankerCohere, "providers.cohere.api_key", c.Providers.Cohere.APIKey)
	v.RequireNonEmptyIf(c.Vector.Backend == BackendPostgres, "vector.dsn", c.Vector.DSN)
	v.RequireNonEmptyIf(c.Vector.Backend == BackendPostgres, "vector.table", c.Vector.Table)

	if c.Archive.Enabled {
		v.RequireNonEmpty("archive.mongo.uri", c.Archive.Mongo.URI)
		v.RequireNonEmpty("archive.mongo.database", c.Archive.Mongo.Database)
	}
	v.RequireNonEmptyIf(c.Bus.Enabled, "bus.topic", c.Bus.Topic)
	v.ValidateAddr("server.addr", c.Server.Addr)
	v.ValidateRange("server.max_in_flight", c.Server.MaxInFlight, 0, 1024)
	v.RequireNonEmpty("server.mcp_path", c.Server.MCPPath)
	v.RequirePositiveDuration("tools.timeout", c.Tools.Timeout)
	v.RequirePositive("synthesis.context_tokens", c.Synthesis.ContextTokens)
	v.RequirePositive("concurrency", c.Concurrency)
	return v.Error()
}

// ReasoningProviders returns the ranked providers that have an API key.
func (c Config) ReasoningProviders() []string {
	var out []string
	for _, name := range c.Providers.Order {
		if p, ok := c.Providers.Get(name); ok && p.APIKey != "" {
			out = append(out, name)
		}
	}
	return out
}

// Get returns the reasoning provider called name.
func (p ProvidersConfig) Get(name string) (ProviderConfig, bool) {
	switch name {
	case ProviderOpenRouter:
		return p.OpenRouter, true
	case ProviderOpenAI:
		return p.OpenAI, true
	case ProviderClaude:
		return p.Claude, true
	case ProviderGemini:
		return p.Gemini, true
	case ProviderCohere:
		return p.Cohere, true
	}
	return ProviderConfig{}, false
}
