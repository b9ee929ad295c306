// Package lexml searches Brazilian case law and legislation through the
// LexML SRU endpoint.
package lexml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sweetpotato0/lexcrag/contrib/provider"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/rag/preprocess"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://www.lexml.gov.br/busca/SRU"
	urnBaseURL     = "https://www.lexml.gov.br/urn/"
)

// Document is one SRU record.
type Document struct {
	URN          string
	Title        string
	Ementa       string
	DocumentType string
	Date         string
}

// URL returns the public page of the document, or "" when the URN is unknown.
func (d Document) URL() string {
	if d.URN == "" {
		return ""
	}
	return urnBaseURL + d.URN
}

// Config configures the client.
type Config struct {
	BaseURL      string
	DocumentType string
	StartRecord  int
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, DocumentType: DefaultDocumentType, StartRecord: 1}
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client implements retrieval.JurisprudenceSearcher.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

var _ retrieval.JurisprudenceSearcher = (*Client)(nil)

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.StartRecord <= 0 {
		cfg.StartRecord = 1
	}
	c := &Client{
		config: cfg,
		http:   provider.NewHTTPClient(),
		logger: logging.WithComponent("lexml"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search runs the keyword query and broadens it while nothing is found. A
// failing request counts as zero results so the ladder continues; the last
// error is returned only when every query failed.
func (c *Client) Search(ctx context.Context, term string, max int) (_ retrieval.JurisprudenceResult, err error) {
	if max <= 0 {
		return retrieval.JurisprudenceResult{}, fmt.Errorf("lexml: max must be positive: %w", errorskg.ErrInvalidInput)
	}
	ctx, span := telemetry.Start(ctx, "search.lexml", attribute.String("lexml.term", term))
	defer func() { telemetry.End(span, err) }()

	primary := BuildCQL(term)
	queries := append([]string{primary}, Fallbacks(term, c.config.DocumentType)...)

	var (
		docs    []Document
		total   int
		lastErr error
		failed  int
	)
	for _, q := range queries {
		if ctx.Err() != nil {
			return retrieval.JurisprudenceResult{CQL: primary}, ctx.Err()
		}
		docs, total, lastErr = c.query(ctx, q, max)
		if lastErr != nil {
			failed++
			c.logger.Warn("sru query failed", "cql", q, "error", lastErr)
			continue
		}
		if total > 0 {
			break
		}
		c.logger.Debug("sru query found nothing, broadening", "cql", q)
	}
	if failed == len(queries) {
		return retrieval.JurisprudenceResult{CQL: primary}, fmt.Errorf("lexml: %w", lastErr)
	}

	span.SetAttributes(attribute.Int("lexml.total", total), attribute.Int("lexml.records", len(docs)))
	return retrieval.JurisprudenceResult{
		Documents:  toSnippets(docs),
		TotalFound: total,
		CQL:        primary,
	}, nil
}

func (c *Client) query(ctx context.Context, cql string, max int) ([]Document, int, error) {
	params := url.Values{}
	params.Set("operation", "searchRetrieve")
	params.Set("version", "1.1")
	params.Set("query", cql)
	params.Set("startRecord", strconv.Itoa(c.config.StartRecord))
	params.Set("maximumRecords", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, 0, &provider.StatusError{Provider: "lexml", Code: resp.StatusCode, Body: string(body)}
	}
	return ParseSRU(resp.Body)
}

// ParseSRU decodes a searchRetrieve response. Elements are matched by local
// name so both srw_dc and lexml record schemas are accepted.
func ParseSRU(r io.Reader) ([]Document, int, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		docs     []Document
		total    int
		inRecord bool
		current  Document
		text     strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("parse sru response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text.Reset()
			if t.Name.Local == "record" {
				inRecord = true
				current = Document{}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			value := strings.TrimSpace(text.String())
			text.Reset()
			switch name := t.Name.Local; {
			case name == "numberOfRecords" && !inRecord:
				total, _ = strconv.Atoi(value)
			case name == "record" && inRecord:
				inRecord = false
				docs = append(docs, current)
			case inRecord:
				assignField(&current, name, value)
			}
		}
	}
	if total == 0 && len(docs) > 0 {
		total = len(docs)
	}
	return docs, total, nil
}

func assignField(d *Document, name, value string) {
	if value == "" {
		return
	}
	switch name {
	case "urn":
		d.URN = value
	case "identifier":
		if d.URN == "" {
			d.URN = value
		}
	case "title":
		if d.Title == "" {
			d.Title = value
		}
	case "description":
		d.Ementa = value
	case "subject":
		if d.Ementa == "" {
			d.Ementa = value
		}
	case "tipoDocumento", "type":
		if d.DocumentType == "" {
			d.DocumentType = value
		}
	case "date":
		if d.Date == "" {
			d.Date = value
		}
	}
}

func toSnippets(docs []Document) []legal.DocumentSnippet {
	out := make([]legal.DocumentSnippet, 0, len(docs))
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = "untitled document"
		}
		text := preprocess.Snippet(d.Ementa)
		if text == "" {
			text = title
		}
		sourceID := d.URN
		if sourceID == "" {
			sourceID = fmt.Sprintf("lexml-unknown-%d", i)
		}
		source := legal.SourceJurisprudence
		if d.DocumentType != "" && !strings.Contains(strings.ToLower(d.DocumentType), "jurisprud") {
			source = legal.SourceLegislation
		}
		snippet, err := legal.NewSnippet(sourceID, text, legal.SnippetMetadata{
			SourceType:   source,
			Authority:    "LexML",
			Jurisdiction: legal.JurisdictionFederal,
			Confidence:   0.8,
			Title:        title,
			URL:          d.URL(),
			PublishedAt:  d.Date,
			Tags:         nonEmpty(d.DocumentType),
		}, 1/float64(i+1))
		if err != nil {
			continue
		}
		out = append(out, snippet)
	}
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
