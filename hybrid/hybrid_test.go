package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/crag"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"github.com/sweetpotato0/lexcrag/review"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// prose returns n distinct words split into sentences of ten.
func prose(n int) string { return proseWith("w", n) }

func proseWith(prefix string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%s%d", prefix, i)
		if i%10 == 0 {
			b.WriteString(".")
		}
		if i < n {
			b.WriteString(" ")
		}
	}
	return b.String() + "."
}

// scriptLLM answers by role, recognised from the system prompt.
type scriptLLM struct {
	mu    sync.Mutex
	roles []string
	reply map[string]func(prompt string) (string, error)
}

func roleOf(system string) string {
	switch {
	case strings.Contains(system, "plan legal research"):
		return "decision"
	case strings.Contains(system, "writing one part"):
		return "synthesis"
	case strings.Contains(system, "Correlate the evidence"):
		return "analysis"
	case strings.Contains(system, "for quality"):
		return "quality"
	case strings.Contains(system, "ethical guidelines"):
		return "guardrail"
	}
	return "other"
}

func (s *scriptLLM) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	system, prompt := req.Messages[0].Content, req.Messages[len(req.Messages)-1].Content
	role := roleOf(system)
	s.mu.Lock()
	s.roles = append(s.roles, role)
	s.mu.Unlock()
	fn, ok := s.reply[role]
	if !ok {
		return nil, fmt.Errorf("unexpected role %s", role)
	}
	text, err := fn(prompt)
	if err != nil {
		return nil, err
	}
	return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, text)}, nil
}

func (s *scriptLLM) count(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.roles {
		if r == role {
			n++
		}
	}
	return n
}

func happyScript() *scriptLLM {
	fixed := func(text string) func(string) (string, error) {
		return func(string) (string, error) { return text, nil }
	}
	var sections atomic.Int32
	return &scriptLLM{reply: map[string]func(string) (string, error){
		"decision": fixed("VECTORDB: YES\nLEXML: YES\nWEB: NO\nJURISPRUDENCE: YES\nCONFIDENCE: 0.9"),
		"analysis": fixed("The Civil Code art. 1.052 limits each partner's liability to the value of their quotas."),
		"synthesis": func(string) (string, error) {
			return proseWith(fmt.Sprintf("s%d_", sections.Add(1)), 320), nil
		},
		"quality":   fixed("OVERALL_SCORE: 0.86\nCOMPLETENESS: 0.82\nACCURACY: 0.9\nCLARITY: 0.8\nNEEDS_IMPROVEMENT: NO\nNEEDS_HUMAN_REVIEW: NO"),
		"guardrail": fixed("PASSED: YES\nRISK_LEVEL: LOW"),
	}}
}

func snippet(t *testing.T, source legal.SearchSource, title, text string) legal.DocumentSnippet {
	t.Helper()
	s, err := legal.NewSnippet("src", text, legal.SnippetMetadata{SourceType: source, Title: title, Authority: "STJ"}, 0.7)
	require.NoError(t, err)
	return s
}

func newQuery(t *testing.T) legal.Query {
	t.Helper()
	q, err := legal.NewQuery("Qual a responsabilidade dos sócios em uma sociedade limitada?")
	require.NoError(t, err)
	return *q
}

func TestParseSearchDecision(t *testing.T) {
	d := ParseSearchDecision(`VECTORDB: SIM
LEXML: NAO
WEB: false
JURISPRUDENCE: yes
JUSTIFICATION: the question concerns settled legislation
and recent case law.
CONFIDENCE: 1.7
PRIORITY: LexML, vectordb, unknown, lexml`)

	assert.True(t, d.VectorDB)
	assert.False(t, d.LexML)
	assert.False(t, d.Web)
	assert.True(t, d.Jurisprudence)
	assert.Equal(t, "the question concerns settled legislation and recent case law.", d.Justification)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, []string{SourceLexML, SourceVectorDB}, d.Priority)
}

func TestParseSearchDecisionDefaults(t *testing.T) {
	d := ParseSearchDecision("WEB: NO\nCONFIDENCE: unsure\nPRIORITY: none")
	assert.True(t, d.VectorDB)
	assert.True(t, d.LexML)
	assert.False(t, d.Web)
	assert.True(t, d.Jurisprudence)
	assert.Equal(t, 0.8, d.Confidence)
	assert.Equal(t, []string{SourceVectorDB, SourceLexML, SourceWeb}, d.Priority)

	assert.Equal(t, DefaultSearchDecision(), ParseSearchDecision(""))
}

func TestDeciderFailureUsesDefault(t *testing.T) {
	llm := &scriptLLM{reply: map[string]func(string) (string, error){
		"decision": func(string) (string, error) { return "", errors.New("rate limited") },
	}}
	d, err := NewDecider(llm).Decide(context.Background(), "pergunta")
	assert.Error(t, err)
	assert.Equal(t, DefaultSearchDecision(), d)
}

type fakeProvider struct {
	name string
	err  error
	// failFirst makes the first n calls fail with a transient error.
	failFirst int32
	calls     atomic.Int32
	tools     atomic.Int32
}

func (f *fakeProvider) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	n := f.calls.Add(1)
	if len(req.Tools) > 0 {
		f.tools.Add(1)
	}
	if n <= f.failFirst {
		return nil, errors.New("503 service unavailable")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, f.name+": "+req.Messages[len(req.Messages)-1].Content)}, nil
}

func factory(p *fakeProvider) ProviderFactory {
	return ProviderFactory{Name: p.name, Build: func() (agent.LLMClient, error) { return p, nil }}
}

var fastRetry = WithRetryPolicy(errorskg.Policy{MaxRetries: 1, BaseDelay: time.Millisecond})

func TestFallbackReasonerSkipsBrokenFactories(t *testing.T) {
	second := &fakeProvider{name: "claude"}
	r := NewFallbackReasoner([]ProviderFactory{
		{Name: "openrouter", Build: func() (agent.LLMClient, error) { return nil, errorskg.ErrProviderNotConfigured }},
		factory(second),
	})

	out, err := agent.Text(context.Background(), r, "", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude: hello", out)
	assert.Equal(t, "claude", r.Active())
}

func TestFallbackReasonerRepeatsRequestOnNextProvider(t *testing.T) {
	first := &fakeProvider{name: "openai", err: errors.New("unexpected payload")}
	second := &fakeProvider{name: "gemini"}
	r := NewFallbackReasoner([]ProviderFactory{factory(first), factory(second)}, fastRetry)

	resp, err := r.Generate(context.Background(), &agent.GenerateRequest{
		Messages: []*message.Message{message.User("question")},
		Tools:    []map[string]any{{"type": "function"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini: question", resp.Message.Content)
	assert.EqualValues(t, 2, first.calls.Load(), "one retry before switching")
	assert.Zero(t, first.tools.Load())
	assert.Zero(t, second.tools.Load())

	_, err = agent.Text(context.Background(), r, "", "again", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.calls.Load(), "cooling provider is ranked last")
	assert.Equal(t, "gemini", r.Active())
}

func TestFallbackReasonerRetriesBeforeSwitching(t *testing.T) {
	first := &fakeProvider{name: "openrouter", failFirst: 1}
	second := &fakeProvider{name: "claude"}
	r := NewFallbackReasoner([]ProviderFactory{factory(first), factory(second)}, fastRetry)

	out, err := agent.Text(context.Background(), r, "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "openrouter: hi", out)
	assert.EqualValues(t, 2, first.calls.Load())
	assert.Zero(t, second.calls.Load())
}

func TestFallbackReasonerRecoversFromTransientFailures(t *testing.T) {
	first := &fakeProvider{name: "openrouter", failFirst: 1}
	second := &fakeProvider{name: "claude", failFirst: 1}
	r := NewFallbackReasoner([]ProviderFactory{factory(first), factory(second)}, WithRetryPolicy(errorskg.Policy{}))

	_, err := agent.Text(context.Background(), r, "", "first", nil)
	assert.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)

	for i := range 3 {
		out, err := agent.Text(context.Background(), r, "", fmt.Sprintf("run %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("openrouter: run %d", i), out)
	}
	assert.Equal(t, "openrouter", r.Active())
}

func TestFallbackReasonerCooldownExpires(t *testing.T) {
	first := &fakeProvider{name: "openrouter", failFirst: 1}
	second := &fakeProvider{name: "claude"}
	r := NewFallbackReasoner([]ProviderFactory{factory(first), factory(second)},
		WithRetryPolicy(errorskg.Policy{}), WithCooldown(time.Minute))
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	out, err := agent.Text(context.Background(), r, "", "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude: a", out)
	assert.Equal(t, "claude", r.Active())

	clock = clock.Add(2 * time.Minute)
	out, err = agent.Text(context.Background(), r, "", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "openrouter: b", out)
}

func TestFallbackReasonerExhaustion(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("500")}
	b := &fakeProvider{name: "b", err: errors.New("502")}
	r := NewFallbackReasoner([]ProviderFactory{factory(a), factory(b)}, fastRetry)
	_, err := agent.Text(context.Background(), r, "", "hi", nil)
	assert.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)
	assert.ErrorContains(t, err, "502")

	_, err = agent.Text(context.Background(), r, "", "hi", nil)
	assert.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)
	assert.EqualValues(t, 4, a.calls.Load(), "exhausted providers are tried again")

	_, err = agent.Text(context.Background(), NewFallbackReasoner(nil), "", "hi", nil)
	assert.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)
	assert.Empty(t, NewFallbackReasoner(nil).Active())
}

func TestFallbackReasonerKeepsProviderOnCancellation(t *testing.T) {
	p := &fakeProvider{name: "openai", err: context.Canceled}
	second := &fakeProvider{name: "claude"}
	r := NewFallbackReasoner([]ProviderFactory{factory(p), factory(second)}, fastRetry)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.Text(ctx, r, "", "hi", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "openai", r.Active())
	assert.Zero(t, second.calls.Load())
}

// toolLLM asks for both tools on the first turn and summarises on the second.
type toolLLM struct{ block bool }

func (l *toolLLM) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	if l.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role == message.RoleTool {
		return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, "Found recent STJ rulings and Law 14.195.")}, nil
	}
	return &agent.GenerateResponse{Message: message.NewToolCallMessage([]message.ToolCall{
		{ID: "1", Name: ToolSearchWeb, Args: map[string]any{"query": "sociedade limitada", "max_results": float64(50)}},
		{ID: "2", Name: ToolSearchLexML, Args: map[string]any{"term": "responsabilidade sócios"}},
	})}, nil
}

func TestToolExecutorGathersResults(t *testing.T) {
	news := []legal.DocumentSnippet{snippet(t, legal.SourceWeb, "News", "Recent article.")}
	laws := []legal.DocumentSnippet{
		snippet(t, legal.SourceLegislation, "Lei 10.406", "Código Civil."),
		snippet(t, legal.SourceJurisprudence, "REsp 1", "Acórdão."),
	}
	var webMax, lexMax atomic.Int32
	web := retrieval.WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
		webMax.Store(int32(max))
		return news, nil
	})
	jur := retrieval.JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (retrieval.JurisprudenceResult, error) {
		lexMax.Store(int32(max))
		return retrieval.JurisprudenceResult{Documents: laws}, nil
	})

	sum := NewToolExecutor(&toolLLM{}, web, jur).Search(context.Background(), "responsabilidade dos sócios")

	assert.False(t, sum.TimedOut)
	assert.Equal(t, 3, sum.TotalSources)
	assert.Len(t, sum.Web, 1)
	assert.Len(t, sum.LexML, 2)
	assert.Equal(t, "Found recent STJ rulings and Law 14.195.", sum.Summary)
	assert.EqualValues(t, maxToolResults, webMax.Load())
	assert.EqualValues(t, defaultToolResults, lexMax.Load())
}

func TestToolExecutorTimeout(t *testing.T) {
	exec := NewToolExecutor(&toolLLM{block: true}, nil, nil, WithToolTimeout(20*time.Millisecond))

	start := time.Now()
	sum := exec.Search(context.Background(), "pergunta")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, sum.TimedOut)
	assert.Equal(t, ToolTimeoutSummary, sum.Summary)
	assert.Zero(t, sum.TotalSources)
}

func TestToolExecutorNotConfigured(t *testing.T) {
	var exec *ToolExecutor
	assert.Equal(t, NoToolExecutorSummary, exec.Search(context.Background(), "x").Summary)
}

func TestAssembleWarningOrder(t *testing.T) {
	resp, err := Assemble(AssembleInput{
		QueryID:  "q1",
		Query:    "pergunta",
		Summary:  prose(120),
		Warnings: []string{"web search failed: quota"},
		Quality: review.Quality{
			OverallScore: 0.6, Completeness: 0.7,
			NeedsImprovement: true, NeedsHumanReview: true,
			ReviewReason: "cites repealed law", Suggestions: []string{"update citations"},
		},
		Guardrail: review.Guardrail{Passed: false, RiskLevel: review.RiskHigh, Violations: []string{"missing disclaimer"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"web search failed: quota",
		"update citations",
		"human review recommended: cites repealed law",
		"Attention: missing disclaimer",
	}, resp.Warnings)
	assert.Equal(t, 0.6, resp.Confidence)
	assert.Equal(t, 0.7, resp.Completeness)
	assert.Equal(t, legal.StatusCompleted, resp.Status)
	assert.Equal(t, legal.DefaultDisclaimer, resp.Disclaimer)
}

func TestAssembleGuardrailFailureNote(t *testing.T) {
	g := review.FailedGuardrail(errors.New("timeout"))
	resp, err := Assemble(AssembleInput{QueryID: "q", Query: "pergunta", Summary: prose(60), Quality: review.FailedQuality(), Guardrail: g})
	require.NoError(t, err)
	assert.Equal(t, []string{"guardrail check failed: timeout"}, resp.Warnings)
	assert.Equal(t, 0.75, resp.Confidence)
}

func TestAssembleReplacesInvalidSummary(t *testing.T) {
	resp, err := Assemble(AssembleInput{
		QueryID: "q", Query: "O que é usucapião?", Analysis: "análise",
		Summary: "too short", Quality: review.Quality{OverallScore: 0.9, Completeness: 0.9},
		Guardrail: review.Guardrail{Passed: true},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.OverallSummary, "O que é usucapião?")
	assert.Equal(t, []string{TemplatedWarning}, resp.Warnings)
}

func TestDigestLimits(t *testing.T) {
	var docs, web []legal.DocumentSnippet
	for i := 0; i < 7; i++ {
		docs = append(docs, snippet(t, legal.SourceVectorDB, fmt.Sprintf("doc-%d", i), strings.Repeat("x", 800)))
		web = append(web, snippet(t, legal.SourceWeb, fmt.Sprintf("web-%d", i), "web text"))
	}
	d := Digest(docs, web, nil)

	assert.Contains(t, d, "doc-4")
	assert.NotContains(t, d, "doc-5")
	assert.Contains(t, d, "web-1")
	assert.NotContains(t, d, "web-2")
	assert.NotContains(t, d, strings.Repeat("x", DigestExcerpt+1))
	assert.NotContains(t, d, "JURISPRUDENCE")
	assert.Empty(t, Digest(nil, nil, nil))
}

func TestProcessorIntegrated(t *testing.T) {
	llm := happyScript()
	p, err := NewProcessor(Deps{Reasoner: llm})
	require.NoError(t, err)

	q := newQuery(t)
	ev := crag.Evidence{
		Query:        q,
		CurrentQuery: q.Text,
		Config:       legal.DefaultProcessingConfig(),
		Documents:    []legal.DocumentSnippet{snippet(t, legal.SourceVectorDB, "CC", "Art. 1.052.")},
		Warnings:     []string{"web search failed: quota"},
	}
	var stages []string
	var chunks []string
	resp, err := p.Synthesize(context.Background(), ev, crag.Reporter{
		Progress: func(stage, msg string) { stages = append(stages, stage) },
		Chunk:    func(c string) { chunks = append(chunks, c) },
	})
	require.NoError(t, err)

	assert.Equal(t, legal.StatusCompleted, resp.Status)
	assert.Equal(t, 0.86, resp.Confidence)
	assert.Equal(t, 0.82, resp.Completeness)
	assert.Equal(t, []string{"web search failed: quota"}, resp.Warnings)
	assert.Equal(t, strings.TrimSpace(strings.Join(chunks, "")), resp.OverallSummary)
	assert.Equal(t, []string{StageTools, StageAnalysis, StageSynthesis, StageReview}, stages)
	assert.Equal(t, 4, llm.count("synthesis"))
	assert.Zero(t, llm.count("decision"))
}

func TestProcessorIntegratedProviderExhaustion(t *testing.T) {
	r := NewFallbackReasoner([]ProviderFactory{factory(&fakeProvider{name: "only", err: errors.New("boom")})}, fastRetry)
	p, err := NewProcessor(Deps{Reasoner: r})
	require.NoError(t, err)
	q := newQuery(t)

	_, err = p.Synthesize(context.Background(), crag.Evidence{Query: q, CurrentQuery: q.Text, Config: legal.DefaultProcessingConfig()}, crag.Reporter{})
	assert.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)
}

func TestProcessorAnalysisFailureUsesEvidence(t *testing.T) {
	llm := happyScript()
	llm.reply["analysis"] = func(string) (string, error) { return "", errors.New("bad gateway") }
	p, err := NewProcessor(Deps{Reasoner: llm})
	require.NoError(t, err)
	q := newQuery(t)

	resp, err := p.Synthesize(context.Background(), crag.Evidence{Query: q, CurrentQuery: q.Text, Config: legal.DefaultProcessingConfig()}, crag.Reporter{})
	require.NoError(t, err)
	assert.Contains(t, resp.Warnings, AnalysisFailedWarning)
}

func TestProcessorStandaloneGathersInParallel(t *testing.T) {
	llm := happyScript()
	docs := []legal.DocumentSnippet{snippet(t, legal.SourceVectorDB, "CC", "Art. 1.052.")}
	var inFlight, peak atomic.Int32
	track := func() func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return func() { inFlight.Add(-1) }
	}
	var webCalled atomic.Bool
	p, err := NewProcessor(Deps{
		Reasoner: llm,
		Vector: retrieval.VectorSearchFunc(func(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
			defer track()()
			return docs, nil
		}),
		Jurisprudence: retrieval.JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (retrieval.JurisprudenceResult, error) {
			defer track()()
			return retrieval.JurisprudenceResult{}, errors.New("sru down")
		}),
		Web: retrieval.WebSearchFunc(func(ctx context.Context, query string, max int) ([]legal.DocumentSnippet, error) {
			webCalled.Store(true)
			return nil, nil
		}),
	}, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	cfg := legal.DefaultProcessingConfig()
	cfg.MaxRetries = 0

	var stages []string
	resp, err := p.Run(context.Background(), newQuery(t), cfg, crag.Reporter{Progress: func(stage, msg string) { stages = append(stages, stage) }})
	require.NoError(t, err)

	assert.False(t, webCalled.Load(), "decision excluded the web")
	assert.EqualValues(t, 2, peak.Load())
	assert.Equal(t, legal.StatusCompleted, resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.True(t, strings.HasPrefix(resp.Warnings[0], "jurisprudence search failed: "))
	assert.Equal(t, []string{StageDecision, StageSearch, StageTools, StageAnalysis, StageSynthesis, StageReview}, stages)
}

func TestNewProcessorRequiresReasoner(t *testing.T) {
	_, err := NewProcessor(Deps{})
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)
}
