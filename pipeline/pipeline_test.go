package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/agent"
	"github.com/sweetpotato0/lexcrag/crag"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/hybrid"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/message"
	"github.com/sweetpotato0/lexcrag/observability"
	"github.com/sweetpotato0/lexcrag/retrieval"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const question = "Qual a responsabilidade dos sócios em uma sociedade limitada?"

func words(prefix string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%s%d", prefix, i)
		if i%10 == 0 {
			b.WriteString(".")
		}
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String()) + "."
}

// modelStub plays every model role, told apart by the system prompt.
type modelStub struct {
	mu       sync.Mutex
	roles    []string
	sections atomic.Int32
	fail     map[string]error
}

func roleOf(system string) string {
	for marker, role := range map[string]string{
		"You grade whether":      "grade",
		"You rewrite legal":      "rewrite",
		"coordinate legal":       "evaluate",
		"plan legal research":    "decision",
		"writing one part":       "synthesis",
		"Correlate the evidence": "analysis",
		"for quality":            "quality",
		"ethical guidelines":     "guardrail",
	} {
		if strings.Contains(system, marker) {
			return role
		}
	}
	return "other"
}

func (m *modelStub) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	role := roleOf(req.Messages[0].Content)
	m.mu.Lock()
	m.roles = append(m.roles, role)
	err := m.fail[role]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var reply string
	switch role {
	case "grade":
		reply = "RELEVANCE: relevant\nJUSTIFICATION: covers partner liability"
	case "rewrite":
		reply = "responsabilidade limitada dos sócios quotas Código Civil"
	case "evaluate":
		reply = `{"needs_web_search": false, "reasoning": "legislation is enough"}`
	case "decision":
		reply = "VECTORDB: YES\nLEXML: YES\nWEB: NO\nJURISPRUDENCE: YES\nCONFIDENCE: 0.9"
	case "analysis":
		reply = "The Civil Code art. 1.052 limits each partner's liability to the value of their quotas."
	case "synthesis":
		reply = words(fmt.Sprintf("p%d_", m.sections.Add(1)), 320)
	case "quality":
		reply = "OVERALL_SCORE: 0.86\nCOMPLETENESS: 0.82\nACCURACY: 0.9\nCLARITY: 0.8\nNEEDS_IMPROVEMENT: NO\nNEEDS_HUMAN_REVIEW: NO"
	case "guardrail":
		reply = "PASSED: YES\nRISK_LEVEL: LOW"
	default:
		return nil, fmt.Errorf("unexpected role %s", role)
	}
	return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, reply)}, nil
}

func (m *modelStub) called(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r == role {
			return true
		}
	}
	return false
}

type checkpoints struct {
	mu     sync.Mutex
	names  []string
	final  map[string]any
	ctxErr error
}

func (c *checkpoints) Checkpoint(ctx context.Context, name string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
	if name == observability.ResponseFinal {
		c.final = payload
		c.ctxErr = ctx.Err()
	}
	return nil
}

type harness struct {
	model  *modelStub
	sink   *checkpoints
	vector retrieval.VectorSearcher
	jur    retrieval.JurisprudenceSearcher
	reason agent.LLMClient
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	doc, err := legal.NewSnippet("cc", "Art. 1.052. Na sociedade limitada, a responsabilidade de cada sócio é restrita ao valor de suas quotas.",
		legal.SnippetMetadata{SourceType: legal.SourceVectorDB, Title: "Código Civil", Authority: "Congresso"}, 0.9)
	require.NoError(t, err)
	jur, err := legal.NewSnippet("stj", "A desconsideração da personalidade jurídica exige abuso caracterizado por desvio de finalidade.",
		legal.SnippetMetadata{SourceType: legal.SourceJurisprudence, Title: "REsp 1.234", Authority: "STJ"}, 0.8)
	require.NoError(t, err)

	model := &modelStub{fail: map[string]error{}}
	return &harness{
		model: model,
		sink:  &checkpoints{},
		vector: retrieval.VectorSearchFunc(func(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
			return []legal.DocumentSnippet{doc}, nil
		}),
		jur: retrieval.JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (retrieval.JurisprudenceResult, error) {
			return retrieval.JurisprudenceResult{Documents: []legal.DocumentSnippet{jur}, TotalFound: 3, CQL: "sociedade AND limitada"}, nil
		}),
		reason: model,
	}
}

func (h *harness) service(t *testing.T) *Service {
	t.Helper()
	proc, err := hybrid.NewProcessor(hybrid.Deps{
		Reasoner:      h.reason,
		Vector:        h.vector,
		Jurisprudence: h.jur,
		Sink:          h.sink,
	}, hybrid.WithRetryDelay(0))
	require.NoError(t, err)
	wf, err := crag.New(crag.Deps{
		Vector:        h.vector,
		Jurisprudence: h.jur,
		LLM:           h.model,
		Synthesizer:   proc,
		Sink:          h.sink,
	}, crag.WithRetryDelay(0))
	require.NoError(t, err)

	cfg := legal.DefaultProcessingConfig()
	cfg.MaxRetries = 0
	svc, err := New(Deps{Workflow: wf, Processor: proc, Sink: h.sink}, cfg)
	require.NoError(t, err)
	return svc
}

func collect(seq func(func(Event) bool)) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	require.NotEmpty(t, events)
	n := 0
	for _, ev := range events {
		if ev.Stage == StageFinal || ev.Stage == StageError {
			n++
		}
	}
	require.Equal(t, 1, n, "exactly one terminal event")
	last := events[len(events)-1]
	require.Contains(t, []Stage{StageFinal, StageError}, last.Stage)
	return last
}

func TestRunIntegratedHappyPath(t *testing.T) {
	h := newHarness(t)
	events := collect(h.service(t).Run(context.Background(), Request{Text: question}))

	last := terminal(t, events)
	require.Equal(t, StageFinal, last.Stage)
	resp := last.Response
	require.NotNil(t, resp)
	assert.Equal(t, legal.StatusCompleted, resp.Status)
	assert.Equal(t, 0.86, resp.Confidence)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, legal.DefaultDisclaimer, resp.Disclaimer)

	var streamed strings.Builder
	progress := 0
	for _, ev := range events {
		switch ev.Stage {
		case StageStreaming:
			streamed.WriteString(ev.Chunk)
		case StageProgress:
			progress++
		}
	}
	assert.Equal(t, resp.OverallSummary, strings.TrimSpace(streamed.String()))
	assert.Positive(t, progress)
	assert.Equal(t, StageProgress, events[0].Stage)

	names := h.sink.names
	require.NotEmpty(t, names)
	assert.Equal(t, observability.QueryCreated, names[0])
	assert.Equal(t, observability.ResponseFinal, names[len(names)-1])
	assert.Contains(t, names, observability.RetrievalVectorDB)
	assert.Contains(t, names, observability.SynthesisCompleted)
	assert.Same(t, resp, h.sink.final["response"])
	assert.False(t, h.model.called("decision"))
}

func TestRunAdapterFailuresStillAnswer(t *testing.T) {
	h := newHarness(t)
	h.vector = retrieval.VectorSearchFunc(func(ctx context.Context, text string, k int) ([]legal.DocumentSnippet, error) {
		return nil, errors.New("connection refused")
	})
	h.jur = retrieval.JurisprudenceSearchFunc(func(ctx context.Context, term string, max int) (retrieval.JurisprudenceResult, error) {
		return retrieval.JurisprudenceResult{}, errors.New("503 service unavailable")
	})

	last := terminal(t, collect(h.service(t).Run(context.Background(), Request{Text: question})))
	require.Equal(t, StageFinal, last.Stage)
	assert.Equal(t, legal.StatusCompleted, last.Response.Status)
	require.Len(t, last.Response.Warnings, 2)
	assert.True(t, strings.HasPrefix(last.Response.Warnings[0], "vector search failed"))
	assert.True(t, strings.HasPrefix(last.Response.Warnings[1], "jurisprudence search failed"))
	assert.True(t, h.model.called("rewrite"))
}

func TestRunProviderExhaustion(t *testing.T) {
	h := newHarness(t)
	h.reason = hybrid.NewFallbackReasoner([]hybrid.ProviderFactory{{
		Name:  "only",
		Build: func() (agent.LLMClient, error) { return nil, errorskg.ErrProviderNotConfigured },
	}})

	last := terminal(t, collect(h.service(t).Run(context.Background(), Request{Text: question})))
	require.Equal(t, StageFinal, last.Stage)
	assert.Equal(t, legal.StatusFailed, last.Response.Status)
	assert.Contains(t, h.sink.names, observability.PipelineFatal)
	assert.Equal(t, observability.ResponseFinal, h.sink.names[len(h.sink.names)-1])
}

func TestRunStandaloneProviderExhaustion(t *testing.T) {
	h := newHarness(t)
	h.reason = hybrid.NewFallbackReasoner(nil)

	last := terminal(t, collect(h.service(t).Run(context.Background(), Request{Text: question, Mode: ModeStandalone})))
	require.Equal(t, StageFinal, last.Stage)
	assert.Equal(t, legal.StatusFailed, last.Response.Status)
	assert.Contains(t, last.Response.Warnings, "pipeline failure: hybrid")
	assert.Contains(t, h.sink.names, observability.PipelineFatal)
}

type panickingLLM struct{}

func (panickingLLM) Generate(context.Context, *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	panic("reasoner exploded")
}

func TestRunPanicEmitsFatalCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.reason = panickingLLM{}

	last := terminal(t, collect(h.service(t).Run(context.Background(), Request{Text: question, Mode: ModeStandalone})))
	require.Equal(t, StageFinal, last.Stage)
	assert.Equal(t, legal.StatusFailed, last.Response.Status)
	assert.Contains(t, last.Response.Warnings, "pipeline failure: pipeline")
	assert.Contains(t, h.sink.names, observability.PipelineFatal)
	assert.Equal(t, observability.ResponseFinal, h.sink.names[len(h.sink.names)-1])
}

func TestRunStandalone(t *testing.T) {
	h := newHarness(t)
	last := terminal(t, collect(h.service(t).Run(context.Background(), Request{Text: question, Mode: ModeStandalone})))
	require.Equal(t, StageFinal, last.Stage)
	assert.Equal(t, legal.StatusCompleted, last.Response.Status)
	assert.True(t, h.model.called("decision"))
	assert.False(t, h.model.called("grade"))
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)
	bad := legal.DefaultProcessingConfig()
	bad.MaxTokens = 10

	for name, req := range map[string]Request{
		"too short":    {Text: "oi"},
		"punctuation":  {Text: "?!?!?!?!?!?!"},
		"unknown mode": {Text: question, Mode: "turbo"},
		"bad config":   {Text: question, Config: &bad},
	} {
		t.Run(name, func(t *testing.T) {
			events := collect(svc.Run(context.Background(), req))
			require.Len(t, events, 1)
			assert.Equal(t, StageError, events[0].Stage)
			assert.NotEmpty(t, events[0].Message)
			assert.ErrorIs(t, events[0].Err, errorskg.ErrInvalidInput)
		})
	}
	assert.Empty(t, h.sink.names)
}

func TestRunStopsWhenConsumerBreaks(t *testing.T) {
	h := newHarness(t)
	var events []Event
	for ev := range h.service(t).Run(context.Background(), Request{Text: question}) {
		events = append(events, ev)
		break
	}
	require.Len(t, events, 1)
	assert.Equal(t, StageProgress, events[0].Stage)
	assert.ErrorIs(t, h.sink.ctxErr, context.Canceled)
}

func TestAnswer(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)

	resp, err := svc.Answer(context.Background(), Request{Text: question})
	require.NoError(t, err)
	assert.Equal(t, legal.StatusCompleted, resp.Status)

	_, err = svc.Answer(context.Background(), Request{Text: "curto"})
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Deps{}, legal.DefaultProcessingConfig())
	assert.ErrorIs(t, err, errorskg.ErrInvalidInput)
}
