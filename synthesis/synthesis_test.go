package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/message"
)

// promptLLM answers each request with reply(prompt).
type promptLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (p *promptLLM) Generate(ctx context.Context, req *agent.GenerateRequest) (*agent.GenerateResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()
	text, err := p.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &agent.GenerateResponse{Message: message.NewMessage(message.RoleAssistant, text)}, nil
}

func words(n int, word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func isExpansion(prompt string) bool { return strings.Contains(prompt, "is too short") }

func sectionOf(prompt string) string {
	for _, sec := range Sections {
		if strings.Contains(prompt, sec.Header[3:]) {
			return sec.Name
		}
	}
	return ""
}

func collect() (Emit, *[]string) {
	var chunks []string
	return func(c string) { chunks = append(chunks, c) }, &chunks
}

func TestSynthesizeFourSections(t *testing.T) {
	llm := &promptLLM{reply: func(prompt string) (string, error) {
		return words(320, "norma"), nil
	}}
	emit, chunks := collect()

	res, err := New(llm).Synthesize(context.Background(), "What is a limited company?", "", legal.DefaultProcessingConfig(), emit)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Calls)
	require.Len(t, res.Sections, 4)
	assert.False(t, res.Fallback)
	assert.Equal(t, strings.TrimSpace(strings.Join(*chunks, "")), res.Text)

	last := -1
	for _, sec := range Sections {
		idx := strings.Index(res.Text, sec.Header)
		assert.Greater(t, idx, last, "section %s out of order", sec.Name)
		last = idx
	}
	for _, p := range llm.prompts {
		assert.Contains(t, p, GeneralKnowledge)
	}
}

func TestSynthesizeExpandsShortSectionOnce(t *testing.T) {
	cases := []struct {
		name         string
		expansion    string
		wantWords    int
		wantExpanded bool
	}{
		{"longer accepted", words(180, "direito"), 180, true},
		{"still short but longer", words(120, "direito"), 120, true},
		{"shorter rejected", words(50, "direito"), 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &promptLLM{reply: func(prompt string) (string, error) {
				if isExpansion(prompt) {
					return tc.expansion, nil
				}
				if sectionOf(prompt) == "introduction" {
					return words(100, "lei"), nil
				}
				return words(400, "lei"), nil
			}}
			res, err := New(llm).Synthesize(context.Background(), "Question about contracts?", "", legal.DefaultProcessingConfig(), nil)
			require.NoError(t, err)

			assert.Equal(t, 5, res.Calls, "exactly one expansion call")
			intro := res.Sections[0]
			assert.Equal(t, tc.wantWords, intro.Words)
			assert.Equal(t, tc.wantExpanded, intro.Expanded)
			assert.GreaterOrEqual(t, intro.Words, 100, "word count never decreases")
		})
	}
}

func TestSynthesizeExpansionFailureKeepsOriginal(t *testing.T) {
	llm := &promptLLM{reply: func(prompt string) (string, error) {
		if isExpansion(prompt) {
			return "", errors.New("rate limited")
		}
		return words(120, "tributo"), nil
	}}
	res, err := New(llm).Synthesize(context.Background(), "Question about taxes?", "", legal.DefaultProcessingConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Calls)
	for _, sec := range res.Sections {
		assert.Equal(t, 120, sec.Words)
	}
}

func TestSynthesizeFallsBackToSingleCall(t *testing.T) {
	single := "A sociedade limitada é regida pelos artigos 1.052 e seguintes do Código Civil. " + words(60, "responsabilidade")
	llm := &promptLLM{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "about 400 words"):
			return single, nil
		case sectionOf(prompt) == "development":
			return "", errors.New("upstream 500")
		default:
			return words(260, "sócio"), nil
		}
	}}
	emit, chunks := collect()

	res, err := New(llm).Synthesize(context.Background(), "Como funciona a sociedade limitada?", "", legal.DefaultProcessingConfig(), emit)
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.False(t, res.Templated)
	require.Len(t, res.Sections, 1)
	assert.True(t, strings.HasPrefix(res.Text, "## INTRODUCTION"))
	assert.Contains(t, res.Text, FallbackHeader+"\n\n"+single)
	assert.Less(t, strings.Index(res.Text, "## INTRODUCTION"), strings.Index(res.Text, FallbackHeader))
	assert.Equal(t, strings.TrimSpace(strings.Join(*chunks, "")), res.Text)
}

func TestSynthesizeTemplatedAnswer(t *testing.T) {
	llm := &promptLLM{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "about 400 words") {
			return "too short", nil
		}
		return "", errors.New("down")
	}}
	analysis := strings.Repeat("Análise jurídica relevante. ", 20)
	res, err := New(llm).Synthesize(context.Background(), "Qual o prazo de prescrição?", analysis, legal.DefaultProcessingConfig(), nil)
	require.NoError(t, err)

	assert.True(t, res.Templated)
	assert.Contains(t, res.Text, FallbackHeader)
	assert.Contains(t, res.Text, "Qual o prazo de prescrição?")
	assert.Contains(t, res.Text, legal.TruncateRunes(strings.TrimSpace(analysis), 300))
}

func TestSynthesizeProviderExhaustion(t *testing.T) {
	llm := &promptLLM{reply: func(prompt string) (string, error) {
		return "", fmt.Errorf("reasoner: %w", errorskg.ErrNoReasoningProvider)
	}}
	_, err := New(llm).Synthesize(context.Background(), "Any question here?", "", legal.DefaultProcessingConfig(), nil)
	require.ErrorIs(t, err, errorskg.ErrNoReasoningProvider)
}

type halfTruncator struct{ calls int }

func (h *halfTruncator) Truncate(text string, maxTokens int) string {
	h.calls++
	return text[:len(text)/2]
}

func TestSynthesizeTruncatesContext(t *testing.T) {
	tr := &halfTruncator{}
	analysis := strings.Repeat("x", 80) + strings.Repeat("y", 80)
	llm := &promptLLM{reply: func(string) (string, error) { return words(400, "ok"), nil }}

	_, err := New(llm, WithTruncator(tr), WithContextTokens(10)).Synthesize(context.Background(), "Question here?", analysis, legal.DefaultProcessingConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.calls)
	assert.Contains(t, llm.prompts[0], strings.Repeat("x", 80))
	assert.NotContains(t, llm.prompts[0], "yyyy")
}

func TestChunks(t *testing.T) {
	text := "one two  three\nfour five six seven"
	got := Chunks("## H", text)
	assert.Equal(t, []string{"## H\n\n", "one two  three\n", "four five six ", "seven", "\n\n"}, got)
	assert.Equal(t, "## H\n\n"+text+"\n\n", strings.Join(got, ""))

	assert.Equal(t, []string{"## H\n\n", "\n\n"}, Chunks("## H", ""))
}

func TestContextFor(t *testing.T) {
	assert.Equal(t, GeneralKnowledge, ContextFor("short"))
	long := strings.Repeat("a", 60)
	assert.Equal(t, long, ContextFor("  "+long+"  "))
}

func TestTemplatedAnswerSatisfiesInvariants(t *testing.T) {
	for _, analysis := range []string{"", strings.Repeat("Conteúdo da análise. ", 40)} {
		answer := TemplatedAnswer("Pode o empregador reduzir salários?", analysis)
		require.NoError(t, legal.ValidateSummary(answer))
	}
}
