package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/lexcrag/agent"
	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCooldown is how long a failing provider is tried after the others.
const DefaultCooldown = 30 * time.Second

// DefaultReasonerRetry retries a provider call once before moving on.
var DefaultReasonerRetry = errorskg.Policy{MaxRetries: 1, BackoffFactor: 2, BaseDelay: 250 * time.Millisecond}

// ProviderFactory builds one reasoning provider on demand.
type ProviderFactory struct {
	Name  string
	Build func() (agent.LLMClient, error)
}

type ReasonerOption func(*FallbackReasoner)

// WithRetryPolicy sets the per-provider retry budget of a call.
func WithRetryPolicy(p errorskg.Policy) ReasonerOption {
	return func(r *FallbackReasoner) { r.policy = p }
}

// WithCooldown sets how long a failed provider is ranked last.
func WithCooldown(d time.Duration) ReasonerOption {
	return func(r *FallbackReasoner) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

func WithReasonerLogger(l *slog.Logger) ReasonerOption {
	return func(r *FallbackReasoner) { r.logger = l }
}

type providerSlot struct {
	factory   ProviderFactory
	built     bool
	client    agent.LLMClient
	buildErr  error
	coolUntil time.Time
}

// FallbackReasoner serves each request from the first ranked provider that
// answers it, retrying a provider per its policy before moving to the next.
// A provider that fails is ranked after the healthy ones until its cooldown
// ends, but it is never dropped: when every provider is cooling down they are
// all tried again in rank order. Only a factory that cannot build a client is
// skipped for good. Built clients are cached and shared by every call.
type FallbackReasoner struct {
	mu       sync.Mutex
	slots    []*providerSlot
	policy   errorskg.Policy
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ agent.LLMClient = (*FallbackReasoner)(nil)

// NewFallbackReasoner ranks factories in the given order.
func NewFallbackReasoner(factories []ProviderFactory, opts ...ReasonerOption) *FallbackReasoner {
	r := &FallbackReasoner{
		policy:   DefaultReasonerRetry,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   logging.WithComponent("reasoner"),
	}
	for _, f := range factories {
		r.slots = append(r.slots, &providerSlot{factory: f})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active returns the name of the provider the next call tries first, building
// it if needed. It is empty when no factory can build a client.
func (r *FallbackReasoner) Active() string {
	for _, i := range r.order() {
		if llm, err := r.client(i); err == nil && llm != nil {
			return r.slots[i].factory.Name
		}
	}
	return ""
}

// order lists usable slots: healthy ones first, then the cooling ones, each
// group in rank order.
func (r *FallbackReasoner) order() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var ready, cooling []int
	for i, s := range r.slots {
		if s.built && s.client == nil {
			continue
		}
		if now.Before(s.coolUntil) {
			cooling = append(cooling, i)
		} else {
			ready = append(ready, i)
		}
	}
	return append(ready, cooling...)
}

func (r *FallbackReasoner) client(i int) (agent.LLMClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[i]
	if s.built {
		return s.client, s.buildErr
	}
	s.built = true
	if s.factory.Build == nil {
		s.buildErr = fmt.Errorf("%s: no builder", s.factory.Name)
		return nil, s.buildErr
	}
	llm, err := s.factory.Build()
	if err == nil && llm == nil {
		err = errors.New("factory returned no client")
	}
	if err != nil {
		s.buildErr = err
		r.logger.Warn("reasoning provider unavailable", "provider", s.factory.Name, "error", err)
		return nil, err
	}
	s.client = llm
	r.logger.Info("reasoning provider ready", "provider", s.factory.Name)
	return llm, nil
}

func (r *FallbackReasoner) failed(i int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[i]
	s.coolUntil = r.now().Add(r.cooldown)
	r.logger.Warn("reasoning provider failed, trying the next one", "provider", s.factory.Name, "cooldown", r.cooldown, "error", err)
}

func (r *FallbackReasoner) succeeded(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.slots[i]; !s.coolUntil.IsZero() {
		s.coolUntil = time.Time{}
		r.logger.Info("reasoning provider recovered", "provider", s.factory.Name)
	}
}

// Generate never forwards tools: reasoning providers only produce text.
func (r *FallbackReasoner) Generate(ctx context.Context, req *agent.GenerateRequest) (resp *agent.GenerateResponse, err error) {
	ctx, span := telemetry.Start(ctx, "reasoner.generate")
	defer func() { telemetry.End(span, err) }()

	stripped := &agent.GenerateRequest{}
	if req != nil {
		stripped.Messages, stripped.Settings = req.Messages, req.Settings
	}

	var lastErr error
	for _, i := range r.order() {
		llm, cerr := r.client(i)
		if cerr != nil {
			lastErr = cerr
			continue
		}
		name := r.slots[i].factory.Name
		span.SetAttributes(attribute.String("reasoner.provider", name))
		cerr = errorskg.Retry(ctx, "reasoner "+name, r.policy, func(ctx context.Context) error {
			out, gerr := llm.Generate(ctx, stripped)
			if gerr == nil {
				resp = out
			}
			return gerr
		})
		if cerr == nil {
			r.succeeded(i)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, cerr
		}
		r.failed(i, cerr)
		lastErr = cerr
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", errorskg.ErrNoReasoningProvider, lastErr)
	}
	return nil, errorskg.ErrNoReasoningProvider
}
