package resilience

import (
	"context"
	"log/slog"

	"github.com/jllopis/skillmesh/pkg/llm"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// Provider retries a model provider and, with a breaker, stops calling it
// while it keeps failing. It implements llm.Provider.
type Provider struct {
	next    llm.Provider
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *slog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// WrapProvider decorates next. breaker may be nil.
func WrapProvider(next llm.Provider, retry RetryConfig, breaker *CircuitBreaker, logger *slog.Logger) *Provider {
	return &Provider{
		next:    next,
		retry:   retry,
		breaker: breaker,
		logger:  telemetry.Component(logger, "resilience"),
	}
}

// Chat forwards req, retrying recoverable failures.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	var (
		resp     *llm.ChatResponse
		attempts int
	)
	call := func() error {
		r, err := p.next.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}
	err := p.retry.Do(ctx, func() error {
		attempts++
		if attempts > 1 {
			p.logger.InfoContext(ctx, "resilience.llm.retry",
				slog.Int("attempt", attempts),
				slog.String(telemetry.AttrLLMModel, req.Model),
			)
		}
		if p.breaker != nil {
			return p.breaker.Call(ctx, call)
		}
		return call()
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Breaker returns the breaker, or nil.
func (p *Provider) Breaker() *CircuitBreaker { return p.breaker }
