package market

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
)

// Link binds a provider to the timeout of a single call
type Link[P any] struct {
	Provider P
	Name     string
	Timeout  time.Duration
}

// chain tries its links in order until one answers with a plausible value
type chain[P any, V any] struct {
	kind    string
	links   []Link[P]
	check   func(V) error
	limiter Limiter
	metrics Metrics
	log     logger.Logger
}

func newChain[P any, V any](kind string, links []Link[P], check func(V) error, opts Options, log logger.Logger) *chain[P, V] {
	for i := range links {
		if links[i].Timeout <= 0 {
			links[i].Timeout = 3 * time.Second
		}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &chain[P, V]{
		kind:    kind,
		links:   links,
		check:   check,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		log:     log.WithField("source", kind),
	}
}

// fetch walks the chain. Each failed link adds a warning that travels with
// the value if a later link succeeds.
func (c *chain[P, V]) fetch(ctx context.Context, label string, call func(context.Context, P) (V, error)) (sourced[V], error) {
	if len(c.links) == 0 {
		return sourced[V]{}, errors.New(errors.ErrCodeUpstreamUnavailable, fmt.Sprintf("%s: no %s provider configured", label, c.kind), nil)
	}

	var (
		warnings []string
		causes   []error
	)
	for i, l := range c.links {
		if i > 0 {
			c.metrics.RecordFallbackHop(c.kind)
		}

		v, err := c.try(ctx, l, call)
		if err == nil {
			c.metrics.RecordSourceFetch(c.kind, l.Name, OutcomeOK)
			return sourced[V]{Value: v, Source: l.Name, Warnings: warnings}, nil
		}

		c.metrics.RecordSourceFetch(c.kind, l.Name, outcomeOf(err))
		warnings = append(warnings, fmt.Sprintf("%s: provider %s failed: %v", label, l.Name, err))
		causes = append(causes, err)
		c.log.Warn("Provider failed, trying next", "key", label, "provider", l.Name, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return sourced[V]{}, errors.New(errors.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("%s: all %d %s providers failed", label, len(c.links), c.kind), stderrors.Join(causes...))
}

func (c *chain[P, V]) try(ctx context.Context, l Link[P], call func(context.Context, P) (V, error)) (V, error) {
	var zero V
	callCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx, l.Name); err != nil {
		return zero, errors.New(errors.ErrCodeTimeout, "rate limit wait", err)
	}

	v, err := call(callCtx, l.Provider)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return zero, errors.New(errors.ErrCodeTimeout, fmt.Sprintf("no answer within %s", l.Timeout), err)
		}
		return zero, err
	}
	if c.check != nil {
		if err := c.check(v); err != nil {
			return zero, errors.New(errors.ErrCodeImplausibleValue, "value rejected", err)
		}
	}
	return v, nil
}

func outcomeOf(err error) string {
	switch errors.CodeOf(err) {
	case errors.ErrCodeTimeout:
		return OutcomeTimeout
	case errors.ErrCodeImplausibleValue:
		return OutcomeImplausible
	default:
		return OutcomeError
	}
}
