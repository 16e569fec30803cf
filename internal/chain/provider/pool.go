package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/ratelimit"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/circuitbreaker"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"golang.org/x/sync/errgroup"
)

// Caller is the per-endpoint JSON-RPC client used by the pool.
type Caller interface {
	Call(ctx context.Context, req rpc.Request, maxResponseBytes int64) (json.RawMessage, error)
}

type rpcCaller struct{ c *rpc.Client }

func (r rpcCaller) Call(ctx context.Context, req rpc.Request, maxResponseBytes int64) (json.RawMessage, error) {
	return r.c.Call(ctx, req, maxResponseBytes)
}

type endpoint struct {
	id      model.Provider
	caller  Caller
	breaker *circuitbreaker.Breaker
	limiter *ratelimit.Limiter
}

// PoolConfig tunes every endpoint of the pool alike.
type PoolConfig struct {
	RPS              float64
	Burst            int
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Pool implements Transport over a fixed set of JSON-RPC endpoints, each
// guarded by its own rate limiter and circuit breaker.
type Pool struct {
	endpoints map[model.Provider]*endpoint
	order     []model.Provider
	logger    *slog.Logger
}

// NewPool builds a pool with an HTTP client per endpoint.
func NewPool(endpoints []model.ProviderEndpoint, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	callers := make(map[model.Provider]Caller, len(endpoints))
	for _, ep := range endpoints {
		callers[ep.ID] = rpcCaller{c: rpc.NewClient(ep.URL, logger.With("provider", string(ep.ID)))}
	}
	return newPool(endpoints, callers, cfg, logger)
}

func newPool(endpoints []model.ProviderEndpoint, callers map[model.Provider]Caller, cfg PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		endpoints: make(map[model.Provider]*endpoint, len(endpoints)),
		logger:    logger.With("component", "provider_pool"),
	}
	for _, ep := range endpoints {
		name := string(ep.ID)
		p.endpoints[ep.ID] = &endpoint{
			id:     ep.ID,
			caller: callers[ep.ID],
			breaker: circuitbreaker.New(circuitbreaker.Config{
				Name:             name,
				FailureThreshold: cfg.FailureThreshold,
				OpenTimeout:      cfg.OpenTimeout,
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					metrics.ProviderCircuitState.WithLabelValues(name).Set(float64(to))
					p.logger.Warn("provider circuit state changed", "provider", name, "from", from.String(), "to", to.String())
				},
			}),
			limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst, name),
		}
		p.order = append(p.order, ep.ID)
	}
	return p
}

// Providers returns the configured providers in configuration order.
func (p *Pool) Providers() []model.Provider {
	out := make([]model.Provider, len(p.order))
	copy(out, p.order)
	return out
}

// Breakers reports the breaker state of every endpoint.
func (p *Pool) Breakers() []circuitbreaker.Snapshot {
	out := make([]circuitbreaker.Snapshot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.endpoints[id].breaker.Snapshot())
	}
	return out
}

// Call sends req to every provider concurrently and settles the answers.
func (p *Pool) Call(ctx context.Context, providers []model.Provider, req rpc.Request, maxResponseBytes int64) Verdict {
	outcomes := make([]ProviderOutcome, len(providers))

	var g errgroup.Group
	for i, id := range providers {
		g.Go(func() error {
			outcomes[i] = ProviderOutcome{Provider: id, Outcome: p.callOne(ctx, id, req, maxResponseBytes)}
			return nil
		})
	}
	_ = g.Wait()

	return Settle(outcomes)
}

func (p *Pool) callOne(ctx context.Context, id model.Provider, req rpc.Request, maxResponseBytes int64) Outcome {
	ep, ok := p.endpoints[id]
	if !ok || ep.caller == nil {
		return Outcome{Err: fmt.Errorf("%w: unknown provider %q", retry.ErrTransport, id)}
	}
	if err := ep.breaker.Allow(); err != nil {
		return Outcome{Err: fmt.Errorf("%w: %s: %w", retry.ErrTransport, id, err)}
	}
	if err := ep.limiter.Wait(ctx); err != nil {
		return Outcome{Err: fmt.Errorf("%w: %s: rate limiter: %w", retry.ErrTransport, id, err)}
	}

	start := time.Now()
	result, err := ep.caller.Call(ctx, req, maxResponseBytes)
	ratelimit.RecordRPCCall(string(id), req.Method, time.Since(start), err)

	// Only transport-level failures count against the breaker: a node that
	// answered with a JSON-RPC error or an oversized body is reachable.
	var rpcErr *rpc.RPCError
	switch {
	case err == nil, errors.As(err, &rpcErr), errors.Is(err, rpc.ErrResponseTooLarge):
		ep.breaker.RecordSuccess()
	default:
		ep.breaker.RecordFailure()
		p.logger.Debug("provider call failed", "provider", string(id), "method", req.Method, "error", err)
	}

	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Result: result}
}
