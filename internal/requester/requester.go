package requester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/provider"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrResponseBudgetExceeded is returned when a response stays over the
	// size limit even at the largest allowed byte budget.
	ErrResponseBudgetExceeded = errors.New("response byte budget exceeded")
	// ErrProvidersExhausted is returned when a single-provider request failed
	// on every provider rotation it was allowed.
	ErrProvidersExhausted = errors.New("provider rotations exhausted")
)

const (
	shapeConsensus = "consensus"
	shapeSingle    = "single"
	shapeBroadcast = "broadcast"
)

// Ledger ranks providers and settles verdicts into scores.
type Ledger interface {
	Rank(count int) []model.Provider
	Size() int
	Reconcile(selection []model.Provider, v provider.Verdict) (json.RawMessage, error)
	ReconcileBroadcast(selection []model.Provider, v provider.Verdict) (rpc.SendStatus, error)
}

type Config struct {
	ConsensusSize        int
	InitialResponseBytes int64
	MaxResponseBytes     int64
	MaxRotations         int
}

func DefaultConfig() Config {
	return Config{
		ConsensusSize:        3,
		InitialResponseBytes: 8 * 1024,
		MaxResponseBytes:     2_000_000,
		MaxRotations:         3,
	}
}

// Requester is the only way the agent reaches providers. Reads go either to
// the top-ranked provider set (consensus) or to one provider picked
// round-robin over the ranking (single). Both escalate the response byte
// budget on size-limit failures and report every settled attempt to the
// ledger.
type Requester struct {
	transport provider.Transport
	ledger    Ledger
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	offset int
}

func New(transport provider.Transport, ledger Ledger, cfg Config, logger *slog.Logger) *Requester {
	def := DefaultConfig()
	if cfg.ConsensusSize <= 0 {
		cfg.ConsensusSize = def.ConsensusSize
	}
	if cfg.InitialResponseBytes <= 0 {
		cfg.InitialResponseBytes = def.InitialResponseBytes
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	if cfg.MaxRotations <= 0 {
		cfg.MaxRotations = def.MaxRotations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		transport: transport,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger.With("component", "requester"),
	}
}

// Consensus sends req to the top-ranked provider set and returns the agreed
// result.
func (r *Requester) Consensus(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	ctx, span := tracing.Tracer("requester").Start(ctx, "requester.consensus")
	span.SetAttributes(attribute.String("rpc.method", req.Method))
	defer span.End()

	selection, v, err := r.settleSet(ctx, shapeConsensus, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result, err := r.ledger.Reconcile(selection, v)
	r.recordAttempt(shapeConsensus, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}
	return result, nil
}

// Broadcast sends a signed transaction to the top-ranked provider set. One
// provider reporting a usable status settles the broadcast.
func (r *Requester) Broadcast(ctx context.Context, rawTx []byte) (rpc.SendStatus, error) {
	ctx, span := tracing.Tracer("requester").Start(ctx, "requester.broadcast")
	defer span.End()

	req := rpc.NewRequest("eth_sendRawTransaction", encodeHex(rawTx))
	selection, v, err := r.settleSet(ctx, shapeBroadcast, req)
	if err != nil {
		span.RecordError(err)
		return rpc.SendStatusUnknown, err
	}
	status, err := r.ledger.ReconcileBroadcast(selection, v)
	r.recordAttempt(shapeBroadcast, err)
	span.SetAttributes(attribute.String("tx.send_status", string(status)))
	if err != nil {
		span.RecordError(err)
		return status, fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return status, nil
}

// Request sends req to a single provider. Failures other than the size limit
// rotate to the next provider in rank order, up to MaxRotations times.
func (r *Requester) Request(ctx context.Context, req rpc.Request) (json.RawMessage, error) {
	ctx, span := tracing.Tracer("requester").Start(ctx, "requester.single")
	span.SetAttributes(attribute.String("rpc.method", req.Method))
	defer span.End()

	ranked, start := r.snapshot()
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%s: %w: no providers configured", req.Method, retry.ErrTransport)
	}

	budget := min(r.cfg.InitialResponseBytes, r.cfg.MaxResponseBytes)
	rotations := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := ranked[(start+rotations)%len(ranked)]
		selection := []model.Provider{p}
		v := r.transport.Call(ctx, selection, req, budget)
		if overBudget(v) {
			next, err := r.escalate(shapeSingle, req.Method, budget)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			budget = next
			continue
		}

		result, err := r.ledger.Reconcile(selection, v)
		r.recordAttempt(shapeSingle, err)
		if err == nil {
			return result, nil
		}

		rotations++
		metrics.RequesterRotations.Inc()
		r.logger.Debug("rotating provider", "method", req.Method, "provider", string(p), "rotation", rotations, "error", err)
		if rotations >= r.cfg.MaxRotations {
			err = fmt.Errorf("%s: %w after %d attempts: %w", req.Method, ErrProvidersExhausted, rotations, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		r.rotate()
	}
}

// settleSet runs the budget escalation loop against the consensus set and
// returns the first verdict that is not a size-limit failure.
func (r *Requester) settleSet(ctx context.Context, shape string, req rpc.Request) ([]model.Provider, provider.Verdict, error) {
	budget := min(r.cfg.InitialResponseBytes, r.cfg.MaxResponseBytes)
	for {
		if err := ctx.Err(); err != nil {
			return nil, provider.Verdict{}, err
		}
		selection := r.ledger.Rank(r.cfg.ConsensusSize)
		if len(selection) == 0 {
			return nil, provider.Verdict{}, fmt.Errorf("%s: %w: no providers configured", req.Method, retry.ErrTransport)
		}
		v := r.transport.Call(ctx, selection, req, budget)
		if overBudget(v) {
			next, err := r.escalate(shape, req.Method, budget)
			if err != nil {
				return nil, provider.Verdict{}, err
			}
			budget = next
			continue
		}
		return selection, v, nil
	}
}

// escalate doubles budget, capping the last step at the ceiling. A failure
// at the ceiling itself ends the request.
func (r *Requester) escalate(shape, method string, budget int64) (int64, error) {
	r.recordAttempt(shape, rpc.ErrResponseTooLarge)
	if budget >= r.cfg.MaxResponseBytes {
		return 0, fmt.Errorf("%s: %w (ceiling %d bytes)", method, ErrResponseBudgetExceeded, r.cfg.MaxResponseBytes)
	}
	metrics.RequesterBudgetEscalations.WithLabelValues(shape).Inc()
	next := min(budget*2, r.cfg.MaxResponseBytes)
	r.logger.Debug("response over budget, escalating", "method", method, "budget", budget, "next_budget", next)
	return next, nil
}

// snapshot returns the ranking a single-provider request rotates over and
// the shared round-robin position to start from.
func (r *Requester) snapshot() ([]model.Provider, int) {
	ranked := r.ledger.Rank(r.ledger.Size())
	r.mu.Lock()
	defer r.mu.Unlock()
	return ranked, r.offset
}

func (r *Requester) rotate() {
	r.mu.Lock()
	r.offset++
	r.mu.Unlock()
}

func (r *Requester) recordAttempt(shape string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrResponseTooLarge):
		outcome = "over_budget"
	default:
		outcome = string(retry.KindOf(err))
	}
	metrics.RequesterAttempts.WithLabelValues(shape, outcome).Inc()
}

// overBudget reports whether any provider failed on the response size limit.
func overBudget(v provider.Verdict) bool {
	for _, o := range v.Outcomes() {
		if o.Err != nil && errors.Is(o.Err, rpc.ErrResponseTooLarge) {
			return true
		}
	}
	return false
}
