package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/provider"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

const (
	defaultAuditEvery   = 10
	defaultAuditTimeout = 5 * time.Second
	defaultAuditQueue   = 64
)

// Entry is one provider's reputation.
type Entry struct {
	Provider model.Provider `json:"provider"`
	Score    int64          `json:"score"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAuditEvery sets how many score changes separate two audit notes.
func WithAuditEvery(n uint64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.auditEvery = n
		}
	}
}

// WithAuditTimeout bounds a single audit note write.
func WithAuditTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.auditTimeout = d
		}
	}
}

// WithAuditQueue sets how many audit notes may wait for the journal before
// new ones are dropped.
func WithAuditQueue(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.auditQueue = n
		}
	}
}

// Ledger keeps a saturating score per provider and turns consensus verdicts
// into score changes. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	index   map[model.Provider]int
	changes uint64

	journal      store.Journal
	auditEvery   uint64
	auditTimeout time.Duration
	auditQueue   int
	audits       chan string
	auditClosed  bool
	auditDone    chan struct{}
	logger       *slog.Logger
}

// New creates a ledger with every provider at score zero. journal may be nil.
func New(providers []model.Provider, journal store.Journal, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		entries:      make([]Entry, 0, len(providers)),
		index:        make(map[model.Provider]int, len(providers)),
		journal:      journal,
		auditEvery:   defaultAuditEvery,
		auditTimeout: defaultAuditTimeout,
		auditQueue:   defaultAuditQueue,
		logger:       logger.With("component", "reputation"),
	}
	for _, p := range providers {
		if _, dup := l.index[p]; dup {
			continue
		}
		l.index[p] = len(l.entries)
		l.entries = append(l.entries, Entry{Provider: p})
		metrics.ProviderReputationScore.WithLabelValues(string(p)).Set(0)
	}
	for _, o := range opts {
		o(l)
	}
	if journal != nil {
		l.audits = make(chan string, l.auditQueue)
		l.auditDone = make(chan struct{})
		go l.writeAudits()
	}
	return l
}

// Rank returns up to count providers, highest score first. Equal scores keep
// configuration order. When the provider after the one just taken scores
// exactly one less, it is taken along while there is still room.
func (l *Ledger) Rank(count int) []model.Provider {
	if count <= 0 {
		return nil
	}
	sorted := l.sorted()

	result := make([]model.Provider, 0, min(count, len(sorted))+1)
	for i := 0; i < len(sorted) && len(result) < count; i++ {
		result = append(result, sorted[i].Provider)
		if len(result) < count && i+1 < len(sorted) && sorted[i+1].Score == sorted[i].Score-1 {
			i++
			result = append(result, sorted[i].Provider)
		}
	}
	if len(result) > count {
		result = result[:count]
	}
	return result
}

// Size returns the number of providers the ledger tracks.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Scores returns every entry, highest score first.
func (l *Ledger) Scores() []Entry {
	return l.sorted()
}

func (l *Ledger) sorted() []Entry {
	l.mu.Lock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// RecordOutcome moves every provider of the selection one point up on
// success and one point down on failure.
func (l *Ledger) RecordOutcome(selection []model.Provider, ok bool) {
	delta := int64(-1)
	if ok {
		delta = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range selection {
		l.adjustLocked(p, delta)
	}
}

// Reconcile settles a read verdict. A consistent success rewards the whole
// selection and returns the agreed result. A consistent failure penalises
// the selection and returns the error wrapped as a provider error. Disagreeing
// providers are judged one by one and the call fails with ErrNoConsensus.
func (l *Ledger) Reconcile(selection []model.Provider, v provider.Verdict) (json.RawMessage, error) {
	if v.Consistent != nil {
		if v.Consistent.OK() {
			l.RecordOutcome(selection, true)
			return v.Consistent.Result, nil
		}
		l.RecordOutcome(selection, false)
		return nil, fmt.Errorf("%w: %w", retry.ErrProvider, v.Consistent.Err)
	}

	l.adjustEach(v.Inconsistent)
	metrics.ReputationDisagreements.Inc()
	return nil, fmt.Errorf("%w: %s", retry.ErrNoConsensus, describe(v.Inconsistent))
}

// ReconcileBroadcast settles an eth_sendRawTransaction verdict. One provider
// reporting a usable status is enough: the first such status wins, providers
// agreeing with it are rewarded and the rest penalised. Without a usable
// status the providers are judged one by one and ErrNoConsensus is returned.
//
// A consistent failure still reports its classified status alongside the
// error so callers can react to nonce and funding conditions.
func (l *Ledger) ReconcileBroadcast(selection []model.Provider, v provider.Verdict) (rpc.SendStatus, error) {
	if v.Consistent != nil {
		status := rpc.ClassifySend(v.Consistent.Result, v.Consistent.Err)
		if status == rpc.SendStatusOK {
			l.RecordOutcome(selection, true)
			return status, nil
		}
		l.RecordOutcome(selection, false)
		if v.Consistent.Err == nil {
			return status, fmt.Errorf("%w: empty broadcast result", retry.ErrMissingValue)
		}
		return status, fmt.Errorf("%w: %w", retry.ErrProvider, v.Consistent.Err)
	}

	statuses := make([]rpc.SendStatus, len(v.Inconsistent))
	chosen := rpc.SendStatusUnknown
	for i, po := range v.Inconsistent {
		statuses[i] = rpc.ClassifySend(po.Result, po.Err)
		if chosen == rpc.SendStatusUnknown && statuses[i].Usable() {
			chosen = statuses[i]
		}
	}
	metrics.ReputationDisagreements.Inc()

	if chosen == rpc.SendStatusUnknown {
		l.adjustEach(v.Inconsistent)
		return rpc.SendStatusUnknown, fmt.Errorf("%w: %s", retry.ErrNoConsensus, describe(v.Inconsistent))
	}

	l.mu.Lock()
	for i, po := range v.Inconsistent {
		if statuses[i] == chosen {
			l.adjustLocked(po.Provider, 1)
		} else {
			l.adjustLocked(po.Provider, -1)
		}
	}
	l.mu.Unlock()
	return chosen, nil
}

// Close stops accepting audit notes and blocks until the queued ones have
// been written or dropped. Scores keep working after Close.
func (l *Ledger) Close() {
	if l.audits == nil {
		return
	}
	l.mu.Lock()
	if !l.auditClosed {
		l.auditClosed = true
		close(l.audits)
	}
	l.mu.Unlock()
	<-l.auditDone
}

func (l *Ledger) adjustEach(outcomes []provider.ProviderOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, po := range outcomes {
		if po.OK() {
			l.adjustLocked(po.Provider, 1)
		} else {
			l.adjustLocked(po.Provider, -1)
		}
	}
}

func (l *Ledger) adjustLocked(p model.Provider, delta int64) {
	i, ok := l.index[p]
	if !ok {
		return
	}
	l.entries[i].Score = saturatingAdd(l.entries[i].Score, delta)
	metrics.ProviderReputationScore.WithLabelValues(string(p)).Set(float64(l.entries[i].Score))

	l.changes++
	if l.journal != nil && l.changes%l.auditEvery == 0 {
		l.emitAudit(l.auditNoteLocked())
	}
}

func (l *Ledger) auditNoteLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reputation checkpoint after %d changes:", l.changes)
	for _, e := range l.entries {
		fmt.Fprintf(&b, " %s=%d", e.Provider, e.Score)
	}
	return b.String()
}

// emitAudit queues note for the writer without blocking. Called with l.mu
// held, so notes enter the queue in change order.
func (l *Ledger) emitAudit(note string) {
	if l.auditClosed {
		return
	}
	select {
	case l.audits <- note:
	default:
		metrics.JournalAppendErrors.Inc()
		l.logger.Warn("reputation audit queue full, note dropped", "changes", l.changes)
	}
}

// writeAudits is the single journal writer. Failures are logged and dropped.
func (l *Ledger) writeAudits() {
	defer close(l.auditDone)
	for note := range l.audits {
		ctx, cancel := context.WithTimeout(context.Background(), l.auditTimeout)
		if err := l.journal.Append(ctx, note); err != nil {
			metrics.JournalAppendErrors.Inc()
			l.logger.Warn("reputation audit note dropped", "error", err)
		}
		cancel()
	}
}

func saturatingAdd(a, delta int64) int64 {
	switch {
	case delta > 0 && a > math.MaxInt64-delta:
		return math.MaxInt64
	case delta < 0 && a < math.MinInt64-delta:
		return math.MinInt64
	default:
		return a + delta
	}
}

func describe(outcomes []provider.ProviderOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, po := range outcomes {
		if po.OK() {
			parts = append(parts, fmt.Sprintf("%s=ok(%d bytes)", po.Provider, len(po.Result)))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=error(%v)", po.Provider, po.Err))
	}
	return strings.Join(parts, ", ")
}
