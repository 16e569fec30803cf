package provider

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
)

// Outcome is the settled result of one provider call.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

func (o Outcome) OK() bool { return o.Err == nil }

// ProviderOutcome pairs an outcome with the provider that produced it.
type ProviderOutcome struct {
	Provider model.Provider
	Outcome
}

// Verdict is either one agreed outcome (Consistent) or one outcome per
// provider when they disagree (Inconsistent). Exactly one field is set.
type Verdict struct {
	Consistent   *Outcome
	Inconsistent []ProviderOutcome
}

// Outcomes lists every individual outcome carried by the verdict. For a
// consistent verdict it returns the agreed outcome once.
func (v Verdict) Outcomes() []Outcome {
	if v.Consistent != nil {
		return []Outcome{*v.Consistent}
	}
	out := make([]Outcome, 0, len(v.Inconsistent))
	for _, po := range v.Inconsistent {
		out = append(out, po.Outcome)
	}
	return out
}

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks . Transport

// Transport is the only network boundary of the agent: it sends one request
// to a single provider or a provider set and settles the answers.
type Transport interface {
	Call(ctx context.Context, providers []model.Provider, req rpc.Request, maxResponseBytes int64) Verdict
}

// Settle folds per-provider outcomes into a verdict. Results agree when their
// compacted JSON is byte-equal; errors agree when their messages match.
func Settle(outcomes []ProviderOutcome) Verdict {
	if len(outcomes) == 0 {
		return Verdict{Inconsistent: []ProviderOutcome{}}
	}
	first := outcomes[0].Outcome
	for _, po := range outcomes[1:] {
		if !sameOutcome(first, po.Outcome) {
			return Verdict{Inconsistent: outcomes}
		}
	}
	agreed := first
	return Verdict{Consistent: &agreed}
}

func sameOutcome(a, b Outcome) bool {
	if a.OK() != b.OK() {
		return false
	}
	if !a.OK() {
		return a.Err.Error() == b.Err.Error()
	}
	return bytes.Equal(compact(a.Result), compact(b.Result))
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
