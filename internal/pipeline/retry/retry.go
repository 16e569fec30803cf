package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
)

// Kind is one member of the agent's error taxonomy.
type Kind string

const (
	KindLocked       Kind = "locked"
	KindMissingValue Kind = "missing_value"
	KindDecoding     Kind = "decoding"
	KindProvider     Kind = "provider"
	KindNoConsensus  Kind = "no_consensus"
	KindArithmetic   Kind = "arithmetic"
	KindUnauthorized Kind = "unauthorized"
	KindTransport    Kind = "transport"
	KindUnknown      Kind = "unknown"
)

// Sentinels for each Kind. Wrap them with fmt.Errorf("%w: ...").
var (
	ErrLocked       = errors.New("strategy is locked")
	ErrMissingValue = errors.New("missing value")
	ErrDecoding     = errors.New("decoding error")
	ErrProvider     = errors.New("provider error")
	ErrNoConsensus  = errors.New("no consensus")
	ErrArithmetic   = errors.New("arithmetic error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransport    = errors.New("transport error")
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindLocked, ErrLocked},
	{KindUnauthorized, ErrUnauthorized},
	{KindArithmetic, ErrArithmetic},
	{KindNoConsensus, ErrNoConsensus},
	{KindMissingValue, ErrMissingValue},
	{KindDecoding, ErrDecoding},
	{KindTransport, ErrTransport},
	{KindProvider, ErrProvider},
}

// KindOf maps an error onto the taxonomy. Explicit sentinels win; otherwise
// the error is inspected for transport and JSON-RPC shapes.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}

	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return KindProvider
	}
	if errors.Is(err, rpc.ErrResponseTooLarge) {
		return KindProvider
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, transportMessageTokens) {
		return KindTransport
	}
	return KindUnknown
}

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Kind   Kind
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Terminal marks err so that Classify never retries it, whatever its Kind.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTerminal,
		reason: "explicit_terminal",
	}
}

// Classify decides whether the outer runner may try the pipeline again.
// Every kind is retryable except Unauthorized; a cancelled context stops
// the loop as well.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Kind: KindUnknown, Reason: "nil_error"}
	}

	kind := KindOf(err)

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Kind: kind, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Kind: kind, Reason: "context_canceled"}
	}

	switch kind {
	case KindUnauthorized:
		return Decision{Class: ClassTerminal, Kind: kind, Reason: "unauthorized"}
	case KindUnknown:
		return Decision{Class: ClassTransient, Kind: kind, Reason: "unknown_transient_default"}
	}
	return Decision{Class: ClassTransient, Kind: kind, Reason: string(kind)}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transportMessageTokens = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"econnreset",
	"econnrefused",
	"no such host",
	"network is unreachable",
	"server closed idle connection",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
	"circuit breaker is open",
}
