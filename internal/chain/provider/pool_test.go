package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	result json.RawMessage
	err    error
	calls  atomic.Int32
}

func (f *fakeCaller) Call(_ context.Context, _ rpc.Request, _ int64) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func endpoints(ids ...model.Provider) []model.ProviderEndpoint {
	out := make([]model.ProviderEndpoint, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ProviderEndpoint{ID: id, URL: "http://" + string(id)})
	}
	return out
}

func TestSettle(t *testing.T) {
	ok := func(p model.Provider, raw string) ProviderOutcome {
		return ProviderOutcome{Provider: p, Outcome: Outcome{Result: json.RawMessage(raw)}}
	}
	fail := func(p model.Provider, msg string) ProviderOutcome {
		return ProviderOutcome{Provider: p, Outcome: Outcome{Err: errors.New(msg)}}
	}

	t.Run("agreeing results ignore whitespace", func(t *testing.T) {
		v := Settle([]ProviderOutcome{ok("a", `{"x": 1}`), ok("b", `{"x":1}`)})
		require.NotNil(t, v.Consistent)
		assert.True(t, v.Consistent.OK())
	})
	t.Run("agreeing errors", func(t *testing.T) {
		v := Settle([]ProviderOutcome{fail("a", "execution reverted"), fail("b", "execution reverted")})
		require.NotNil(t, v.Consistent)
		assert.False(t, v.Consistent.OK())
	})
	t.Run("different results", func(t *testing.T) {
		v := Settle([]ProviderOutcome{ok("a", `"0x1"`), ok("b", `"0x2"`)})
		assert.Nil(t, v.Consistent)
		assert.Len(t, v.Inconsistent, 2)
	})
	t.Run("ok versus error", func(t *testing.T) {
		v := Settle([]ProviderOutcome{ok("a", `"0x1"`), fail("b", "boom")})
		assert.Nil(t, v.Consistent)
		assert.Len(t, v.Outcomes(), 2)
	})
}

func TestPool_CallFansOutAndSettles(t *testing.T) {
	a := &fakeCaller{result: json.RawMessage(`"0x10"`)}
	b := &fakeCaller{result: json.RawMessage(`"0x10"`)}
	c := &fakeCaller{result: json.RawMessage(`"0x11"`)}
	p := newPool(endpoints("a", "b", "c"), map[model.Provider]Caller{"a": a, "b": b, "c": c}, PoolConfig{}, nil)

	v := p.Call(context.Background(), []model.Provider{"a", "b"}, rpc.NewRequest("eth_blockNumber"), 1024)
	require.NotNil(t, v.Consistent)
	assert.JSONEq(t, `"0x10"`, string(v.Consistent.Result))

	v = p.Call(context.Background(), []model.Provider{"a", "b", "c"}, rpc.NewRequest("eth_blockNumber"), 1024)
	require.Len(t, v.Inconsistent, 3)
	assert.Equal(t, model.Provider("c"), v.Inconsistent[2].Provider)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestPool_UnknownProviderIsTransportError(t *testing.T) {
	p := newPool(endpoints("a"), map[model.Provider]Caller{"a": &fakeCaller{}}, PoolConfig{}, nil)

	v := p.Call(context.Background(), []model.Provider{"zzz"}, rpc.NewRequest("eth_chainId"), 0)
	require.NotNil(t, v.Consistent)
	assert.ErrorIs(t, v.Consistent.Err, retry.ErrTransport)
}

func TestPool_BreakerOpensOnTransportFailures(t *testing.T) {
	bad := &fakeCaller{err: errors.New("dial tcp: connection refused")}
	p := newPool(endpoints("a"), map[model.Provider]Caller{"a": bad}, PoolConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		p.Call(context.Background(), []model.Provider{"a"}, rpc.NewRequest("eth_chainId"), 0)
	}
	v := p.Call(context.Background(), []model.Provider{"a"}, rpc.NewRequest("eth_chainId"), 0)
	require.NotNil(t, v.Consistent)
	assert.ErrorIs(t, v.Consistent.Err, retry.ErrTransport)
	assert.Contains(t, v.Consistent.Err.Error(), "circuit breaker is open")
	assert.Equal(t, int32(2), bad.calls.Load(), "open breaker must not reach the endpoint")
	assert.Equal(t, "open", p.Breakers()[0].State)
}

func TestPool_RPCErrorsDoNotTripBreaker(t *testing.T) {
	reverted := &fakeCaller{err: &rpc.RPCError{Code: 3, Message: "execution reverted"}}
	p := newPool(endpoints("a"), map[model.Provider]Caller{"a": reverted}, PoolConfig{FailureThreshold: 1}, nil)

	for i := 0; i < 3; i++ {
		p.Call(context.Background(), []model.Provider{"a"}, rpc.NewRequest("eth_call"), 0)
	}
	assert.Equal(t, "closed", p.Breakers()[0].State)
	assert.Equal(t, int32(3), reverted.calls.Load())
}

func TestNewPool_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpc.Request
		require.NoError(t, json.Unmarshal(body, &req))
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":"0x1234"}`, req.ID)
	}))
	defer srv.Close()

	p := NewPool([]model.ProviderEndpoint{{ID: "local", URL: srv.URL}}, PoolConfig{}, nil)
	assert.Equal(t, []model.Provider{"local"}, p.Providers())

	v := p.Call(context.Background(), []model.Provider{"local"}, rpc.NewRequest("eth_blockNumber"), 1024)
	require.NotNil(t, v.Consistent)
	require.NoError(t, v.Consistent.Err)
	assert.JSONEq(t, `"0x1234"`, string(v.Consistent.Result))

	v = p.Call(context.Background(), []model.Provider{"local"}, rpc.NewRequest("eth_blockNumber"), 8)
	require.NotNil(t, v.Consistent)
	assert.ErrorIs(t, v.Consistent.Err, rpc.ErrResponseTooLarge)
}
