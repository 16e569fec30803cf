package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:     AlertTypeExhausted,
		Strategy: 7,
		Network:  "sepolia",
		Title:    "Strategy run failed",
		Message:  "no consensus after 3 attempts",
		Fields: map[string]string{
			"attempts": "3",
			"kind":     "no_consensus",
		},
	}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestMultiAlerter_Send_AllChannels(t *testing.T) {
	slackSrv, slackReceived := countingServer(t, http.StatusOK)
	webhookSrv, webhookReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(webhookSrv.URL))
	require.NoError(t, multi.Send(context.Background(), testAlert()))

	assert.Equal(t, int32(1), slackReceived.Load())
	assert.Equal(t, int32(1), webhookReceived.Load())
}

func TestMultiAlerter_CooldownDedup(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), received.Load())

	other := testAlert()
	other.Strategy = 8
	require.NoError(t, multi.Send(context.Background(), other))
	assert.Equal(t, int32(2), received.Load(), "cooldown is per strategy")
}

func TestMultiAlerter_CooldownExpiry(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	multi.now = func() time.Time { return now }

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	now = now.Add(time.Minute + time.Second)
	require.NoError(t, multi.Send(context.Background(), testAlert()))

	assert.Equal(t, int32(2), received.Load())
}

func TestMultiAlerter_RateChangeNeverSuppressed(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	a := Alert{Type: AlertTypeRateChange, Strategy: 1, Network: "mainnet", Title: "rate", Message: "m"}
	require.NoError(t, multi.Send(context.Background(), a))
	require.NoError(t, multi.Send(context.Background(), a))
	assert.Equal(t, int32(2), received.Load())
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	failSrv, _ := countingServer(t, http.StatusInternalServerError)
	goodSrv, goodReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(failSrv.URL), NewWebhookAlerter(goodSrv.URL))

	err := multi.Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Equal(t, int32(1), goodReceived.Load())
}

func TestSlackAlerter_PayloadFormat(t *testing.T) {
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		capturedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), testAlert()))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(capturedBody, &payload))
	text := payload["text"]
	assert.True(t, strings.HasPrefix(text, ":rotating_light:"))
	assert.Contains(t, text, "strategy 7/sepolia")
	assert.Contains(t, text, "Strategy run failed")
	assert.Contains(t, text, "no consensus after 3 attempts")
	assert.Less(t, strings.Index(text, "attempts"), strings.Index(text, "kind"), "fields are sorted")

	emojiTests := []struct {
		alertType AlertType
		emoji     string
	}{
		{AlertTypeUnhealthy, ":warning:"},
		{AlertTypeRecovery, ":white_check_mark:"},
		{AlertTypeRateChange, ":chart_with_upwards_trend:"},
		{AlertTypeExhausted, ":rotating_light:"},
		{AlertTypeUnauthorized, ":no_entry:"},
	}
	for _, tc := range emojiTests {
		t.Run(fmt.Sprintf("emoji_%s", tc.alertType), func(t *testing.T) {
			var body []byte
			emojiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
			}))
			defer emojiSrv.Close()

			a := Alert{Type: tc.alertType, Strategy: 1, Network: "mainnet", Title: "t", Message: "m"}
			require.NoError(t, NewSlackAlerter(emojiSrv.URL).Send(context.Background(), a))

			var p map[string]string
			require.NoError(t, json.Unmarshal(body, &p))
			assert.True(t, strings.HasPrefix(p["text"], tc.emoji), "got: %s", p["text"])
		})
	}
}

func TestWebhookAlerter_PayloadFormat(t *testing.T) {
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		capturedBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	beforeSend := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, NewWebhookAlerter(srv.URL).Send(context.Background(), testAlert()))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(capturedBody, &payload))

	assert.Equal(t, string(AlertTypeExhausted), payload["type"])
	assert.Equal(t, float64(7), payload["strategy"])
	assert.Equal(t, "sepolia", payload["network"])
	assert.Equal(t, "Strategy run failed", payload["title"])

	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "no_consensus", fields["kind"])

	timeStr, ok := payload["time"].(string)
	require.True(t, ok)
	parsedTime, err := time.Parse(time.RFC3339, timeStr)
	require.NoError(t, err)
	assert.False(t, parsedTime.Before(beforeSend))
}
