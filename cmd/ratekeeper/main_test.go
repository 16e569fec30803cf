package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/alert"
	"github.com/liquity/bold-ir-management-sub000/internal/config"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	badgerstore "github.com/liquity/bold-ir-management-sub000/internal/store/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratekeeper.log")
	var stdout bytes.Buffer
	logger, closer := newLogger(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, &stdout)

	logger.Debug("hidden")
	logger.Info("visible", "strategy", 3)
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), `"msg":"visible"`)
	assert.NotContains(t, stdout.String(), "hidden")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"strategy":3`)
}

func TestParseStrategyKey(t *testing.T) {
	key, err := parseStrategyKey("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), key)

	for _, raw := range []string{"", "-1", "abc", "1.5"} {
		_, err := parseStrategyKey(raw)
		assert.Error(t, err, raw)
	}
}

func testStrategyConfig(key int64, batch common.Address) model.StrategyConfig {
	return model.StrategyConfig{
		Key: key,
		Contracts: model.MarketContracts{
			BatchManager: batch,
			TroveManager: common.HexToAddress("0xa1"),
			BoldToken:    common.HexToAddress("0xa6"),
		},
		DerivationPath:   "m/0",
		TargetMin:        big.NewInt(1e17),
		UpfrontFeePeriod: 7 * 24 * time.Hour,
		PublicKey:        []byte{0x04, 0x01},
	}
}

func TestSyncStrategies(t *testing.T) {
	s, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	keys, err := syncStrategies(ctx, s, []model.StrategyConfig{
		testStrategyConfig(0, common.Address{}),
		testStrategyConfig(1, common.HexToAddress("0xb1")),
	}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, keys)

	st, err := s.Get(ctx, 0)
	require.NoError(t, err)
	assert.False(t, st.Config.BatchManagerBound())

	// The batch manager for 0 is added to the file later; 1 is changed and
	// must keep its bound address.
	_, err = syncStrategies(ctx, s, []model.StrategyConfig{
		testStrategyConfig(0, common.HexToAddress("0xb0")),
		testStrategyConfig(1, common.HexToAddress("0xb2")),
	}, discardLogger())
	require.NoError(t, err)

	st, err = s.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xb0"), st.Config.Contracts.BatchManager)
	st, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xb1"), st.Config.Contracts.BatchManager)
}

func TestBuildAlerter(t *testing.T) {
	_, ok := buildAlerter(config.AlertConfig{}, discardLogger()).(*alert.NoopAlerter)
	assert.True(t, ok)

	_, ok = buildAlerter(config.AlertConfig{SlackWebhookURL: "https://hooks.example/x", Cooldown: time.Minute}, discardLogger()).(*alert.MultiAlerter)
	assert.True(t, ok)
}

func setBadgerEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("BADGER_PATH", t.TempDir())
	t.Setenv("SIGNER_MODE", "local")
	t.Setenv("SIGNER_MASTER_KEY", testMasterKey)
	t.Setenv("NETWORK", "sepolia")
}

func TestBuildApp_Badger(t *testing.T) {
	setBadgerEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.runner)
	assert.NotNil(t, a.req)
	assert.Len(t, a.ledger.Scores(), len(cfg.RPC.Providers))
	assert.Nil(t, a.db)
	keys, err := a.repo.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRootCmd_Args(t *testing.T) {
	setBadgerEnv(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"execute"}, "accepts 1 arg"},
		{[]string{"execute", "abc"}, "invalid strategy key"},
		{[]string{"run", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd := newRootCmd(io.Discard)
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRootCmd_MigrateSkipsBadger(t *testing.T) {
	setBadgerEnv(t)
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"migrate"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "nothing to migrate")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Setenv("NETWORK", "goerli")
	cmd := newRootCmd(io.Discard)
	cmd.SetArgs([]string{"migrate"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
