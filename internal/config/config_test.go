package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SIGNER_URL", "https://signer.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.NetworkSepolia, cfg.Network)
	assert.Equal(t, model.NetworkSepolia.DefaultProviders(), cfg.RPC.Providers)
	assert.Equal(t, 3, cfg.RPC.ConsensusSize)
	assert.Equal(t, int64(8192), cfg.RPC.InitialResponseBytes)
	assert.Equal(t, int64(2_000_000), cfg.RPC.MaxResponseBytes)
	assert.Equal(t, 3, cfg.RPC.MaxRotations)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Journal.Backend)
	assert.Equal(t, "remote", cfg.Signer.Mode)
	assert.Equal(t, "@hourly", cfg.Scheduler.Schedule)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Backoff)
	assert.Equal(t, time.Hour, cfg.Scheduler.LockTimeout)
	assert.Equal(t, 8080, cfg.Server.AdminPort)
	assert.Equal(t, 30*time.Minute, cfg.Alert.Cooldown)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("NETWORK", "MAINNET")
	t.Setenv("RPC_PROVIDERS", "alchemy=https://a.example, infura=https://i.example,quicknode=https://q.example")
	t.Setenv("RPC_CONSENSUS_SIZE", "2")
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("BADGER_PATH", "/var/lib/ratekeeper")
	t.Setenv("JOURNAL_BACKEND", "redis")
	t.Setenv("SIGNER_URL", "https://signer.internal")
	t.Setenv("RUN_BACKOFF_SEC", "1")
	t.Setenv("RPC_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, model.NetworkMainnet, cfg.Network)
	assert.Equal(t, []model.Provider{"alchemy", "infura", "quicknode"}, model.ProviderIDs(cfg.RPC.Providers))
	assert.Equal(t, "https://i.example", cfg.RPC.Providers[1].URL)
	assert.Equal(t, 2, cfg.RPC.ConsensusSize)
	assert.Equal(t, 2.5, cfg.RPC.RPS)
	assert.Equal(t, "/var/lib/ratekeeper", cfg.Badger.Path)
	assert.Equal(t, time.Second, cfg.Scheduler.Backoff)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown network",
			env:  map[string]string{"NETWORK": "goerli", "SIGNER_URL": "x"},
			want: "NETWORK",
		},
		{
			name: "consensus larger than provider set",
			env:  map[string]string{"RPC_PROVIDERS": "a=https://a", "SIGNER_URL": "x"},
			want: "RPC_CONSENSUS_SIZE",
		},
		{
			name: "malformed provider",
			env:  map[string]string{"RPC_PROVIDERS": "https://a", "SIGNER_URL": "x"},
			want: "id=url",
		},
		{
			name: "duplicate provider",
			env:  map[string]string{"RPC_PROVIDERS": "a=https://a,a=https://b", "SIGNER_URL": "x"},
			want: "duplicate",
		},
		{
			name: "missing signer url",
			env:  map[string]string{},
			want: "SIGNER_URL",
		},
		{
			name: "local signer on mainnet",
			env:  map[string]string{"NETWORK": "mainnet", "SIGNER_MODE": "local", "SIGNER_MASTER_KEY": "00"},
			want: "mainnet",
		},
		{
			name: "postgres journal without postgres store",
			env:  map[string]string{"STORE_BACKEND": "badger", "JOURNAL_BACKEND": "postgres", "SIGNER_URL": "x"},
			want: "STORE_BACKEND=postgres",
		},
		{
			name: "unknown store",
			env:  map[string]string{"STORE_BACKEND": "sqlite", "SIGNER_URL": "x"},
			want: "STORE_BACKEND",
		},
		{
			name: "response budget inverted",
			env:  map[string]string{"RPC_RESPONSE_BYTES": "10", "RPC_RESPONSE_BYTES_MAX": "5", "SIGNER_URL": "x"},
			want: "RPC_RESPONSE_BYTES",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func testPubKey(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey))
}

const strategyTemplate = `
strategies:
  - key: %d
    batch_manager: "%s"
    trove_manager: "0x00000000000000000000000000000000000000a1"
    borrower_operations: "0x00000000000000000000000000000000000000a2"
    hint_helpers: "0x00000000000000000000000000000000000000a3"
    multi_trove_getter: "0x00000000000000000000000000000000000000a4"
    collateral_registry: "0x00000000000000000000000000000000000000a5"
    bold_token: "0x00000000000000000000000000000000000000a6"
    collateral_index: 2
    derivation_path: "m/44'/60'/0'/0/%d"
    target_min: "%s"
    upfront_fee_period: 168h
    public_key: "%s"
`

func TestParseStrategies(t *testing.T) {
	pub := testPubKey(t)
	data := fmt.Sprintf(strategyTemplate, 0, "", 0, "0.105", pub) +
		fmt.Sprintf(strategyTemplate, 1, "0x00000000000000000000000000000000000000b1", 1, "0.2", pub)[len("\nstrategies:\n"):]

	cfgs, err := ParseStrategies([]byte(data))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	first := cfgs[0]
	assert.Equal(t, int64(0), first.Key)
	assert.False(t, first.BatchManagerBound())
	assert.Equal(t, common.HexToAddress("0xa1"), first.Contracts.TroveManager)
	assert.Equal(t, common.HexToAddress("0xa6"), first.Contracts.BoldToken)
	assert.Equal(t, uint64(2), first.CollateralIndex)
	assert.Equal(t, "m/44'/60'/0'/0/0", first.DerivationPath)
	assert.Equal(t, 0, first.TargetMin.Cmp(big.NewInt(105_000_000_000_000_000)))
	assert.Equal(t, 7*24*time.Hour, first.UpfrontFeePeriod)
	assert.Len(t, first.PublicKey, 65)

	assert.True(t, cfgs[1].BatchManagerBound())
	assert.Equal(t, common.HexToAddress("0xb1"), cfgs[1].Contracts.BatchManager)
}

func TestParseStrategies_Invalid(t *testing.T) {
	pub := testPubKey(t)
	tests := []struct {
		name string
		data string
	}{
		{"empty", "strategies: []\n"},
		{"bad address", fmt.Sprintf(strategyTemplate, 0, "0x123", 0, "0.1", pub)},
		{"target above one", fmt.Sprintf(strategyTemplate, 0, "", 0, "1.5", pub)},
		{"target not a number", fmt.Sprintf(strategyTemplate, 0, "", 0, "ten", pub)},
		{"compressed key", fmt.Sprintf(strategyTemplate, 0, "", 0, "0.1", "0x02abcd")},
		{
			"duplicate key",
			fmt.Sprintf(strategyTemplate, 3, "", 0, "0.1", pub) +
				fmt.Sprintf(strategyTemplate, 3, "", 1, "0.1", pub)[len("\nstrategies:\n"):],
		},
		{"not yaml", "strategies: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStrategies([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadStrategies_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(strategyTemplate, 4, "", 0, "0.1", testPubKey(t))), 0o600))

	cfgs, err := LoadStrategies(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, int64(4), cfgs[0].Key)

	_, err = LoadStrategies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
