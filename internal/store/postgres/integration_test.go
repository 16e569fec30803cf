//go:build integration

package postgres_test

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/lock"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
	"github.com/liquity/bold-ir-management-sub000/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB connects to TEST_DB_URL when set, otherwise starts a throwaway
// PostgreSQL container. Migrations are applied either way.
func testDB(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("ratekeeper_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, container.Terminate(context.Background()))
		})
		url, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := postgres.New(ctx, postgres.Config{
		URL:             url,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, currentFile, _, _ := runtime.Caller(0)
	require.NoError(t, db.RunMigrations(ctx, filepath.Join(filepath.Dir(currentFile), "migrations")))
	return db
}

func testConfig(key int64) model.StrategyConfig {
	return model.StrategyConfig{
		Key: key,
		Contracts: model.MarketContracts{
			TroveManager:       common.HexToAddress("0xa1"),
			BorrowerOperations: common.HexToAddress("0xa2"),
			HintHelpers:        common.HexToAddress("0xa3"),
			MultiTroveGetter:   common.HexToAddress("0xa4"),
			CollateralRegistry: common.HexToAddress("0xa5"),
			BoldToken:          common.HexToAddress("0xa6"),
		},
		CollateralIndex:  1,
		DerivationPath:   "m/44'/60'/0'/0/0",
		TargetMin:        big.NewInt(100_000_000_000_000_000),
		UpfrontFeePeriod: 7 * 24 * time.Hour,
		PublicKey:        []byte{0x04, 0xaa},
	}
}

func TestStrategyRepo_RoundTrip(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewStrategyRepo(db)
	ctx := context.Background()
	key := time.Now().UnixNano()

	require.NoError(t, repo.Create(ctx, testConfig(key)))
	assert.ErrorIs(t, repo.Create(ctx, testConfig(key)), store.ErrAlreadyExists)

	require.NoError(t, repo.BindBatchManager(ctx, key, common.HexToAddress("0xb1")))
	assert.ErrorIs(t, repo.BindBatchManager(ctx, key, common.HexToAddress("0xb2")), store.ErrAlreadyBound)

	changed := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.SaveRuntime(ctx, key, model.StrategyRuntimeState{
		LatestRate:       big.NewInt(42),
		LastRateChangeAt: changed,
		Nonce:            7,
	}))

	s, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xb1"), s.Config.Contracts.BatchManager)
	assert.Equal(t, int64(42), s.Runtime.LatestRate.Int64())
	assert.True(t, changed.Equal(s.Runtime.LastRateChangeAt))
	assert.Equal(t, uint64(7), s.Runtime.Nonce)
}

func TestStrategyRepo_LockThroughManager(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewStrategyRepo(db)
	ctx := context.Background()
	key := time.Now().UnixNano()
	require.NoError(t, repo.Create(ctx, testConfig(key)))

	m := lock.NewManager(repo, nil)
	g, err := m.TryLock(ctx, key)
	require.NoError(t, err)

	_, err = m.TryLock(ctx, key)
	assert.ErrorIs(t, err, retry.ErrLocked)

	require.NoError(t, g.Release(ctx))
	state, err := repo.GetLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, state.Locked)
}

func TestJournal_Evicts(t *testing.T) {
	db := testDB(t)
	j := postgres.NewJournal(db)
	ctx := context.Background()

	for i := 0; i < store.JournalCapacity+5; i++ {
		require.NoError(t, j.Append(ctx, "entry"))
	}
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM journal_entries").Scan(&n))
	assert.Equal(t, store.JournalCapacity, n)
}
