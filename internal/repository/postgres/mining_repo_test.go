package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korilabs/coin-ledger/internal/db"
)

// exercises the cap-guarded upsert against a real database; the service
// tests cover the same contract through fakes, this one covers the SQL
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.RunMigrations(ctx, pool))
	return pool
}

func TestAccrueWithinCapConcurrentRace(t *testing.T) {
	pool := testPool(t)
	repo := &dailyMiningRepo{pool}
	ctx := context.Background()

	userID := time.Now().UnixNano()
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	resetAt := date.Add(24 * time.Hour)
	cap := decimal.NewFromInt(100)

	// two concurrent accruals of 60 against a cap of 100: exactly one lands
	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i], errs[i] = repo.AccrueWithinCap(ctx, userID, date, decimal.NewFromInt(60), cap, resetAt)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0], results[1], "exactly one accrual within cap")

	m, err := repo.Get(ctx, userID, date)
	require.NoError(t, err)
	assert.True(t, m.MiningAmount.Equal(decimal.NewFromInt(60)))
}

func TestAccrueWithinCapRejectionLeavesTotal(t *testing.T) {
	pool := testPool(t)
	repo := &dailyMiningRepo{pool}
	ctx := context.Background()

	userID := time.Now().UnixNano()
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	resetAt := date.Add(24 * time.Hour)
	cap := decimal.NewFromInt(10)

	total, ok, err := repo.AccrueWithinCap(ctx, userID, date, decimal.NewFromInt(8), cap, resetAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, total.Equal(decimal.NewFromInt(8)))

	_, ok, err = repo.AccrueWithinCap(ctx, userID, date, decimal.NewFromInt(5), cap, resetAt)
	require.NoError(t, err)
	assert.False(t, ok, "over-cap accrual rejected")

	m, err := repo.Get(ctx, userID, date)
	require.NoError(t, err)
	assert.True(t, m.MiningAmount.Equal(decimal.NewFromInt(8)), "stored total unchanged")

	// landing exactly on the cap is allowed
	total, ok, err = repo.AccrueWithinCap(ctx, userID, date, decimal.NewFromInt(2), cap, resetAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, total.Equal(cap))
}
