package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-marketdata/internal/db"
	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/kjannette/trahn-marketdata/internal/repository"
	"github.com/kjannette/trahn-marketdata/internal/testutil"
)

// backends runs fn against SQLite and, when TEST_DATABASE_URL is set,
// against Postgres.
func backends(t *testing.T, fn func(t *testing.T, h *db.Handle)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testutil.SetupSQLite(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, testutil.SetupPostgres(t)) })
}

func f(v float64) *float64 { return &v }

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func batch() ([]models.Asset, []models.PricePoint) {
	assets := []models.Asset{
		{Symbol: "BTC", Name: "Bitcoin", Source: "coingecko", SourceID: "bitcoin"},
		{Symbol: "ETH", Name: "Ethereum", Source: "coingecko", SourceID: "ethereum"},
	}
	prices := []models.PricePoint{
		{Symbol: "BTC", Date: date("2024-06-01"), Price: 67491.41523188, MarketCap: f(1329990251207.55), Volume: f(22412004186.77)},
		{Symbol: "BTC", Date: date("2024-06-02"), Price: 67760.75868009, MarketCap: nil, Volume: f(10463564524.78)},
		{Symbol: "ETH", Date: date("2024-06-01"), Price: 3762.1, MarketCap: f(452000000000), Volume: nil},
	}
	return assets, prices
}

// ---------- BatchRepo ----------

func TestUpsertBatch_Idempotent(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()
		assets, prices := batch()

		first, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.NoError(t, err)
		assert.Equal(t, models.LoadCounts{AssetsUpserted: 2, PricesUpserted: 3, AssetsChanged: 2, PricesChanged: 3}, first)

		before, err := store.Prices.Series(ctx, "BTC")
		require.NoError(t, err)

		second, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.NoError(t, err)
		assert.Equal(t, 2, second.AssetsUpserted)
		assert.Equal(t, 3, second.PricesUpserted)
		assert.Zero(t, second.AssetsChanged, "identical replay must not change assets")
		assert.Zero(t, second.PricesChanged, "identical replay must not change prices")

		after, err := store.Prices.Series(ctx, "BTC")
		require.NoError(t, err)
		assert.Equal(t, before, after)

		n, err := store.Prices.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestUpsertBatch_LatestFetchWinsWithoutDuplicates(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()
		assets, prices := batch()
		_, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.NoError(t, err)

		update := []models.PricePoint{
			{Symbol: "BTC", Date: date("2024-06-02"), Price: 68000, MarketCap: f(1.3e12)},
			{Symbol: "BTC", Date: date("2024-06-03"), Price: 68804.81263516},
		}
		counts, err := store.Batches.UpsertBatch(ctx, assets[:1], update)
		require.NoError(t, err)
		assert.Equal(t, 2, counts.PricesChanged)
		assert.Zero(t, counts.AssetsChanged)

		series, err := store.Prices.Series(ctx, "btc")
		require.NoError(t, err)
		require.Len(t, series, 3)
		assert.InDelta(t, 68000, series[1].Price, 1e-9)
		require.NotNil(t, series[1].MarketCap)
		assert.Nil(t, series[1].Volume)
		assert.Equal(t, "2024-06-03", models.FormatDate(series[2].Date))
	})
}

func TestUpsertBatch_ConstraintViolationRollsBack(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()
		assets, prices := batch()
		prices = append(prices, models.PricePoint{Symbol: "ETH", Date: date("2024-06-02"), Price: 0})

		_, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.Error(t, err)

		list, err := store.Assets.List(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, list, "assets from a failed batch must not be visible")
		n, err := store.Prices.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestUpsertBatch_UnknownAssetFails(t *testing.T) {
	store := repository.New(testutil.SetupSQLite(t))
	_, err := store.Batches.UpsertBatch(context.Background(), nil,
		[]models.PricePoint{{Symbol: "DOGE", Date: date("2024-06-01"), Price: 0.1}})
	require.Error(t, err)
}

func TestUpsertBatch_OversizedChunkIsCapped(t *testing.T) {
	store := repository.New(testutil.SetupSQLite(t))
	store.Batches.SetChunkSize(1_000_000)

	n := repository.MaxChunkSize + 500
	prices := make([]models.PricePoint, n)
	for i := range prices {
		prices[i] = models.PricePoint{Symbol: "BTC", Date: date("2000-01-01").AddDate(0, 0, i), Price: 100 + float64(i)}
	}
	counts, err := store.Batches.UpsertBatch(context.Background(),
		[]models.Asset{{Symbol: "BTC", Name: "Bitcoin", Source: "coingecko", SourceID: "bitcoin"}}, prices)
	require.NoError(t, err)
	assert.Equal(t, n, counts.PricesUpserted)

	total, err := store.Prices.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, total)
}

func TestUpsertBatch_Chunked(t *testing.T) {
	store := repository.New(testutil.SetupSQLite(t))
	store.Batches.SetChunkSize(2)
	ctx := context.Background()

	var prices []models.PricePoint
	for i := 0; i < 5; i++ {
		prices = append(prices, models.PricePoint{Symbol: "SOL", Date: date("2024-06-01").AddDate(0, 0, i), Price: 150 + float64(i)})
	}
	counts, err := store.Batches.UpsertBatch(ctx,
		[]models.Asset{{Symbol: "SOL", Name: "Solana", Source: "coingecko", SourceID: "solana"}}, prices)
	require.NoError(t, err)
	assert.Equal(t, 5, counts.PricesUpserted)
	assert.Equal(t, 5, counts.PricesChanged)

	got, err := store.Prices.Range(ctx, "SOL", date("2024-06-02"), date("2024-06-04"), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 151, got[0].Price, 1e-9)

	limited, err := store.Prices.Range(ctx, "SOL", time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, ok, err := store.Prices.LatestDate(ctx, "SOL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-06-05", models.FormatDate(latest))
}

// ---------- AssetRepo ----------

func TestAssetRepo(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()
		assets, prices := batch()
		_, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.NoError(t, err)

		list, err := store.Assets.List(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "BTC", list[0].Symbol)

		eth, err := store.Assets.GetBySymbol(ctx, "eth")
		require.NoError(t, err)
		require.NotNil(t, eth)
		assert.Equal(t, "ethereum", eth.SourceID)
		assert.False(t, eth.UpdatedAt.IsZero())

		missing, err := store.Assets.GetBySymbol(ctx, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, ok, err := store.Prices.LatestDate(ctx, "NOPE")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// ---------- RunRepo ----------

func TestRunRepo_FinalizeExactlyOnce(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()

		run := &models.EtlRun{ID: "run-1", StartedAt: time.Now().UTC(), Status: models.RunPending}
		require.NoError(t, store.Runs.Create(ctx, run))

		pending, err := store.Runs.Get(ctx, "run-1")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, models.RunPending, pending.Status)
		assert.Nil(t, pending.FinishedAt)

		done := time.Now().UTC()
		run.FinishedAt = &done
		run.Status = models.RunPartial
		run.AssetsLoaded, run.PricesLoaded, run.AssetsSkipped = 2, 58, 1
		run.Error = "SOL: permanent: HTTP 404"
		require.NoError(t, store.Runs.Finalize(ctx, run))

		run.Status = models.RunSuccess
		err = store.Runs.Finalize(ctx, run)
		assert.True(t, errors.Is(err, repository.ErrRunFinalized), "second finalize must fail, got %v", err)

		got, err := store.Runs.Get(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, models.RunPartial, got.Status)
		require.NotNil(t, got.FinishedAt)
		assert.Equal(t, 58, got.PricesLoaded)
		assert.Equal(t, 1, got.AssetsSkipped)
		assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Millisecond)

		second := &models.EtlRun{ID: "run-2", StartedAt: run.StartedAt.Add(time.Second), Status: models.RunPending}
		require.NoError(t, store.Runs.Create(ctx, second))
		list, err := store.Runs.List(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "run-2", list[0].ID)

		none, err := store.Runs.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

// ---------- MetricsRepo ----------

func TestMetricsRepo(t *testing.T) {
	backends(t, func(t *testing.T, h *db.Handle) {
		store := repository.New(h)
		ctx := context.Background()
		assets, prices := batch()
		_, err := store.Batches.UpsertBatch(ctx, assets, prices)
		require.NoError(t, err)
		btc, err := store.Assets.GetBySymbol(ctx, "BTC")
		require.NoError(t, err)

		points := []models.MetricPoint{
			{AssetID: btc.ID, Symbol: "BTC", Date: date("2024-06-01"), Window: 30},
			{AssetID: btc.ID, Symbol: "BTC", Date: date("2024-06-02"), Window: 30, DailyReturn: f(0.004)},
		}
		changed, err := store.Metrics.Upsert(ctx, points)
		require.NoError(t, err)
		assert.Equal(t, 2, changed)

		changed, err = store.Metrics.Upsert(ctx, points)
		require.NoError(t, err)
		assert.Zero(t, changed)

		got, err := store.Metrics.List(ctx, "BTC", 30, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Nil(t, got[0].DailyReturn)
		require.NotNil(t, got[1].DailyReturn)
		assert.InDelta(t, 0.004, *got[1].DailyReturn, 1e-12)
		assert.Nil(t, got[1].Volatility)

		_, err = store.Metrics.Upsert(ctx, []models.MetricPoint{{Symbol: "BTC", Date: date("2024-06-03"), Window: 30}})
		require.Error(t, err, "points without asset id are rejected")
	})
}
