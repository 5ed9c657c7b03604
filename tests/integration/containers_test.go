// Package integration exercises the catalog warehouse and cache against
// real PostgreSQL and Redis containers.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"

	_ "github.com/lib/pq"
)

// warehouseSchema mirrors the production tyre-score table. Identifiers
// stay unquoted so they fold to lowercase, matching the warehouse
// queries; score and units are numeric so ranking sorts numerically.
const warehouseSchema = `CREATE TABLE tyre_scores (
	TyreScore NUMERIC,
	ProductId TEXT,
	GRADE TEXT,
	BRAND TEXT,
	Model TEXT,
	WET_GRIP TEXT,
	FUEL TEXT,
	NOISE_REDUCTION TEXT,
	SEASONAL_PERFORMANCE TEXT,
	OE TEXT,
	AWARD_SCORE TEXT,
	RunflatStatus TEXT,
	Segment TEXT,
	PRICE_pct TEXT,
	GRADE_pct TEXT,
	FUEL_pct TEXT,
	WET_GRIP_pct TEXT,
	AWARD_SCORE_pct TEXT,
	Vehicle TEXT,
	SIZE TEXT,
	PRICE TEXT,
	OFFER TEXT,
	PRICEFLUCTUATION TEXT,
	Orders TEXT,
	Units INTEGER,
	GoldilocksZone TEXT,
	PremiumShare TEXT,
	MidRangeShare TEXT,
	BudgetShare TEXT,
	RunflatShare TEXT,
	SalesStatus TEXT,
	PRODUCTLISTVIEWS TEXT,
	CLICKSTREAMRATE TEXT
)`

// skipUnlessDocker skips container tests in short mode and on machines
// without a reachable Docker daemon.
func skipUnlessDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}

// startWarehouse runs a PostgreSQL container, applies the tyre-score
// schema, and returns an open connection plus the DSN for OpenWarehouse.
func startWarehouse(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("treadline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/treadline_test?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	waitForDB(t, db)

	_, err = db.Exec(warehouseSchema)
	require.NoError(t, err)

	return db, dsn
}

// startRedis runs a Redis container and returns its address.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func waitForDB(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		if err := db.PingContext(ctx); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("database not ready after 30 seconds")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// seedRow carries the columns the integration fixtures care about; the
// rest stay NULL to prove NULL-tolerant scanning against a real driver.
type seedRow struct {
	score   float64
	product string
	brand   string
	model   string
	vehicle string
	size    string
	price   string
	units   int
}

func seedWarehouse(t *testing.T, db *sql.DB, rows []seedRow) {
	t.Helper()
	for _, r := range rows {
		_, err := db.Exec(
			`INSERT INTO tyre_scores (TyreScore, ProductId, BRAND, Model, Vehicle, SIZE, PRICE, Units)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.score, r.product, r.brand, r.model, r.vehicle, r.size, r.price, r.units,
		)
		require.NoError(t, err)
	}
}

// rankedRows builds n candidate rows for one vehicle/size pair with
// ascending scores, so warehouse rank order equals product ID order.
func rankedRows(vehicle, size string, firstID, n int) []seedRow {
	rows := make([]seedRow, n)
	for i := range rows {
		rows[i] = seedRow{
			score:   float64(i + 1),
			product: fmt.Sprintf("%07d", firstID+i),
			brand:   "Aurora",
			model:   fmt.Sprintf("Trail %d", i+1),
			vehicle: vehicle,
			size:    size,
			price:   "89.99",
			units:   1000 - i,
		}
	}
	return rows
}

func warehouseConfig(dsn string, limit int) config.WarehouseConfig {
	return config.WarehouseConfig{
		Driver:     "postgres",
		Table:      "tyre_scores",
		QueryLimit: limit,
		Postgres: config.PostgresConfig{
			DSN:             dsn,
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		},
	}
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       "error",
		Format:      "console",
		Output:      io.Discard,
		ServiceName: "integration-test",
	})
}
