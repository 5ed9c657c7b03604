package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/normalize"
	"github.com/treadline-ai/treadline/internal/observability"
)

// sqliteDriverName registers a sqlite3 variant whose connections expose the
// Go normalizers as SQL functions, so size and vehicle matching behave
// identically in SQL and in Go.
const sqliteDriverName = "sqlite3_treadline"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("tl_norm_size", normalize.Size, true); err != nil {
				return err
			}
			return conn.RegisterFunc("tl_norm_vehicle", normalize.Vehicle, true)
		},
	})
}

// Warehouse queries the tyre-score table for ranked candidate rows. It
// supports sqlite for local runs and postgres for deployments; ordering
// (TyreScore ascending, Units descending) is applied by the query so row
// order out of the warehouse is candidate priority.
type Warehouse struct {
	db     *sql.DB
	driver string
	table  string
	limit  int
	logger *observability.Logger
}

// OpenWarehouse opens the configured warehouse and verifies connectivity.
func OpenWarehouse(cfg config.WarehouseConfig, logger *observability.Logger) (*Warehouse, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		db, err = sql.Open(sqliteDriverName, cfg.SQLite.Path)
		if err == nil {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err == nil {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	default:
		return nil, fmt.Errorf("unsupported warehouse driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("warehouse ping failed: %w", err)
	}

	return &Warehouse{
		db:     db,
		driver: cfg.Driver,
		table:  cfg.Table,
		limit:  cfg.QueryLimit,
		logger: logger,
	}, nil
}

// FetchBySize returns candidate rows whose normalized size contains the
// normalized input, optionally restricted to one normalized vehicle.
func (w *Warehouse) FetchBySize(ctx context.Context, size, vehicle string) ([]CandidateRow, error) {
	sizeNorm := normalize.Size(size)
	if sizeNorm == "" {
		return nil, nil
	}
	vehicleNorm := normalize.Vehicle(vehicle)

	var query strings.Builder
	args := []any{"%" + sizeNorm + "%"}

	fmt.Fprintf(&query, "SELECT %s FROM %s WHERE %s LIKE %s",
		selectColumns, w.table, w.sizeExpr(), w.placeholder(1))
	if vehicleNorm != "" {
		fmt.Fprintf(&query, " AND %s = %s", w.vehicleExpr(), w.placeholder(2))
		args = append(args, vehicleNorm)
	}
	fmt.Fprintf(&query, " ORDER BY TyreScore ASC, Units DESC LIMIT %d", w.limit)

	return w.query(ctx, query.String(), args...)
}

// FetchBySizes returns candidate rows for a set of already-normalized
// sizes in one query. No limit is applied; callers group the rows per
// size themselves.
func (w *Warehouse) FetchBySizes(ctx context.Context, sizeNorms []string) ([]CandidateRow, error) {
	if len(sizeNorms) == 0 {
		return nil, nil
	}

	var (
		query strings.Builder
		args  []any
	)

	fmt.Fprintf(&query, "SELECT %s FROM %s WHERE %s ", selectColumns, w.table, w.sizeExpr())
	if w.driver == "postgres" {
		query.WriteString("= ANY($1)")
		args = append(args, pq.Array(sizeNorms))
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sizeNorms)), ",")
		fmt.Fprintf(&query, "IN (%s)", placeholders)
		for _, s := range sizeNorms {
			args = append(args, s)
		}
	}
	query.WriteString(" ORDER BY TyreScore ASC, Units DESC")

	return w.query(ctx, query.String(), args...)
}

func (w *Warehouse) query(ctx context.Context, query string, args ...any) ([]CandidateRow, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	var candidates []CandidateRow
	for rows.Next() {
		row, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("warehouse scan: %w", err)
		}
		candidates = append(candidates, row)
	}
	return candidates, rows.Err()
}

// Close closes the underlying connection pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) sizeExpr() string {
	if w.driver == "postgres" {
		return "LOWER(REPLACE(SIZE, ' ', ''))"
	}
	return "tl_norm_size(SIZE)"
}

func (w *Warehouse) vehicleExpr() string {
	if w.driver == "postgres" {
		return "LOWER(REGEXP_REPLACE(Vehicle, '[^a-zA-Z0-9]', '', 'g'))"
	}
	return "tl_norm_vehicle(Vehicle)"
}

func (w *Warehouse) placeholder(i int) string {
	if w.driver == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
