// Package postgres implements the repository contracts on PostgreSQL through a pgx pool. Stock
// rows are locked with SELECT ... FOR UPDATE and one order per gateway order id is enforced by a
// UNIQUE constraint.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/config"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Connect opens and pings a pool sized from configuration.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = 1
	poolCfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies embedded migrations in file-name order, recording each in schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var applied bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		body, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("postgres: apply migration %s: %w", name, err)
		}
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// db hands out the ambient transaction or the pool.
type db struct {
	pool *pgxpool.Pool
}

func (d db) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return d.pool
}

// forUpdate locks the selected rows when a transaction is open.
func (d db) forUpdate(ctx context.Context, query string) string {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return query + ` FOR UPDATE`
	}
	return query
}

// inTx runs fn in the ambient transaction or a fresh one.
func (d db) inTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return fn(ctx, tx)
	}
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	})
}

// Registry implements repositories.Registry on a pgx pool.
type Registry struct {
	db     db
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps an open pool.
func NewRegistry(pool *pgxpool.Pool, health repositories.HealthRepository) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry requires pool")
	}
	return &Registry{db: db{pool: pool}, health: health}, nil
}

func (r *Registry) Close(context.Context) error {
	r.db.pool.Close()
	return nil
}

// RunInTx opens a READ COMMITTED transaction; row locks taken by the stock ledger serialise
// competing reservations. Nested calls join the outer transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := r.db.inTx(ctx, func(ctx context.Context, _ querier) error { return fn(ctx) })
	return mapError("tx", err)
}

func (r *Registry) Drafts() repositories.DraftOrderRepository    { return draftRepo{r.db} }
func (r *Registry) Stock() repositories.StockRepository          { return stockRepo{r.db} }
func (r *Registry) Orders() repositories.OrderRepository         { return orderRepo{r.db} }
func (r *Registry) Previews() repositories.PreviewRepository     { return previewRepo{r.db} }
func (r *Registry) History() repositories.OrderHistoryRepository { return historyRepo{r.db} }
func (r *Registry) Outbox() repositories.OutboxRepository        { return outboxRepo{r.db} }
func (r *Registry) Carts() repositories.CartRepository           { return cartRepo{r.db} }
func (r *Registry) Catalog() repositories.CatalogRepository      { return catalogRepo{r.db} }
func (r *Registry) Coupons() repositories.CouponRepository       { return couponRepo{r.db} }
func (r *Registry) Addresses() repositories.AddressRepository    { return addressRepo{r.db} }
func (r *Registry) Sellers() repositories.SellerRepository       { return sellerRepo{r.db} }
func (r *Registry) Wallets() repositories.WalletRepository       { return walletRepo{r.db} }
func (r *Registry) Counters() repositories.CounterRepository     { return counterRepo{r.db} }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// Ping is used as the postgres readiness check.
func (r *Registry) Ping(ctx context.Context) error { return r.db.pool.Ping(ctx) }

// mapError converts driver errors into repository errors. Errors that already carry repository
// semantics pass through unchanged.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &repositories.StoreError{Op: op, Kind: repositories.KindNotFound, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return &repositories.StoreError{Op: op, Kind: repositories.KindConflict, Err: err}
		case pgErr.Code == "40001" || pgErr.Code == "40P01" || strings.HasPrefix(pgErr.Code, "08"):
			return repositories.Unavailable(op, err)
		}
	}
	if pgconn.SafeToRetry(err) {
		return repositories.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func marshalDoc(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode document: %w", err)
	}
	return data, nil
}

func unmarshalDoc(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("postgres: decode document: %w", err)
	}
	return nil
}
