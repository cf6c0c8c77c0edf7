package persist

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/shijimago/shijima/internal/config"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// DB is the session store. Postgres goes through a pgx pool bridged to
// database/sql; sqlite uses the pure-Go driver with a single connection.
type DB struct {
	SQL     *sql.DB
	Pool    *pgxpool.Pool // nil for sqlite
	Dialect string
	log     *zap.Logger
}

func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	switch cfg.Driver {
	case "postgres":
		return openPostgres(ctx, cfg, log)
	case "sqlite":
		return openSQLite(ctx, cfg, log)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{SQL: stdlib.OpenDBFromPool(pool), Pool: pool, Dialect: DialectPostgres, log: log}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return &DB{SQL: db, Dialect: DialectSQLite, log: log}, nil
}

func (db *DB) Close() {
	_ = db.SQL.Close()
	if db.Pool != nil {
		db.Pool.Close()
	}
}

var placeholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $n placeholders for sqlite. Queries list their
// placeholders in argument order.
func (db *DB) rebind(query string) string {
	if db.Dialect != DialectSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}
