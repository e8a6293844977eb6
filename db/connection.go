package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database
const SQLiteBusyTimeoutMS = 5000

// DB is an open, dialect-aware connection. Stores receive the embedded
// *sql.DB plus the Dialect so queries can be written once.
type DB struct {
	*sql.DB
	Dialect Dialect

	pool *pgxpool.Pool
}

// Close closes the database/sql handle and, for postgres, the pgx pool behind it.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// Connect opens the configured backend and applies pending migrations.
func Connect(ctx context.Context, cfg am.DatabaseConfig, logger *zap.SugaredLogger) (*DB, error) {
	var database *DB

	switch cfg.Driver {
	case am.DriverPostgres:
		pg, err := OpenPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		database = pg
	case am.DriverSQLite, "":
		conn, err := Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		database = &DB{DB: conn, Dialect: DialectSQLite}
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver)
	}

	if err := Migrate(database.DB, database.Dialect, logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return database, nil
}

// Open opens a SQLite database at the specified path with WAL, foreign keys
// and a busy timeout. A nil logger operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "driver", "sqlite", "path", path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to %s", p.what)
		}
	}

	if logger != nil {
		logger.Infow("Database opened", "driver", "sqlite", "path", path, "wal_mode", true)
	}

	return db, nil
}

// OpenPostgres opens a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse postgres dsn")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to reach postgres"),
			"check database.dsn or DATABASE_URL",
		)
	}

	if logger != nil {
		logger.Infow("Database opened", "driver", "postgres", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	}

	return &DB{DB: stdlib.OpenDBFromPool(pool), Dialect: DialectPostgres, pool: pool}, nil
}
