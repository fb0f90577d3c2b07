package sqlstore

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to MySQL through go-sql-driver or to PostgreSQL through the
// pgx stdlib driver and checks the connection.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driverName, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Driver)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", cfg.Driver)
	}
	return db, nil
}

func driverDSN(cfg Config) (string, string, error) {
	switch cfg.Driver {
	case DriverMySQL:
		mysqlCfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", "", errors.Wrap(err, "parse mysql dsn")
		}
		mysqlCfg.ParseTime = true
		mysqlCfg.MultiStatements = true
		// Guarded updates rely on matched rather than changed row counts.
		mysqlCfg.ClientFoundRows = true
		mysqlCfg.Loc = time.UTC
		return "mysql", mysqlCfg.FormatDSN(), nil
	case DriverPostgres:
		return "pgx", cfg.DSN, nil
	default:
		return "", "", errors.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}
