// Package mysql opens the relational kv store on MySQL or MariaDB. Expiry is stored as
// unix milliseconds and keys compare byte for byte. Deadlocks and lock wait timeouts
// surface as kv.ErrConflict.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/store/sqlstore"
)

const Name = "mysql"

const (
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultConnMaxLifetime = 30 * time.Minute
	defaultMaxIdleConns    = 5
	defaultMaxOpenConns    = 25
)

// Server error numbers.
const (
	lockWaitTimeout = 1205
	lockDeadlock    = 1213
)

//go:embed migrations/*.sql
var migrations embed.FS

type Options struct {
	DSN          string // user:pass@tcp(host:3306)/db
	MaxOpenConns int
	MaxIdleConns int
	Migrate      bool             // apply embedded migrations before returning
	Now          func() time.Time // nil = time.Now
}

// Dialect runs transactions at SERIALIZABLE, where plain reads take shared locks and a
// racing writer deadlocks instead of overwriting.
var Dialect = sqlstore.Dialect{
	Name:      Name,
	Syntax:    sqlstore.SyntaxMySQL,
	Time:      func(t time.Time) any { return t.UnixMilli() },
	Classify:  classify,
	TxOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
}

// Open prepares the pool without contacting the server unless Migrate is set.
func Open(_ context.Context, opts Options) (*sqlstore.Store, error) {
	const op = "mysql.Open"

	cfg, err := parseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if opts.Migrate {
		if err := Migrate(opts.DSN); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	connector, err := mysqldrv.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}
	db := sqlx.NewDb(sql.OpenDB(connector), "mysql")

	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	var storeOpts []sqlstore.Option
	if opts.Now != nil {
		storeOpts = append(storeOpts, sqlstore.WithClock(opts.Now))
	}
	return sqlstore.New(db, Dialect, storeOpts...), nil
}

// Migrate brings the schema up to date. It opens its own connection and closes it.
func Migrate(dsn string) error {
	target, err := migrateURL(dsn)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func parseDSN(dsn string) (*mysqldrv.Config, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, errors.New("dsn must name a database")
	}
	return cfg, nil
}

// migrateURL points golang-migrate at its mysql driver. The schema file holds more than
// one statement.
func migrateURL(dsn string) (string, error) {
	cfg, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.MultiStatements = true
	return "mysql://" + cfg.FormatDSN(), nil
}

func classify(err error) error {
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case lockDeadlock, lockWaitTimeout:
			return kv.ErrConflict
		}
		return nil
	}
	if errors.Is(err, mysqldrv.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return kv.ErrUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return kv.ErrUnavailable
	}
	return nil
}
