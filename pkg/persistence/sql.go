package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/logging"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

// ErrUnsupportedDriver is returned for database drivers other than sqlite3
// and postgres.
var ErrUnsupportedDriver = errors.New("unsupported persistence driver")

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const writeTimeout = 10 * time.Second

// SQLOption configures a SQLListener.
type SQLOption func(*SQLListener)

// WithSQLLogger sets the logger.
func WithSQLLogger(log *slog.Logger) SQLOption {
	return func(l *SQLListener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithTable overrides the table name.
func WithTable(name string) SQLOption {
	return func(l *SQLListener) {
		if name != "" {
			l.table = name
		}
	}
}

// SQLListener mirrors the active expectations into a database table, one row
// per expectation in store order.
type SQLListener struct {
	db     *sql.DB
	driver string
	table  string
	log    *slog.Logger
}

// OpenSQL connects to the database and creates the table if needed.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQLListener, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer keeps sqlite free of lock contention.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}

	l := &SQLListener{db: db, driver: driver, table: "expectations", log: logging.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLListener) initSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + l.table + ` (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", l.table, err)
	}
	return nil
}

// placeholder returns the n-th bind parameter for the driver.
func (l *SQLListener) placeholder(n int) string {
	if l.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// ExpectationsChanged implements expectation.Listener.
func (l *SQLListener) ExpectationsChanged(exps []*model.Expectation, cause expectation.Cause) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.Replace(ctx, exps); err != nil {
		l.log.Error("persisting expectations failed", "driver", l.driver, "error", err)
		return
	}
	l.log.Debug("expectations persisted", "driver", l.driver, "count", len(exps), "cause", cause)
}

// Replace makes the table hold exactly exps.
func (l *SQLListener) Replace(ctx context.Context, exps []*model.Expectation) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+l.table); err != nil {
		return fmt.Errorf("clear %s: %w", l.table, err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (id, position, body, updated_at) VALUES (%s, %s, %s, %s)`,
		l.table, l.placeholder(1), l.placeholder(2), l.placeholder(3), l.placeholder(4))
	now := time.Now().UTC()
	for i, exp := range exps {
		body, err := json.Marshal(exp)
		if err != nil {
			return fmt.Errorf("encode expectation %s: %w", exp.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insert, exp.ID, i, string(body), now); err != nil {
			return fmt.Errorf("insert expectation %s: %w", exp.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the stored expectations in store order.
func (l *SQLListener) Load(ctx context.Context) ([]*model.Expectation, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT body FROM `+l.table+` ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", l.table, err)
	}
	defer func() { _ = rows.Close() }()

	var exps []*model.Expectation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var exp model.Expectation
		if err := json.Unmarshal([]byte(body), &exp); err != nil {
			return nil, fmt.Errorf("decode stored expectation: %w", err)
		}
		exps = append(exps, &exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", l.table, err)
	}
	return exps, nil
}

// Close closes the database.
func (l *SQLListener) Close() error {
	return l.db.Close()
}
