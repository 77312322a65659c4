package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syssam/fetchgraph/dialect"
)

// Driver is a dialect.Driver reading through a *sql.DB.
type Driver struct {
	Conn
}

// Open opens a database with database/sql and returns a Driver for it.
// The driver name of modernc.org/sqlite is "sqlite", matching dialect.SQLite.
func Open(name, source string) (*Driver, error) {
	db, err := sql.Open(name, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(name, db), nil
}

// OpenDB returns a Driver reading through db with the SQL of dialect name.
func OpenDB(name string, db *sql.DB) *Driver {
	return &Driver{Conn{db, dialectOf(name)}}
}

// dialectOf strips driver name suffixes such as "postgres-otel".
func dialectOf(name string) string {
	for _, d := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	return name
}

// DB returns the underlying *sql.DB.
func (d *Driver) DB() *sql.DB {
	return d.q.(*sql.DB)
}

// Dialect implements dialect.Driver.
func (d *Driver) Dialect() string { return d.dialect }

// Tx starts a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with opts. Read only transactions suit
// loaders that take no pessimistic lock.
func (d *Driver) BeginTx(ctx context.Context, opts *sql.TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &Tx{Conn: Conn{tx, d.dialect}, Tx: tx}, nil
}

// Close closes the database.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a dialect.Tx over a *sql.Tx.
type Tx struct {
	Conn
	*sql.Tx
}

// Query resolves the ambiguity between Conn.Query and the embedded
// *sql.Tx.
func (tx *Tx) Query(ctx context.Context, query string, args, v any) error {
	return tx.Conn.Query(ctx, query, args, v)
}

// querier is the part of *sql.DB, *sql.Conn and *sql.Tx a Conn uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn runs statements of one dialect through a database/sql handle.
type Conn struct {
	q       querier
	dialect string
}

// Query runs query with args, which must be a []any, and stores the
// result in v, which must be a *Rows.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	rows, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	q, release, err := c.withTimeout(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: statement timeout: %w", err)
	}
	rs, err := q.QueryContext(ctx, query, argv...)
	if err != nil {
		if release != nil {
			err = errors.Join(err, release())
		}
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*rows = Rows{rs}
	if release != nil {
		rows.ColumnScanner = rowsWithCloser{rs, release}
	}
	return nil
}

type timeoutKey struct{}

// WithStatementTimeout bounds the statements run with the returned context
// to d. Postgres and MySQL also enforce the bound server side, on the
// connection that runs the statement; every dialect gets a context
// deadline, which also bounds reading the rows.
func WithStatementTimeout(ctx context.Context, name string, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(WithServerTimeout(ctx, name, d), d)
}

// WithServerTimeout attaches a server side timeout of d to the statements
// run with the returned context, without a context deadline. Only Postgres
// and MySQL enforce it; for other dialects ctx is returned as is.
func WithServerTimeout(ctx context.Context, name string, d time.Duration) context.Context {
	if name == dialect.Postgres || name == dialect.MySQL {
		return context.WithValue(ctx, timeoutKey{}, d)
	}
	return ctx
}

// StatementTimeout returns the server side timeout attached to ctx.
func StatementTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(timeoutKey{}).(time.Duration)
	return d, ok
}

// timeoutStatements returns the statements setting and resetting a server
// side timeout of ms milliseconds.
func timeoutStatements(name string, ms int64) (set, reset string) {
	switch name {
	case dialect.Postgres:
		return fmt.Sprintf("set statement_timeout = %d", ms), "reset statement_timeout"
	case dialect.MySQL:
		return fmt.Sprintf("set session max_execution_time = %d", ms), "set session max_execution_time = default"
	}
	return "", ""
}

// withTimeout applies the statement timeout of ctx. On a pooled *sql.DB it
// pins one connection; the returned release resets the timeout and hands
// the connection back once the rows are closed.
func (c Conn) withTimeout(ctx context.Context) (querier, func() error, error) {
	d, ok := StatementTimeout(ctx)
	if !ok {
		return c.q, nil, nil
	}
	set, reset := timeoutStatements(c.dialect, d.Milliseconds())
	if set == "" {
		return c.q, nil, nil
	}
	q, closeConn := c.q, func() error { return nil }
	if db, ok := c.q.(*sql.DB); ok {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		q, closeConn = conn, conn.Close
	}
	if _, err := q.ExecContext(ctx, set); err != nil {
		return nil, nil, errors.Join(err, closeConn())
	}
	release := func() error {
		// ctx may be done by now; the reset must still reach the connection.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.ExecContext(rctx, reset)
		return errors.Join(err, closeConn())
	}
	return q, release, nil
}

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

// Rows holds the result of a Query.
type Rows struct{ ColumnScanner }

// ColumnScanner is the part of *sql.Rows a Cursor reads.
type ColumnScanner interface {
	Close() error
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// rowsWithCloser runs closer after the rows are closed.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

func (r rowsWithCloser) Close() error {
	return errors.Join(r.ColumnScanner.Close(), r.closer())
}
