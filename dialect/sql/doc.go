// Package sql adapts database/sql to the dialect ports used by the loaders.
//
// # Driver
//
// Driver wraps a *sql.DB and implements dialect.Driver; Tx binds the same
// Query to one transaction. Query fills a *Rows:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	rows := &sql.Rows{}
//	err = drv.Query(ctx, "select ... where order0_.id = $1", []any{7}, rows)
//
// WithStatementTimeout bounds a statement with a context deadline and, on
// Postgres and MySQL, with a server side timeout set on a pinned connection
// and reset when the rows are closed. WithServerTimeout sets only the
// server side timeout, leaving the reading of the rows unbounded.
//
// # Cursor
//
// Cursor reads a result set and addresses values by column label. A
// scrollable cursor buffers rows so it can move backwards (Previous, Last,
// Absolute), which is what logical-row scrolling over join fetches needs.
//
// # Errors
//
// Translate wraps driver failures into *fetchgraph.SQLError with the
// statement text and SQLSTATE. IsLockError and the constraint helpers
// classify driver errors from lib/pq, go-sql-driver/mysql and
// modernc.org/sqlite.
//
// # Statistics
//
// StatsDriver counts statements, the rows read from them and slow ones.
// DebugDriver logs every statement through log/slog.
package sql
