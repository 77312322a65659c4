package dialect

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/fetchgraph"
)

// Dialect names for external usage.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Querier runs statements that return rows. The result is stored in v,
// which is a *dialect/sql.Rows for SQL drivers.
type Querier interface {
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the connection the loaders read through.
type Driver interface {
	Querier
	// Tx starts a transaction. Pessimistic locks taken by statements run
	// in it are held until it ends.
	Tx(context.Context) (Tx, error)
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a Querier bound to one transaction.
type Tx interface {
	Querier
	driver.Tx
}

// Dialect supplies the SQL syntax that differs between databases:
// row limiting, pessimistic lock clauses and bind placeholders.
type Dialect interface {
	// Name returns the dialect name.
	Name() string
	// SupportsLimit reports whether the database has a LIMIT clause at all.
	SupportsLimit() bool
	// SupportsLimitOffset reports whether the LIMIT clause can skip rows.
	SupportsLimitOffset() bool
	// BindLimitParametersFirst reports whether limit parameters precede
	// the statement parameters.
	BindLimitParametersFirst() bool
	// BindLimitParametersInReverseOrder reports whether the row count is
	// bound before the offset.
	BindLimitParametersInReverseOrder() bool
	// UseMaxForLimit reports whether the limit parameter is the last row
	// number instead of a row count.
	UseMaxForLimit() bool
	// LimitString appends the limit clause to query.
	LimitString(query string, hasOffset bool) string
	// ConvertToFirstRowValue converts a zero based first result to the
	// value bound for the offset.
	ConvertToFirstRowValue(first int) int
	// ForUpdateString returns the clause appended to a statement to acquire
	// mode on the rows of the given aliases. It is empty when the mode
	// needs no database lock or the database has no such clause.
	ForUpdateString(mode fetchgraph.LockMode, aliases []string) string
	// AppendLockHint returns the table reference carrying a table-level
	// lock hint, for databases that lock through hints instead of clauses.
	AppendLockHint(mode fetchgraph.LockMode, table string) string
	// Rebind rewrites '?' placeholders into the database's bind syntax.
	Rebind(query string) string
}

// Get returns the dialect registered under name.
func Get(name string) (Dialect, error) {
	switch name {
	case Postgres:
		return postgres{}, nil
	case MySQL:
		return mysql{}, nil
	case SQLite:
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported dialect %q", name)
	}
}

type postgres struct{}

func (postgres) Name() string                            { return Postgres }
func (postgres) SupportsLimit() bool                     { return true }
func (postgres) SupportsLimitOffset() bool               { return true }
func (postgres) BindLimitParametersFirst() bool          { return false }
func (postgres) BindLimitParametersInReverseOrder() bool { return true }
func (postgres) UseMaxForLimit() bool                    { return false }
func (postgres) ConvertToFirstRowValue(first int) int    { return first }

func (postgres) LimitString(query string, hasOffset bool) string {
	if hasOffset {
		return query + " limit ? offset ?"
	}
	return query + " limit ?"
}

func (postgres) ForUpdateString(mode fetchgraph.LockMode, aliases []string) string {
	var of string
	if len(aliases) > 0 {
		of = " of " + strings.Join(aliases, ", ")
	}
	switch mode {
	case fetchgraph.LockPessimisticRead:
		return " for share" + of
	case fetchgraph.LockUpgrade, fetchgraph.LockWrite, fetchgraph.LockForce:
		return " for update" + of
	case fetchgraph.LockUpgradeNoWait:
		return " for update" + of + " nowait"
	case fetchgraph.LockUpgradeSkipLocked:
		return " for update" + of + " skip locked"
	default:
		return ""
	}
}

func (postgres) AppendLockHint(_ fetchgraph.LockMode, table string) string { return table }

// Rebind replaces '?' with '$1', '$2', ... outside of quoted literals.
func (postgres) Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var (
		b      strings.Builder
		n      int
		quoted byte
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quoted != 0:
			if c == quoted {
				quoted = 0
			}
		case c == '\'' || c == '"':
			quoted = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

type mysql struct{}

func (mysql) Name() string                            { return MySQL }
func (mysql) SupportsLimit() bool                     { return true }
func (mysql) SupportsLimitOffset() bool               { return true }
func (mysql) BindLimitParametersFirst() bool          { return false }
func (mysql) BindLimitParametersInReverseOrder() bool { return false }
func (mysql) UseMaxForLimit() bool                    { return false }
func (mysql) ConvertToFirstRowValue(first int) int    { return first }
func (mysql) Rebind(query string) string              { return query }

func (mysql) LimitString(query string, hasOffset bool) string {
	if hasOffset {
		return query + " limit ?, ?"
	}
	return query + " limit ?"
}

// ForUpdateString ignores aliases: MySQL locks every row read by the statement.
func (mysql) ForUpdateString(mode fetchgraph.LockMode, _ []string) string {
	switch mode {
	case fetchgraph.LockPessimisticRead:
		return " lock in share mode"
	case fetchgraph.LockUpgrade, fetchgraph.LockWrite, fetchgraph.LockForce:
		return " for update"
	case fetchgraph.LockUpgradeNoWait:
		return " for update nowait"
	case fetchgraph.LockUpgradeSkipLocked:
		return " for update skip locked"
	default:
		return ""
	}
}

func (mysql) AppendLockHint(_ fetchgraph.LockMode, table string) string { return table }

// sqlite serializes writers at the database level and has no row locks.
type sqlite struct{}

func (sqlite) Name() string                            { return SQLite }
func (sqlite) SupportsLimit() bool                     { return true }
func (sqlite) SupportsLimitOffset() bool               { return true }
func (sqlite) BindLimitParametersFirst() bool          { return false }
func (sqlite) BindLimitParametersInReverseOrder() bool { return true }
func (sqlite) UseMaxForLimit() bool                    { return false }
func (sqlite) ConvertToFirstRowValue(first int) int    { return first }
func (sqlite) Rebind(query string) string              { return query }

func (sqlite) LimitString(query string, hasOffset bool) string {
	if hasOffset {
		return query + " limit ? offset ?"
	}
	return query + " limit ?"
}

func (sqlite) ForUpdateString(fetchgraph.LockMode, []string) string { return "" }

func (sqlite) AppendLockHint(_ fetchgraph.LockMode, table string) string { return table }
