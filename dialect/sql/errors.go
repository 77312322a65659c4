package sql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/syssam/fetchgraph"
)

// sqlStateError is implemented by drivers that report SQLSTATE codes
// through a method, e.g. pgx.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgLockNotAvailable    = "55P03"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
	mysqlLockNoWait             = 3572
)

// Translate wraps a relational layer failure into a *fetchgraph.SQLError
// carrying the statement, a context message and the driver's SQLSTATE.
// A nil err returns nil.
func Translate(err error, context, query string) error {
	if err == nil {
		return nil
	}
	var serr *fetchgraph.SQLError
	if errors.As(err, &serr) {
		return err
	}
	return fetchgraph.NewSQLError(context, query, SQLState(err), err)
}

// SQLState extracts the SQLSTATE reported by the driver. SQLite has no
// SQLSTATE; its result codes are mapped onto the closest class.
func SQLState(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if me.SQLState != [5]byte{} {
			return string(me.SQLState[:])
		}
		return "HY000"
	}
	var le *sqlite.Error
	if errors.As(err, &le) {
		return sqliteState(le.Code())
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState()
	}
	return ""
}

func sqliteState(code int) string {
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return pgUniqueViolation
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return pgForeignKeyViolation
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return pgCheckViolation
		}
		return "23000"
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return pgLockNotAvailable
	default:
		return "HY000"
	}
}

// mysqlNumber returns the MySQL error number in err's chain, or 0.
func mysqlNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == pgUniqueViolation || mysqlNumber(err) == mysqlDuplicateEntry {
		return true
	}
	return containsAny(err.Error(),
		"Error 1062",
		"violates unique constraint",
		"UNIQUE constraint failed",
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if n := mysqlNumber(err); n == mysqlForeignKeyParent || n == mysqlForeignKeyChild {
		return true
	}
	if SQLState(err) == pgForeignKeyViolation {
		return true
	}
	return containsAny(err.Error(),
		"violates foreign key constraint",
		"FOREIGN KEY constraint failed",
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if SQLState(err) == pgCheckViolation || mysqlNumber(err) == mysqlCheckConstraintViolate {
		return true
	}
	return containsAny(err.Error(),
		"violates check constraint",
		"CHECK constraint failed",
	)
}

// IsLockError reports whether the error means a row lock could not be
// acquired: a NOWAIT failure, a lock wait timeout or a deadlock.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	switch SQLState(err) {
	case pgLockNotAvailable, pgDeadlock, pgSerialization:
		return true
	}
	switch mysqlNumber(err) {
	case mysqlLockWaitTimeout, mysqlDeadlock, mysqlLockNoWait:
		return true
	}
	return containsAny(err.Error(),
		"could not obtain lock",
		"database is locked",
	)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// errorCode formats a numeric driver code for log attributes.
func errorCode(err error) string {
	if n := mysqlNumber(err); n != 0 {
		return strconv.Itoa(int(n))
	}
	return SQLState(err)
}
