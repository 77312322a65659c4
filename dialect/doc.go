// Package dialect provides the database abstraction used by the fetch engine.
//
// It defines two kinds of ports. Driver, Tx and Querier describe how
// statements reach the database (implemented by dialect/sql). Dialect
// describes the SQL syntax that differs between databases: row limiting,
// pessimistic lock clauses and bind placeholders.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Usage
//
//	d, err := dialect.Get(dialect.Postgres)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	query := d.LimitString("select ... from orders order0_", true)
//	// select ... from orders order0_ limit ? offset ?
//	query += d.ForUpdateString(fetchgraph.LockUpgrade, []string{"order0_"})
//	// ... for update of order0_
//	query = d.Rebind(query)
//	// ... limit $1 offset $2 for update of order0_
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver adapter, scrollable cursor, error translation
//   - dialect/sql/sqlgraph: association walker and statement assembler
package dialect
