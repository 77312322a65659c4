// Package fetchgraph loads graphs of mapped entities from a relational
// database with as few statements as the mapping allows.
//
// The root package holds what every layer shares: the error types
// (NotFoundError, WrongClassError, StaleStateError, SQLError, ...), lock
// modes and LockOptions, the engine Config with its functional options and
// YAML loader, and the Cache port used by the query cache.
//
// The engine itself is split into packages:
//
//   - mapping: entity and collection metadata, filters and fetch profiles
//   - dialect/sql/sqlgraph: association walker and statement assembler
//   - session: persistence context and loading contexts
//   - loader: entity, collection and query loaders, scrollable results
//   - cache/lru, cache/redis: Cache implementations
//
// A typical setup:
//
//	cfg, err := fetchgraph.LoadConfig("fetchgraph.yaml")
//	if err != nil {
//		return err
//	}
//	drv, err := sql.Open(cfg.Dialect, dsn)
//	if err != nil {
//		return err
//	}
//	f, err := loader.NewFactory(reg, drv, loader.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	order, err := f.LoadEntity(ctx, session.New(), "Order", 7)
package fetchgraph
