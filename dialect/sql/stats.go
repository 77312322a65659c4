package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/fetchgraph/dialect"
)

// QueryStats counts the statements run through a StatsDriver.
type QueryStats struct {
	statements atomic.Int64
	rows       atomic.Int64
	duration   atomic.Int64
	slow       atomic.Int64
	errors     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of QueryStats.
type StatsSnapshot struct {
	// Statements is the number of statements run.
	Statements int64
	// Rows is the number of result rows read by the callers.
	Rows int64
	// Duration is the time spent until the statements returned their
	// first rows.
	Duration time.Duration
	// Slow is the number of statements slower than the threshold.
	Slow   int64
	Errors int64
}

// Snapshot returns the current statistics.
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Statements: s.statements.Load(),
		Rows:       s.rows.Load(),
		Duration:   time.Duration(s.duration.Load()),
		Slow:       s.slow.Load(),
		Errors:     s.errors.Load(),
	}
}

// Reset sets every counter to zero.
func (s *QueryStats) Reset() {
	s.statements.Store(0)
	s.rows.Store(0)
	s.duration.Store(0)
	s.slow.Store(0)
	s.errors.Store(0)
}

// AvgDuration returns the mean statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if s.Statements == 0 {
		return 0
	}
	return s.Duration / time.Duration(s.Statements)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("statements=%d rows=%d duration=%s avg=%s slow=%d errors=%d",
		s.Statements, s.Rows, s.Duration, s.AvgDuration(), s.Slow, s.Errors)
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, d time.Duration)

// StatsDriver is a dialect.Driver that records QueryStats for the
// statements of the driver and of its transactions.
type StatsDriver struct {
	dialect.Driver
	stats     *QueryStats
	threshold time.Duration
	hook      SlowQueryHook
	log       *slog.Logger
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the function called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level and failed ones at
// debug level.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	return func(s *StatsDriver) {
		s.log = l
		s.hook = func(ctx context.Context, query string, args []any, d time.Duration) {
			l.WarnContext(ctx, "slow query detected", "duration", d, "query", query, "args", args)
		}
	}
}

// NewStatsDriver wraps drv.
//
//	drv := sql.NewStatsDriver(base,
//		sql.WithSlowThreshold(200*time.Millisecond),
//		sql.WithSlowQueryLog(slog.Default()),
//	)
//	...
//	fmt.Println(drv.QueryStats().Snapshot())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:    drv,
		stats:     &QueryStats{},
		threshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the recorded statistics.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// Query runs the statement through the wrapped driver.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.query(ctx, d.Driver, query, args, v)
}

// Tx starts a transaction whose statements are recorded too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, drv: d}, nil
}

func (d *StatsDriver) query(ctx context.Context, q dialect.Querier, query string, args, v any) error {
	start := time.Now()
	err := q.Query(ctx, query, args, v)
	elapsed := time.Since(start)
	d.stats.statements.Add(1)
	d.stats.duration.Add(int64(elapsed))
	if err != nil {
		d.stats.errors.Add(1)
		if d.log != nil {
			d.log.DebugContext(ctx, "statement failed", "query", query, "code", errorCode(err), "error", err)
		}
	} else if rows, ok := v.(*Rows); ok {
		rows.ColumnScanner = &countingRows{ColumnScanner: rows.ColumnScanner, n: &d.stats.rows}
	}
	if elapsed > d.threshold {
		d.stats.slow.Add(1)
		if d.hook != nil {
			argv, _ := args.([]any)
			d.hook(ctx, query, argv, elapsed)
		}
	}
	return err
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.query(ctx, tx.Tx, query, args, v)
}

// countingRows adds every row read to n.
type countingRows struct {
	ColumnScanner
	n *atomic.Int64
}

func (r *countingRows) Next() bool {
	if !r.ColumnScanner.Next() {
		return false
	}
	r.n.Add(1)
	return true
}

// DebugDriver is a dialect.Driver logging every statement at debug level.
type DebugDriver struct {
	dialect.Driver
	log *slog.Logger
}

// NewDebugDriver wraps drv. A nil logger logs to slog.Default().
func NewDebugDriver(drv dialect.Driver, l *slog.Logger) *DebugDriver {
	if l == nil {
		l = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: l}
}

// Query logs and runs the statement.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Tx starts a transaction whose statements are logged too.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	d.log.DebugContext(ctx, "begin transaction")
	return &debugTx{Tx: tx, log: d.log}, nil
}

type debugTx struct {
	dialect.Tx
	log *slog.Logger
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.log.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	tx.log.Debug("commit transaction")
	return tx.Tx.Commit()
}

func (tx *debugTx) Rollback() error {
	tx.log.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
)
