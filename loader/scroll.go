package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/fetchgraph/dialect/sql"
	"github.com/syssam/fetchgraph/session"
)

// ScrollableResults iterates the roots selected by a query one logical row
// at a time. A logical row is the run of physical rows sharing one root
// key; its collections are complete when the row is returned. After every
// move a scrollable cursor is left on the first physical row of the
// current logical row.
//
// Results hold an open cursor and must be closed.
type ScrollableResults struct {
	ctx   context.Context
	x     *fetch
	cur   *sql.Cursor
	query string

	// skip and max bound the logical rows when the statement could not.
	skip, max int
	// origin is the first physical row of the first selected logical row,
	// 0 until known and -1 when no row is selected.
	origin int
	// start and end are the physical rows of the current logical row.
	start, end int
	row        int
	current    any
	afterLast  bool
	// count and lastEnd describe the last logical row once the end was
	// reached.
	count, lastEnd int
	err            error
	closed         bool
}

// Scroll runs the query of q and returns results positioned before the
// first logical row. Results scroll backwards unless forward only results
// are configured or requested by q. Once the timeout of q has passed, Next
// ends the iteration before reading another logical row.
func (f *Factory) Scroll(ctx context.Context, sess *session.Session, q Query) (*ScrollableResults, error) {
	p, err := f.plan(sess, q)
	if err != nil {
		return nil, err
	}
	if p.Walk.Entity == nil {
		return nil, errNoRoot
	}
	ctx, o := f.timeLimit(ctx, q)
	query, args, skip, max := f.selection(ctx, p, q)
	cur, err := f.execute(ctx, query, args, f.cfg.ScrollableResultSets && !q.ForwardOnly)
	if err != nil {
		return nil, err
	}
	return &ScrollableResults{
		ctx:   ctx,
		x:     newFetch(f, p, sess, cur, o),
		cur:   cur,
		query: query,
		skip:  skip,
		max:   max,
	}, nil
}

// Err returns the error that stopped the iteration, if any.
func (r *ScrollableResults) Err() error { return r.err }

// Get returns the root instance of the current logical row.
func (r *ScrollableResults) Get() any { return r.current }

// RowNumber returns the 1-based number of the current logical row, or 0
// when the results are not on a row.
func (r *ScrollableResults) RowNumber() int { return r.row }

// IsFirst reports whether the results are on the first logical row.
func (r *ScrollableResults) IsFirst() bool { return r.row == 1 }

// Next moves to the next logical row, reading all of its physical rows.
func (r *ScrollableResults) Next() bool {
	if !r.usable() || r.afterLast {
		return false
	}
	if r.max > 0 && r.row >= r.max {
		r.toAfterLast(r.row, r.end)
		return false
	}
	if r.row > 0 && r.x.opts.expired() {
		r.x.f.log.WarnContext(r.ctx, "query time limit reached; ending the scroll", "query", r.query, "rows", r.row)
		r.toAfterLast(r.row, r.end)
		return false
	}
	from := r.end + 1
	if r.end == 0 {
		if !r.locateOrigin() {
			r.toAfterLast(0, 0)
			return false
		}
		from = r.origin
	}
	row, end := r.row, r.end
	if !r.readGroup(from) {
		r.toAfterLast(row, end)
		return false
	}
	r.row = row + 1
	return true
}

// Previous moves to the previous logical row. Forward only results fail
// with sql.ErrForwardOnly.
func (r *ScrollableResults) Previous() bool {
	if !r.usable() || !r.scrollable() {
		return false
	}
	var end, row int
	switch {
	case r.afterLast:
		end, row = r.lastEnd, r.count
	case r.start > 0:
		end, row = r.start-1, r.row-1
	default:
		return false
	}
	if row < 1 || end < r.origin {
		r.toBeforeFirst()
		return false
	}
	start, ok := r.groupStart(end)
	if !ok || !r.readGroup(start) {
		r.toBeforeFirst()
		return false
	}
	r.afterLast = false
	r.row = row
	return true
}

// First moves to the first logical row.
func (r *ScrollableResults) First() bool {
	if !r.usable() {
		return false
	}
	if r.row == 1 {
		return true
	}
	if r.end > 0 || r.afterLast {
		if !r.scrollable() {
			return false
		}
		r.toBeforeFirst()
	}
	return r.Next()
}

// Last moves to the last logical row, reading the rest of the result set.
func (r *ScrollableResults) Last() bool {
	if !r.usable() || !r.scrollable() {
		return false
	}
	starts, _, ok := r.bounds()
	if !ok || len(starts) == 0 {
		r.toBeforeFirst()
		return false
	}
	if !r.readGroup(starts[len(starts)-1]) {
		return false
	}
	r.afterLast = false
	r.row = len(starts)
	return true
}

// BeforeFirst moves before the first logical row.
func (r *ScrollableResults) BeforeFirst() error {
	if !r.usable() || !r.scrollable() {
		return r.err
	}
	r.toBeforeFirst()
	return nil
}

// AfterLast moves after the last logical row.
func (r *ScrollableResults) AfterLast() error {
	if !r.usable() || !r.scrollable() {
		return r.err
	}
	starts, lastEnd, ok := r.bounds()
	if !ok {
		return r.err
	}
	r.toAfterLast(len(starts), lastEnd)
	return nil
}

// Close releases the cursor and discards collections left unfinished.
// Closing twice has no effect.
func (r *ScrollableResults) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return closeAll(nil, r.cur, r.x)
}

func (r *ScrollableResults) usable() bool {
	if r.closed && r.err == nil {
		r.err = errors.New("loader: results are closed")
	}
	return r.err == nil
}

func (r *ScrollableResults) scrollable() bool {
	if !r.cur.Scrollable() {
		r.err = fmt.Errorf("loader: scroll backwards: %w", sql.ErrForwardOnly)
		return false
	}
	return true
}

func (r *ScrollableResults) fail(err error) {
	if err != nil && r.err == nil {
		r.err = err
	}
}

// failCursor records a cursor read error.
func (r *ScrollableResults) failCursor() {
	if err := r.cur.Err(); err != nil {
		r.fail(sql.Translate(err, "could not read next row of results", r.query))
	}
}

func (r *ScrollableResults) toBeforeFirst() {
	r.start, r.end, r.row = 0, 0, 0
	r.current = nil
	r.afterLast = false
	r.cur.BeforeFirst()
}

func (r *ScrollableResults) toAfterLast(count, lastEnd int) {
	r.start, r.end, r.row = 0, 0, 0
	r.current = nil
	r.afterLast = true
	r.count, r.lastEnd = count, lastEnd
}

// locateOrigin finds the first physical row of the first selected logical
// row, stepping over skipped logical rows. It reports false when no row is
// selected.
func (r *ScrollableResults) locateOrigin() bool {
	if r.origin != 0 {
		return r.origin > 0
	}
	r.origin = -1
	var (
		key any
		n   int
	)
	for r.cur.Next() {
		k, err := r.x.rootKey(r.cur)
		if err != nil {
			r.fail(err)
			return false
		}
		if n == 0 || k != key {
			n++
			key = k
			if n > r.skip {
				r.origin = r.cur.Row()
				return true
			}
		}
	}
	r.failCursor()
	return false
}

// readGroup reads the logical row starting at physical row from, up to the
// first row with another root key, and initializes what it loaded.
func (r *ScrollableResults) readGroup(from int) bool {
	if !r.cur.Absolute(from) {
		r.failCursor()
		return false
	}
	key, err := r.x.rootKey(r.cur)
	if err != nil {
		r.fail(err)
		return false
	}
	root, err := r.x.processRow(r.cur)
	if err != nil {
		r.fail(err)
		return false
	}
	end := from
	for r.cur.Next() {
		k, err := r.x.rootKey(r.cur)
		if err != nil {
			r.fail(err)
			return false
		}
		if k != key {
			break
		}
		if _, err := r.x.processRow(r.cur); err != nil {
			r.fail(err)
			return false
		}
		end = r.cur.Row()
	}
	if r.failCursor(); r.err != nil {
		return false
	}
	if err := r.x.initialize(r.ctx); err != nil {
		r.fail(err)
		return false
	}
	r.start, r.end, r.current = from, end, root
	if r.cur.Scrollable() {
		r.cur.Absolute(from)
	}
	return true
}

// groupStart returns the first physical row of the logical row ending at
// physical row end, scanning backwards past rows of the same root.
func (r *ScrollableResults) groupStart(end int) (int, bool) {
	if !r.cur.Absolute(end) {
		r.failCursor()
		return 0, false
	}
	key, err := r.x.rootKey(r.cur)
	if err != nil {
		r.fail(err)
		return 0, false
	}
	start := end
	for start > r.origin && r.cur.Previous() {
		k, err := r.x.rootKey(r.cur)
		if err != nil {
			r.fail(err)
			return 0, false
		}
		if k != key {
			break
		}
		start--
	}
	return start, true
}

// bounds walks the selected logical rows and returns the first physical
// row of each and the last physical row of the last one.
func (r *ScrollableResults) bounds() (starts []int, lastEnd int, ok bool) {
	if !r.locateOrigin() {
		return nil, 0, r.err == nil
	}
	if !r.cur.Absolute(r.origin) {
		r.failCursor()
		return nil, 0, r.err == nil
	}
	var key any
	for {
		k, err := r.x.rootKey(r.cur)
		if err != nil {
			r.fail(err)
			return nil, 0, false
		}
		if len(starts) == 0 || k != key {
			if r.max > 0 && len(starts) == r.max {
				break
			}
			starts = append(starts, r.cur.Row())
			key = k
		}
		lastEnd = r.cur.Row()
		if !r.cur.Next() {
			break
		}
	}
	r.failCursor()
	return starts, lastEnd, r.err == nil
}
