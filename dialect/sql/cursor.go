package sql

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrForwardOnly is returned when a forward-only cursor is moved backwards.
var ErrForwardOnly = errors.New("dialect/sql: cursor is forward only")

// Cursor reads a result set row by row and addresses values by column
// label. A scrollable cursor keeps every row it has read, which lets it move
// backwards and jump to absolute positions the way database/sql cannot.
// A forward-only cursor drops rows once the cursor has moved past them.
//
// Positions follow the usual result set convention: before the first row,
// rows 1..n, after the last row.
type Cursor struct {
	id         uuid.UUID
	rows       ColumnScanner
	scrollable bool
	columns    []string
	index      map[string]int
	buf        [][]any // Rows read so far; from the current one on when forward only.
	base       int     // Row number of buf[0] minus one.
	pos        int     // 0 before first, len+1 after last.
	exhausted  bool
	closed     bool
	err        error
}

// NewCursor wraps rows. The cursor takes ownership of rows and closes them
// once they are exhausted or when the cursor is closed.
func NewCursor(rows ColumnScanner, scrollable bool) (*Cursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("dialect/sql: cursor columns: %w", err), rows.Close())
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; !ok {
			index[c] = i
		}
	}
	return &Cursor{
		id:         uuid.New(),
		rows:       rows,
		scrollable: scrollable,
		columns:    columns,
		index:      index,
	}, nil
}

// ID identifies the cursor for the lifetime of the process. Loading contexts
// are keyed by it.
func (c *Cursor) ID() uuid.UUID { return c.id }

// Columns returns the column labels of the result set.
func (c *Cursor) Columns() []string { return c.columns }

// Scrollable reports whether the cursor can move backwards.
func (c *Cursor) Scrollable() bool { return c.scrollable }

// Err returns the error, if any, that was encountered while reading rows.
func (c *Cursor) Err() error { return c.err }

// read pulls one more row from the underlying result set.
func (c *Cursor) read() bool {
	if c.exhausted || c.closed {
		return false
	}
	if !c.rows.Next() {
		c.exhausted = true
		c.err = errors.Join(c.err, c.rows.Err(), c.rows.Close())
		return false
	}
	values := make([]any, len(c.columns))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = fmt.Errorf("dialect/sql: cursor scan: %w", err)
		c.exhausted = true
		c.err = errors.Join(c.err, c.rows.Close())
		return false
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = append([]byte(nil), b...)
		}
	}
	if !c.scrollable {
		// Keep the current row so IsLast can look ahead.
		if drop := min(c.pos-1-c.base, len(c.buf)); drop > 0 {
			c.buf = append(c.buf[:0], c.buf[drop:]...)
			c.base += drop
		}
	}
	c.buf = append(c.buf, values)
	return true
}

// known returns the number of rows read so far.
func (c *Cursor) known() int { return c.base + len(c.buf) }

// fill reads until row n is buffered or the result set ends.
func (c *Cursor) fill(n int) bool {
	for c.known() < n {
		if !c.read() {
			return false
		}
	}
	return true
}

// Next moves to the next row.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.fill(c.pos + 1) {
		c.pos++
		return true
	}
	c.pos = c.known() + 1
	return false
}

// Previous moves to the previous row. It fails on forward-only cursors.
func (c *Cursor) Previous() bool {
	if c.closed || !c.scrollable {
		if !c.scrollable {
			c.err = errors.Join(c.err, ErrForwardOnly)
		}
		return false
	}
	if c.pos <= 1 {
		c.pos = 0
		return false
	}
	c.pos--
	return true
}

// First moves to the first row.
func (c *Cursor) First() bool {
	return c.Absolute(1)
}

// Last moves to the last row, reading the remaining result set.
func (c *Cursor) Last() bool {
	if c.closed {
		return false
	}
	for c.read() {
	}
	if c.known() == 0 {
		return false
	}
	return c.Absolute(c.known())
}

// Absolute moves to row n (1-based). A negative n counts from the end.
func (c *Cursor) Absolute(n int) bool {
	if c.closed {
		return false
	}
	if n < 0 {
		for c.read() {
		}
		n = c.known() + 1 + n
	}
	if n <= 0 {
		if !c.scrollable && c.pos > 0 {
			c.err = errors.Join(c.err, ErrForwardOnly)
			return false
		}
		c.pos = 0
		return false
	}
	if !c.scrollable && n <= c.base {
		c.err = errors.Join(c.err, ErrForwardOnly)
		return false
	}
	if !c.fill(n) {
		c.pos = c.known() + 1
		return false
	}
	c.pos = n
	return true
}

// BeforeFirst positions the cursor before the first row.
func (c *Cursor) BeforeFirst() {
	if c.scrollable {
		c.pos = 0
	}
}

// AfterLast positions the cursor after the last row.
func (c *Cursor) AfterLast() {
	for c.read() {
	}
	c.pos = c.known() + 1
}

// Row returns the current row number, or 0 when not on a row.
func (c *Cursor) Row() int {
	if c.pos < 1 || c.pos > c.known() {
		return 0
	}
	return c.pos
}

// IsBeforeFirst reports whether the cursor is before the first row of a
// non-empty result.
func (c *Cursor) IsBeforeFirst() bool {
	return c.pos == 0 && c.fill(1)
}

// IsAfterLast reports whether the cursor is after the last row of a
// non-empty result.
func (c *Cursor) IsAfterLast() bool {
	return c.pos > 0 && c.pos > c.known() && c.known() > 0
}

// IsFirst reports whether the cursor is on the first row.
func (c *Cursor) IsFirst() bool {
	return c.pos == 1 && c.known() >= 1
}

// IsLast reports whether the cursor is on the last row.
func (c *Cursor) IsLast() bool {
	if c.pos < 1 || c.pos > c.known() {
		return false
	}
	return !c.fill(c.pos + 1)
}

// Value returns the value of column in the current row. NULL is returned as nil.
func (c *Cursor) Value(column string) (any, error) {
	i, ok := c.index[column]
	if !ok {
		return nil, fmt.Errorf("dialect/sql: unknown column %q", column)
	}
	if c.pos < 1 || c.pos > c.known() {
		return nil, errors.New("dialect/sql: cursor is not positioned on a row")
	}
	return c.buf[c.pos-1-c.base][i], nil
}

// Values returns the values of columns in the current row.
func (c *Cursor) Values(columns []string) ([]any, error) {
	vs := make([]any, len(columns))
	for i, col := range columns {
		v, err := c.Value(col)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

// Close releases the underlying result set. It is safe to call Close more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.exhausted {
		return nil
	}
	return c.rows.Close()
}
