package store

import (
	"context"
	"iter"
)

// Cursor is a finite, single-use sequence of records. It cannot be
// restarted; run the query again to read the results twice.
type Cursor struct {
	next   func(ctx context.Context) (*Record, error)
	close  func() error
	rec    *Record
	err    error
	closed bool
}

// NewCursor builds a cursor from a next function that returns (nil, nil)
// once exhausted. closeFn may be nil.
func NewCursor(next func(ctx context.Context) (*Record, error), closeFn func() error) *Cursor {
	return &Cursor{next: next, close: closeFn}
}

// SliceCursor returns a cursor over already loaded records.
func SliceCursor(recs []*Record) *Cursor {
	i := 0
	return NewCursor(func(context.Context) (*Record, error) {
		if i >= len(recs) {
			return nil, nil
		}
		rec := recs[i]
		i++
		return rec, nil
	}, nil)
}

// Next advances to the next record. It returns false when the sequence is
// exhausted or failed; check Err afterwards.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		c.Close()
		return false
	}
	rec, err := c.next(ctx)
	if err != nil {
		c.err = err
		c.Close()
		return false
	}
	if rec == nil {
		if err := c.Close(); err != nil {
			c.err = err
		}
		return false
	}
	c.rec = rec
	return true
}

// Record returns the current record.
func (c *Cursor) Record() *Record {
	return c.rec
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.rec = nil
	if c.close != nil {
		return c.close()
	}
	return nil
}

// All returns an iterator over the remaining records. A failure is yielded
// once as the final element.
func (c *Cursor) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		defer c.Close()
		for c.Next(ctx) {
			if !yield(c.rec, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Collect drains the cursor into a slice.
func Collect(ctx context.Context, c *Cursor) ([]*Record, error) {
	var recs []*Record
	for rec, err := range c.All(ctx) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
