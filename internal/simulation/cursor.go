package simulation

// cursor walks a route back and forth: 0,1,...,n-1,n-2,...,0,1,...
type cursor struct {
	pos int
	dir int
	n   int
}

func newCursor(n int) cursor {
	return cursor{dir: 1, n: n}
}

// next returns the index to emit and advances. The direction flips exactly
// when the position reaches either end.
func (c *cursor) next() int {
	idx := c.pos
	if c.n <= 1 {
		return 0
	}

	c.pos += c.dir
	if c.pos >= c.n-1 {
		c.pos = c.n - 1
		c.dir = -1
	} else if c.pos <= 0 {
		c.pos = 0
		c.dir = 1
	}
	return idx
}
