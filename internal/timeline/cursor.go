package timeline

import (
	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// Cursor is a single-owner iterator over a timeline's versioned
// keyspace. It is not safe for concurrent use, and its validity does
// not survive concurrent writes that remove the key it is positioned
// on.
type Cursor struct {
	tl       *Timeline
	cur      keycodec.RepositoryKey
	curValue []byte
	valid    bool
}

// Iterator returns a new Cursor over tl, initially invalid until First
// or Last is called.
func (tl *Timeline) Iterator() *Cursor {
	return &Cursor{tl: tl}
}

// incrementKey returns the lexicographically next fixed-width byte
// string after b, or false if b is already the maximal value.
func incrementKey(b []byte) ([]byte, bool) {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out, true
		}
		out[i] = 0
	}
	return out, false
}

// decrementKey returns the lexicographically previous fixed-width byte
// string before b, or false if b is already the minimal value.
func decrementKey(b []byte) ([]byte, bool) {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out, true
		}
		out[i] = 0xFF
	}
	return out, false
}

// First positions the cursor at the first key >= key.
func (c *Cursor) First(key keycodec.RepositoryKey) {
	fk, fv, err := c.tl.st.SeekGE(c.tl.encodeRepoKey(key))
	if err != nil || !c.tl.hasOwnPrefix(fk) {
		c.valid = false
		return
	}
	c.cur = c.tl.decodeRepoKey(fk)
	c.curValue = fv
	c.valid = true
}

// Last positions the cursor at the last key <= key.
func (c *Cursor) Last(key keycodec.RepositoryKey) {
	fk, fv, err := c.tl.st.SeekLE(c.tl.encodeRepoKey(key))
	if err != nil || !c.tl.hasOwnPrefix(fk) {
		c.valid = false
		return
	}
	c.cur = c.tl.decodeRepoKey(fk)
	c.curValue = fv
	c.valid = true
}

// Next advances the cursor to the key immediately following the
// current position.
func (c *Cursor) Next() {
	if !c.valid {
		return
	}
	nxt, ok := incrementKey(c.tl.encodeRepoKey(c.cur))
	if !ok {
		c.valid = false
		return
	}
	fk, fv, err := c.tl.st.SeekGE(nxt)
	if err != nil || !c.tl.hasOwnPrefix(fk) {
		c.valid = false
		return
	}
	c.cur = c.tl.decodeRepoKey(fk)
	c.curValue = fv
}

// Prev moves the cursor to the key immediately preceding the current
// position.
func (c *Cursor) Prev() {
	if !c.valid {
		return
	}
	prv, ok := decrementKey(c.tl.encodeRepoKey(c.cur))
	if !ok {
		c.valid = false
		return
	}
	fk, fv, err := c.tl.st.SeekLE(prv)
	if err != nil || !c.tl.hasOwnPrefix(fk) {
		c.valid = false
		return
	}
	c.cur = c.tl.decodeRepoKey(fk)
	c.curValue = fv
}

// Valid reports whether the cursor is positioned on a key.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the key the cursor is positioned on. Only valid to call
// when Valid() is true.
func (c *Cursor) Key() keycodec.RepositoryKey { return c.cur }

// Value returns the raw stored value (including its kind tag) at the
// cursor's current position.
func (c *Cursor) Value() []byte { return c.curValue }
