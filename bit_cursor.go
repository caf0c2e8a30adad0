package astibits

import (
	"math/bits"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// BitCursor reads and writes bits MSB-first over a fixed slice of bytes.
//
// Errors are sticky: once a read, a skip or a write has requested bits past the end of the slice
// (or an invalid bit count), Err returns that error until Reset is called. The failing call
// doesn't move the cursor, following reads return 0 and following writes are dropped.
//
// A BitCursor borrows its slice and is not safe for concurrent use.
type BitCursor struct {
	data   []byte
	err    error
	mask   byte
	offset int
}

// NewBitCursor creates a new bit cursor positioned on the first bit of data
func NewBitCursor(data []byte) *BitCursor {
	c := &BitCursor{}
	c.Reset(data)
	return c
}

// Reset repositions the cursor on the first bit of data and clears its error
func (c *BitCursor) Reset(data []byte) {
	c.data = data
	c.err = nil
	c.mask = 0x80
	c.offset = 0
}

// Err returns the sticky error, if any
func (c *BitCursor) Err() error { return c.err }

// Offset returns the offset of the byte holding the next bit
func (c *BitCursor) Offset() int { return c.offset }

// Len returns the length of the underlying slice
func (c *BitCursor) Len() int { return len(c.data) }

// IsAligned checks whether the next bit is the first bit of a byte
func (c *BitCursor) IsAligned() bool { return c.mask == 0x80 }

// BitsLeft returns the number of bits that can still be read or written
func (c *BitCursor) BitsLeft() int {
	if c.offset >= len(c.data) {
		return 0
	}
	return (len(c.data)-c.offset)*8 - bits.LeadingZeros8(c.mask)
}

// ReadBits reads n bits (1 <= n <= 64) and returns them right-aligned
func (c *BitCursor) ReadBits(n int) (v uint64) {
	if !c.validCount(n) || !c.fits(n) {
		return
	}
	for idx := 0; idx < n; idx++ {
		v <<= 1
		if c.data[c.offset]&c.mask > 0 {
			v |= 1
		}
		c.advance()
	}
	return
}

// ReadBit reads a single bit
func (c *BitCursor) ReadBit() bool {
	return c.ReadBits(1) == 1
}

// WriteBits writes the n (1 <= n <= 64) least significant bits of v in place, MSB first
func (c *BitCursor) WriteBits(n int, v uint64) {
	if !c.validCount(n) || !c.fits(n) {
		return
	}
	for idx := n - 1; idx >= 0; idx-- {
		if v>>uint(idx)&0x1 > 0 {
			c.data[c.offset] |= c.mask
		} else {
			c.data[c.offset] &^= c.mask
		}
		c.advance()
	}
}

// WriteBit writes a single bit
func (c *BitCursor) WriteBit(b bool) {
	var v uint64
	if b {
		v = 1
	}
	c.WriteBits(1, v)
}

// SkipBits moves the cursor n bits forward
func (c *BitCursor) SkipBits(n int) {
	if c.err != nil || n <= 0 || !c.fits(n) {
		return
	}
	for idx := 0; idx < n; idx++ {
		c.advance()
	}
}

// SkipBytes moves the cursor n bytes forward
func (c *BitCursor) SkipBytes(n int) {
	c.SkipBits(n * 8)
}

// ReadBytes fills dst with the next len(dst) bytes. The cursor doesn't need to be aligned.
func (c *BitCursor) ReadBytes(dst []byte) {
	if c.err != nil || len(dst) == 0 || !c.fits(len(dst)*8) {
		return
	}
	for idx := range dst {
		dst[idx] = byte(c.ReadBits(8))
	}
}

// Borrow returns the next n bytes without copying them and moves the cursor past them.
// The cursor must be aligned. The returned slice points to the cursor's slice.
func (c *BitCursor) Borrow(n int) (bs []byte) {
	if c.err != nil || n <= 0 {
		return
	}
	if !c.IsAligned() {
		c.err = errors.Wrapf(ErrMalformedLength, "astibits: borrowing %d bytes at offset %d requires an aligned cursor", n, c.offset)
		return
	}
	if c.offset+n > len(c.data) {
		c.err = errors.Wrapf(ErrBufferExhausted, "astibits: borrowing %d bytes at offset %d of a %d bytes buffer", n, c.offset, len(c.data))
		return
	}
	bs = c.data[c.offset : c.offset+n : c.offset+n]
	c.offset += n
	return
}

func (c *BitCursor) validCount(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 1 || n > 64 {
		c.err = errors.Wrapf(ErrInvalidBitCount, "astibits: %d bits requested", n)
		return false
	}
	return true
}

// fits sets the sticky error when the next n bits don't fit in the slice
func (c *BitCursor) fits(n int) bool {
	if left := c.BitsLeft(); n > left {
		c.err = errors.Wrapf(ErrBufferExhausted, "astibits: %d bits requested at offset %d but only %d are left", n, c.offset, left)
		return false
	}
	return true
}

func (c *BitCursor) advance() {
	if c.mask == 0x01 {
		c.mask = 0x80
		c.offset++
	} else {
		c.mask >>= 1
	}
}

// readUint reads n bits into an unsigned field type
func readUint[T constraints.Unsigned](c *BitCursor, n int) T {
	return T(c.ReadBits(n))
}
