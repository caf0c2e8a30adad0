package astibits

import (
	"time"
)

// ClockReference represents a clock reference
// Base is based on a 90 kHz clock and extension is based on a 27 MHz clock
type ClockReference struct {
	Base, Extension int64
}

func newClockReference(base, extension int64) ClockReference {
	return ClockReference{Base: base, Extension: extension}
}

// Ticks returns the number of 27 MHz ticks, a 90 kHz base tick being worth 300 of them
func (cr ClockReference) Ticks() int64 { return cr.Base*300 + cr.Extension }

// Duration converts the clock reference into a duration truncated to the nanosecond
func (cr ClockReference) Duration() time.Duration {
	return time.Duration(cr.Ticks() * 1000 / 27)
}

// Time converts the clock reference into time
func (cr ClockReference) Time() time.Time {
	return time.Unix(0, int64(cr.Duration()))
}

// parsePCR parses a Program Clock Reference
// Program clock reference, stored as 33 bits base, 6 bits reserved, 9 bits extension.
func parsePCR(c *BitCursor) ClockReference {
	pcr := c.ReadBits(48)
	return newClockReference(int64(pcr>>15), int64(pcr&0x1ff))
}

// parseTimestamp parses a 33 bits timestamp split up as 3 bits, 1 marker bit, 15 bits, 1 marker bit,
// 15 bits and 1 marker bit
func parseTimestamp(c *BitCursor) ClockReference {
	return newClockReference(int64(readTimestampBase(c)), 0)
}

// parseESCR parses an Elementary Stream Clock Reference
// 2 bits reserved, 33 bits base split up like a timestamp, 9 bits extension and 1 marker bit
func parseESCR(c *BitCursor) ClockReference {
	c.SkipBits(2)
	base := readTimestampBase(c)
	ext := c.ReadBits(9)
	c.SkipBits(1)
	return newClockReference(int64(base), int64(ext))
}

func readTimestampBase(c *BitCursor) uint64 {
	high := c.ReadBits(3)
	c.SkipBits(1)
	mid := c.ReadBits(15)
	c.SkipBits(1)
	low := c.ReadBits(15)
	c.SkipBits(1)
	return low | mid<<15 | high<<30
}
