package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dylandreimerink/perfevent/internal/cstr"
)

// The kernel writes records in host byte order
var nativeEndian = binary.NativeEndian

// ErrRecordSize is matched by every *SizeError
var ErrRecordSize = errors.New("record size mismatch")

// SizeError is returned when a record body does not exactly fill the size declared in its header. Either the
// decoder attempted to read past the declared size, or bytes were left over after all expected fields were read.
// Both mean the record layout does not match the Format used to decode it.
type SizeError struct {
	Type     Type
	Declared int
	// Consumed is the amount of bytes the decoder read or attempted to read, including the header
	Consumed int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s record: declared size %d, decoder consumed %d", e.Type, e.Declared, e.Consumed)
}

// Unwrap allows errors.Is(err, ErrRecordSize)
func (e *SizeError) Unwrap() error {
	return ErrRecordSize
}

// cursor reads fields from a record body. It never reads past the end of the body, the first read that would is
// remembered and reported by finish. Reads after an overrun return zero values.
type cursor struct {
	buf []byte
	off int
	// want is the offset the first overrunning read attempted to reach, 0 if no overrun happened
	want int
}

func newCursor(body []byte) *cursor {
	return &cursor{buf: body}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) take(n int) []byte {
	if c.want != 0 {
		return nil
	}
	if n < 0 || n > c.remaining() {
		c.want = c.off + n
		if n < 0 {
			c.want = len(c.buf) + 1
		}
		return nil
	}

	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return nativeEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return nativeEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return nativeEndian.Uint64(b)
}

// u64s reads 'n' consecutive u64 values. 'n' comes from the record itself, it is checked against the remaining
// size before allocating.
func (c *cursor) u64s(n uint64) []uint64 {
	if n > uint64(c.remaining()/8) {
		c.take(c.remaining() + 1)
		return nil
	}

	vals := make([]uint64, n)
	for i := range vals {
		vals[i] = c.u64()
	}
	return vals
}

// bytes reads 'n' bytes, the returned slice aliases the record
func (c *cursor) bytes(n uint64) []byte {
	if n > uint64(c.remaining()) {
		c.take(c.remaining() + 1)
		return nil
	}
	return c.take(int(n))
}

// string reads a NUL terminated string which is padded to a multiple of 8 bytes
func (c *cursor) string() string {
	if c.want != 0 {
		return ""
	}

	nul := bytes.IndexByte(c.buf[c.off:], 0)
	if nul == -1 {
		c.take(c.remaining() + 1)
		return ""
	}

	str := string(c.buf[c.off : c.off+nul])
	c.take(cstr.PaddedLen(str))
	return str
}

// align skips padding until the offset in the record, including the header, is a multiple of 8
func (c *cursor) align() {
	pad := (8 - (headerSize+c.off)%8) % 8
	c.take(pad)
}

// rest consumes everything left in the body
func (c *cursor) rest() []byte {
	return c.take(c.remaining())
}

// finish checks that the body was consumed exactly
func (c *cursor) finish(h Header) error {
	if c.want != 0 {
		return &SizeError{Type: h.Type, Declared: int(h.Size), Consumed: headerSize + c.want}
	}
	if c.off != len(c.buf) {
		return &SizeError{Type: h.Type, Declared: int(h.Size), Consumed: headerSize + c.off}
	}
	return nil
}
