package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrPositionOutOfRange is returned by single byte reads and writes at position >= limit
	ErrPositionOutOfRange = errors.New("buffer: position out of range")
	// ErrIndexOutOfRange is returned for indexed access beyond the limit and for invalid offsets
	ErrIndexOutOfRange = errors.New("buffer: index out of range")
	// ErrBufferUnderflow is returned when a bulk read asks for more than the remaining bytes
	ErrBufferUnderflow = errors.New("buffer: not enough remaining bytes")
	// ErrBufferOverflow is returned when a write does not fit into the remaining space
	ErrBufferOverflow = errors.New("buffer: not enough remaining space")
)

// noCopy may be embedded into structs which must not be copied after first use.
// See https://golang.org/issues/8005#issuecomment-190753527 for details.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ByteBuffer is a fixed-capacity byte container with position and limit cursors.
type ByteBuffer struct {
	_ noCopy

	buf      []byte
	position int
	limit    int
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// New allocates a buffer of the given capacity.
// The buffer starts empty for reading (position = limit = 0), call Clear before filling it.
func New(capacity int) *ByteBuffer {
	b := &ByteBuffer{}
	b.Allocate(capacity)
	return b
}

// Allocate releases the current storage and allocates capacity new bytes.
// Position and limit are reset to 0. A negative capacity is treated as 0.
func (b *ByteBuffer) Allocate(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	b.buf = make([]byte, capacity)
	b.position = 0
	b.limit = 0
}

// Move transfers the storage and cursors to a new buffer.
// The receiver is left as an empty buffer with zero capacity.
func (b *ByteBuffer) Move() *ByteBuffer {
	moved := &ByteBuffer{
		buf:      b.buf,
		position: b.position,
		limit:    b.limit,
	}
	b.buf = nil
	b.position = 0
	b.limit = 0
	return moved
}

// --------------------------------------------------------------------------
// Cursors
// --------------------------------------------------------------------------

// Capacity returns the size of the backing storage
func (b *ByteBuffer) Capacity() int {
	return len(b.buf)
}

// Position returns the index of the next byte to be read or written
func (b *ByteBuffer) Position() int {
	return b.position
}

// SetPosition moves the position. It fails if the new position is negative or beyond the limit.
func (b *ByteBuffer) SetPosition(position int) error {
	if position < 0 || position > b.limit {
		return fmt.Errorf("%w: position %d, limit %d", ErrIndexOutOfRange, position, b.limit)
	}
	b.position = position
	return nil
}

// Limit returns the exclusive upper bound of the valid region
func (b *ByteBuffer) Limit() int {
	return b.limit
}

// SetLimit moves the limit. It fails if the new limit is negative or beyond the capacity.
// If the position is larger than the new limit it is set to the new limit.
func (b *ByteBuffer) SetLimit(limit int) error {
	if limit < 0 || limit > len(b.buf) {
		return fmt.Errorf("%w: limit %d, capacity %d", ErrIndexOutOfRange, limit, len(b.buf))
	}
	b.limit = limit
	if b.position > limit {
		b.position = limit
	}
	return nil
}

// Remaining returns the number of bytes between position and limit
func (b *ByteBuffer) Remaining() int {
	return b.limit - b.position
}

// HasRemaining reports whether there is at least one byte between position and limit
func (b *ByteBuffer) HasRemaining() bool {
	return b.position < b.limit
}

// Clear prepares the buffer to be filled: position = 0, limit = capacity.
// The content is not erased.
func (b *ByteBuffer) Clear() {
	b.position = 0
	b.limit = len(b.buf)
}

// Flip prepares the buffer to be drained: limit = position, position = 0.
func (b *ByteBuffer) Flip() {
	b.limit = b.position
	b.position = 0
}

// Rewind sets the position to 0 so the readable region can be read again
func (b *ByteBuffer) Rewind() {
	b.position = 0
}

// Slice returns the region [position, limit) as a slice sharing the backing storage.
// Writes to the slice are visible in the buffer; the cursors are not moved, use Advance.
func (b *ByteBuffer) Slice() []byte {
	return b.buf[b.position:b.limit:b.limit]
}

// Advance moves the position forward by n bytes (0 <= n <= Remaining())
func (b *ByteBuffer) Advance(n int) error {
	if n < 0 || n > b.Remaining() {
		return fmt.Errorf("%w: advance %d, remaining %d", ErrIndexOutOfRange, n, b.Remaining())
	}
	b.position += n
	return nil
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Get returns the byte at the position and advances the position by one
func (b *ByteBuffer) Get() (byte, error) {
	if b.position >= b.limit {
		return 0, ErrPositionOutOfRange
	}
	v := b.buf[b.position]
	b.position++
	return v, nil
}

// GetBytes transfers exactly length bytes into dst starting at dst[offset].
// Nothing is transferred if length exceeds Remaining() or the range does not fit into dst.
func (b *ByteBuffer) GetBytes(dst []byte, offset, length int) error {
	if err := checkRange(len(dst), offset, length); err != nil {
		return err
	}
	if length > b.Remaining() {
		return fmt.Errorf("%w: requested %d, remaining %d", ErrBufferUnderflow, length, b.Remaining())
	}
	copy(dst[offset:offset+length], b.buf[b.position:b.position+length])
	b.position += length
	return nil
}

// GetAt returns the byte at index without moving the position
func (b *ByteBuffer) GetAt(index int) (byte, error) {
	if index < 0 || index >= b.limit {
		return 0, fmt.Errorf("%w: index %d, limit %d", ErrIndexOutOfRange, index, b.limit)
	}
	return b.buf[index], nil
}

// Drain consumes all remaining bytes and returns them as a string.
// Afterward position == limit. This is a destructive read, not a peek.
func (b *ByteBuffer) Drain() string {
	s := string(b.buf[b.position:b.limit])
	b.position = b.limit
	return s
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Put writes one byte at the position and advances the position by one
func (b *ByteBuffer) Put(v byte) error {
	if b.position >= b.limit {
		return ErrPositionOutOfRange
	}
	b.buf[b.position] = v
	b.position++
	return nil
}

// PutBytes writes exactly length bytes taken from src starting at src[offset].
// Nothing is written if there is not enough remaining space or the range does not fit into src.
func (b *ByteBuffer) PutBytes(src []byte, offset, length int) error {
	if err := checkRange(len(src), offset, length); err != nil {
		return err
	}
	if length > b.Remaining() {
		return fmt.Errorf("%w: requested %d, remaining %d", ErrBufferOverflow, length, b.Remaining())
	}
	copy(b.buf[b.position:b.position+length], src[offset:offset+length])
	b.position += length
	return nil
}

// PutString writes all bytes of s
func (b *ByteBuffer) PutString(s string) error {
	if len(s) > b.Remaining() {
		return fmt.Errorf("%w: requested %d, remaining %d", ErrBufferOverflow, len(s), b.Remaining())
	}
	copy(b.buf[b.position:], s)
	b.position += len(s)
	return nil
}

// PutAt writes one byte at index without moving the position
func (b *ByteBuffer) PutAt(index int, v byte) error {
	if index < 0 || index >= b.limit {
		return fmt.Errorf("%w: index %d, limit %d", ErrIndexOutOfRange, index, b.limit)
	}
	b.buf[index] = v
	return nil
}

// PutBuffer drains src (from its position to its limit) into this buffer.
// If src has more remaining bytes than this buffer has space, both buffers are left untouched.
func (b *ByteBuffer) PutBuffer(src *ByteBuffer) error {
	if src == b {
		return fmt.Errorf("%w: source and destination are the same buffer", ErrBufferOverflow)
	}
	n := src.Remaining()
	if n > b.Remaining() {
		return fmt.Errorf("%w: requested %d, remaining %d", ErrBufferOverflow, n, b.Remaining())
	}
	copy(b.buf[b.position:b.position+n], src.buf[src.position:src.limit])
	b.position += n
	src.position = src.limit
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// checkRange validates that [offset, offset+length) lies inside a slice of size n
func checkRange(n, offset, length int) error {
	if offset < 0 || length < 0 || offset > n || length > n-offset {
		return fmt.Errorf("%w: offset %d, length %d, size %d", ErrIndexOutOfRange, offset, length, n)
	}
	return nil
}
