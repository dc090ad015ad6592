package rio

import (
	"io"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

var Logger = logger.GetLogger("rio")

const (
	// DefaultBufferSize is the ring buffer size of a Reader
	DefaultBufferSize = 8192
)

// RawReader performs a single read. Both (0, nil) and io.EOF mark end of stream.
type RawReader interface {
	Read(p []byte) (int, error)
}

// RawWriter performs a single write that may accept fewer bytes than offered
type RawWriter interface {
	Write(p []byte) (int, error)
}

// --------------------------------------------------------------------------
// Unbuffered helpers
// --------------------------------------------------------------------------

// ReadExactly reads until n bytes were read or the stream ended.
// At end of stream the short slice is returned with a nil error.
func ReadExactly(r RawReader, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Errorf("negative read size %d", n)
	}
	buf := make([]byte, n)
	got := 0
	for got < n {
		k, err := r.Read(buf[got:])
		got += k
		if err == io.EOF || (err == nil && k == 0) {
			break
		}
		if err != nil {
			return buf[:got], errors.Wrapf(err, "read exactly %d bytes (got %d)", n, got)
		}
	}
	return buf[:got], nil
}

// WriteAll writes all of p. A write that accepts nothing is reported as io.ErrShortWrite.
func WriteAll(w RawWriter, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		k, err := w.Write(p[written:])
		written += k
		if err != nil {
			return written, errors.Wrapf(err, "write all %d bytes (wrote %d)", len(p), written)
		}
		if k == 0 {
			return written, errors.Wrapf(io.ErrShortWrite, "write all %d bytes (wrote %d)", len(p), written)
		}
	}
	return written, nil
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// Reader is a buffered reader over a RawReader.
// It is not safe for concurrent use.
type Reader struct {
	src     RawReader
	rb      *ringbuffer.RingBuffer
	scratch []byte
	eof     bool
}

// NewReader creates a Reader with a ring buffer of DefaultBufferSize bytes
func NewReader(src RawReader) *Reader {
	return NewReaderSize(src, DefaultBufferSize)
}

// NewReaderSize creates a Reader with a ring buffer of size bytes
func NewReaderSize(src RawReader, size int) *Reader {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Reader{
		src:     src,
		rb:      ringbuffer.New(size),
		scratch: make([]byte, size),
	}
}

// Buffered returns the number of bytes that can be read without touching the source
func (r *Reader) Buffered() int {
	return r.rb.Length()
}

// Read reads up to len(p) bytes, refilling from the source as often as needed.
// It returns fewer bytes only at end of stream and (0, io.EOF) once nothing is left.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	got := 0
	for got < len(p) {
		if r.rb.IsEmpty() {
			if err := r.fill(); err != nil {
				return got, err
			}
			if r.rb.IsEmpty() {
				break
			}
		}
		k, err := r.rb.Read(p[got:])
		got += k
		if err != nil && err != ringbuffer.ErrIsEmpty {
			return got, errors.Wrap(err, "read from ring buffer")
		}
	}
	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

// ReadLine reads one text line including the trailing newline.
// At most maxlen-1 bytes are returned, a longer line is split.
// A final line without newline is returned as is, after it ReadLine reports io.EOF.
func (r *Reader) ReadLine(maxlen int) ([]byte, error) {
	if maxlen < 2 {
		return nil, errors.Errorf("line length limit %d too small", maxlen)
	}
	line := make([]byte, 0, min(maxlen-1, 128))
	for len(line) < maxlen-1 {
		if r.rb.IsEmpty() {
			if err := r.fill(); err != nil {
				return line, err
			}
			if r.rb.IsEmpty() {
				break
			}
		}
		c, err := r.rb.ReadByte()
		if err != nil {
			return line, errors.Wrap(err, "read from ring buffer")
		}
		line = append(line, c)
		if c == '\n' {
			break
		}
	}
	if len(line) == 0 {
		return nil, io.EOF
	}
	return line, nil
}

// fill performs one read from the source into the free part of the ring buffer.
// Reaching end of stream is not an error, it leaves the buffer empty.
func (r *Reader) fill() error {
	if r.eof {
		return nil
	}
	free := r.rb.Free()
	if free == 0 {
		return nil
	}
	n, err := r.src.Read(r.scratch[:free])
	if n > 0 {
		if _, werr := r.rb.Write(r.scratch[:n]); werr != nil {
			return errors.Wrap(werr, "write to ring buffer")
		}
	}
	switch {
	case err == io.EOF || (err == nil && n == 0):
		Logger.Debugf("source reached end of stream")
		r.eof = true
		return nil
	case err != nil:
		return errors.Wrap(err, "fill buffer")
	}
	return nil
}
