package rio

import (
	"bytes"
	"io"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickle returns at most step bytes per read and (0, nil) at the end
type trickle struct {
	data  []byte
	step  int
	reads int
}

func (t *trickle) Read(p []byte) (int, error) {
	t.reads++
	n := min(len(p), t.step, len(t.data))
	copy(p, t.data[:n])
	t.data = t.data[n:]
	return n, nil
}

// stingyWriter accepts at most step bytes per write
type stingyWriter struct {
	bytes.Buffer
	step int
}

func (w *stingyWriter) Write(p []byte) (int, error) {
	n := min(len(p), w.step)
	return w.Buffer.Write(p[:n])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReadExactly(t *testing.T) {
	src := &trickle{data: []byte("abcdefghij"), step: 3}
	got, err := ReadExactly(src, 7)
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(got))

	// short count at end of stream
	got, err = ReadExactly(src, 7)
	require.NoError(t, err)
	assert.Equal(t, "hij", string(got))

	_, err = ReadExactly(failingReader{}, 1)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, io.ErrClosedPipe, pkgerrors.Cause(err))
}

func TestReadExactlyTreatsEOFAsEnd(t *testing.T) {
	got, err := ReadExactly(bytes.NewReader([]byte("xy")), 5)
	require.NoError(t, err)
	assert.Equal(t, "xy", string(got))
}

func TestWriteAll(t *testing.T) {
	w := &stingyWriter{step: 2}
	n, err := WriteAll(w, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", w.String())

	_, err = WriteAll(&stingyWriter{step: 0}, []byte("x"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestReaderRead(t *testing.T) {
	r := NewReaderSize(&trickle{data: []byte("0123456789"), step: 4}, 6)

	p := make([]byte, 7)
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "0123456", string(p[:n]))

	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "789", string(p[:n]))

	_, err = r.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderReadLine(t *testing.T) {
	src := &trickle{data: []byte("first\nsecond line\nlast"), step: 5}
	r := NewReaderSize(src, 8)

	line, err := r.ReadLine(64)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(line))

	// maxlen splits long lines after maxlen-1 bytes
	line, err = r.ReadLine(7)
	require.NoError(t, err)
	assert.Equal(t, "second", string(line))
	line, err = r.ReadLine(64)
	require.NoError(t, err)
	assert.Equal(t, " line\n", string(line))

	// the last line has no newline
	line, err = r.ReadLine(64)
	require.NoError(t, err)
	assert.Equal(t, "last", string(line))

	_, err = r.ReadLine(64)
	assert.ErrorIs(t, err, io.EOF)

	_, err = r.ReadLine(1)
	assert.Error(t, err)
}

func TestReaderPropagatesErrors(t *testing.T) {
	r := NewReader(failingReader{})
	_, err := r.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Zero(t, r.Buffered())
}
