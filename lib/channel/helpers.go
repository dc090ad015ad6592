package channel

import (
	"errors"
	"io"

	"github.com/ValentinKolb/dNIO/lib/buffer"
)

// WriteFully calls ch.Write until src has no remaining bytes.
// A write that makes no progress is reported as io.ErrShortWrite.
func WriteFully(ch Channel, src *buffer.ByteBuffer) (int, error) {
	total := 0
	for src.HasRemaining() {
		n, err := ch.Write(src)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// ReadFully calls ch.Read until dst has no remaining space.
// If the stream ends first it returns the bytes read so far together with io.EOF.
func ReadFully(ch Channel, dst *buffer.ByteBuffer) (int, error) {
	total := 0
	for dst.HasRemaining() {
		n, err := ch.Read(dst)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadAll reads from ch until end of stream, using a scratch buffer of the given size.
// End of stream is not an error.
func ReadAll(ch Channel, scratchSize int) ([]byte, error) {
	if scratchSize <= 0 {
		scratchSize = DefaultBufferSize
	}
	scratch := buffer.New(scratchSize)
	var out []byte
	for {
		scratch.Clear()
		_, err := ch.Read(scratch)
		scratch.Flip()
		out = append(out, scratch.Slice()...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
