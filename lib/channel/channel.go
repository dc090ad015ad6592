package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/dNIO/lib/buffer"
	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sys/unix"
)

var Logger = logger.GetLogger("channel")

const (
	// DefaultBufferSize is the size of the internal receive buffer of a SocketChannel
	DefaultBufferSize = 8192
)

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// Channel is a bidirectional byte channel that transfers data between ByteBuffers
type Channel interface {
	// Read copies available bytes into dst and returns the count.
	// It returns (0, io.EOF) at end of stream.
	Read(dst *buffer.ByteBuffer) (int, error)
	// Write writes as much of src's remaining bytes as the transport accepts and advances src accordingly
	Write(src *buffer.ByteBuffer) (int, error)
	// Close closes the channel, it is idempotent
	Close() error
	// IsOpen reports whether the channel has not been closed
	IsOpen() bool
}

// Conn is the descriptor-level surface a SocketChannel drives.
// *socket.Socket is the production implementation.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	State() socket.State
	LocalAddr() socket.Endpoint
	RemoteAddr() socket.Endpoint
}

// acceptor is implemented by connections that can accept peers (listening sockets)
type acceptor interface {
	Accept() (*socket.Socket, error)
}

// shutdowner is implemented by connections that support half-closing
type shutdowner interface {
	Shutdown(how int) error
}

// descriptor is implemented by connections backed by an OS descriptor
type descriptor interface {
	Fd() int
}

// --------------------------------------------------------------------------
// SocketChannel
// --------------------------------------------------------------------------

// SocketChannel is a Channel over a socket with an internal receive buffer
type SocketChannel struct {
	sock Conn
	rbuf *buffer.ByteBuffer
}

// NewSocketChannel wraps sock (taking ownership) with a receive buffer of DefaultBufferSize
func NewSocketChannel(sock Conn) *SocketChannel {
	return NewSocketChannelSize(sock, DefaultBufferSize)
}

// NewSocketChannelSize wraps sock (taking ownership) with a receive buffer of the given size
func NewSocketChannelSize(sock Conn, bufferSize int) *SocketChannel {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &SocketChannel{
		sock: sock,
		rbuf: buffer.New(bufferSize), // starts empty: position = limit = 0
	}
}

// Listen creates a channel listening on bindpoint.
// Accepted channels get a receive buffer of bufferSize bytes.
func Listen(bindpoint socket.Endpoint, backlog, bufferSize int) (*SocketChannel, error) {
	s := socket.New()
	if err := s.Listen(bindpoint, backlog); err != nil {
		_ = s.Close()
		return nil, err
	}
	return NewSocketChannelSize(s, bufferSize), nil
}

// Dial creates a channel connected to endpoint, using a receive buffer of bufferSize bytes
func Dial(endpoint socket.Endpoint, bufferSize int) (*SocketChannel, error) {
	s := socket.New()
	if err := s.Connect(endpoint); err != nil {
		_ = s.Close()
		return nil, err
	}
	return NewSocketChannelSize(s, bufferSize), nil
}

// Accept blocks until a peer connects and returns the accepted channel.
// Its receive buffer has the same size as the one of the listening channel.
func (c *SocketChannel) Accept() (*SocketChannel, error) {
	a, ok := c.sock.(acceptor)
	if !ok {
		return nil, fmt.Errorf("%w: %T cannot accept", socket.ErrNotListening, c.sock)
	}
	s, err := a.Accept()
	if err != nil {
		return nil, err
	}
	return NewSocketChannelSize(s, c.rbuf.Capacity()), nil
}

// Read implements Channel.Read
func (c *SocketChannel) Read(dst *buffer.ByteBuffer) (int, error) {
	if c.IsClosed() {
		return 0, socket.ErrClosed
	}
	if !dst.HasRemaining() {
		return 0, nil
	}

	// refill the receive buffer with one OS read
	if !c.rbuf.HasRemaining() {
		c.rbuf.Clear()
		n, err := c.sock.Read(c.rbuf.Slice())
		if err != nil || n <= 0 {
			c.rbuf.Flip() // position is 0, so the buffer is empty again
			if err != nil && !errors.Is(err, io.EOF) {
				return 0, err
			}
			return 0, io.EOF
		}
		if err := c.rbuf.Advance(n); err != nil {
			c.rbuf.Flip()
			return 0, fmt.Errorf("read returned %d bytes for a buffer of %d: %w", n, c.rbuf.Capacity(), err)
		}
		c.rbuf.Flip()
	}

	k := min(dst.Remaining(), c.rbuf.Remaining())
	if err := dst.PutBytes(c.rbuf.Slice(), 0, k); err != nil {
		return 0, err
	}
	_ = c.rbuf.Advance(k)
	return k, nil
}

// Write implements Channel.Write
func (c *SocketChannel) Write(src *buffer.ByteBuffer) (int, error) {
	if c.IsClosed() {
		return 0, socket.ErrClosed
	}
	if !src.HasRemaining() {
		return 0, nil
	}

	n, err := c.sock.Write(src.Slice())
	if err != nil {
		return 0, err
	}
	if err := src.Advance(n); err != nil {
		return 0, fmt.Errorf("write reported %d bytes for %d remaining: %w", n, src.Remaining(), err)
	}
	return n, nil
}

// CloseWrite shuts down the sending side, the peer reads end of stream
func (c *SocketChannel) CloseWrite() error {
	return c.shutdown(unix.SHUT_WR)
}

// Shutdown shuts down both directions without releasing the descriptor.
// On a listening channel it wakes a blocked Accept.
func (c *SocketChannel) Shutdown() error {
	return c.shutdown(unix.SHUT_RDWR)
}

// Close implements Channel.Close
func (c *SocketChannel) Close() error {
	err := c.sock.Close()
	if err != nil {
		Logger.Warningf("closing channel to %s failed: %v", c.sock.RemoteAddr(), err)
	}
	return err
}

// IsOpen implements Channel.IsOpen
func (c *SocketChannel) IsOpen() bool {
	return c.sock.State() != socket.Closed
}

// Move transfers the socket and the receive buffer (including buffered bytes) to a new channel.
// The receiver is left with a fresh unbound socket and an empty buffer.
func (c *SocketChannel) Move() *SocketChannel {
	var sock Conn = c.sock
	if s, ok := c.sock.(*socket.Socket); ok {
		sock = s.Move()
	}
	moved := &SocketChannel{sock: sock, rbuf: c.rbuf.Move()}
	c.sock = socket.New()
	c.rbuf = buffer.New(0)
	return moved
}

// --------------------------------------------------------------------------
// Status queries (delegate to the socket)
// --------------------------------------------------------------------------

func (c *SocketChannel) State() socket.State         { return c.sock.State() }
func (c *SocketChannel) IsListening() bool           { return c.State() == socket.Listening }
func (c *SocketChannel) IsConnected() bool           { return c.State() == socket.Connected }
func (c *SocketChannel) IsAccepted() bool            { return c.State() == socket.Accepted }
func (c *SocketChannel) IsClosed() bool              { return c.State() == socket.Closed }
func (c *SocketChannel) LocalAddr() socket.Endpoint  { return c.sock.LocalAddr() }
func (c *SocketChannel) RemoteAddr() socket.Endpoint { return c.sock.RemoteAddr() }

// Fd returns the OS descriptor or -1 if the channel is not backed by one
func (c *SocketChannel) Fd() int {
	if d, ok := c.sock.(descriptor); ok {
		return d.Fd()
	}
	return -1
}

// BufferSize returns the capacity of the internal receive buffer
func (c *SocketChannel) BufferSize() int {
	return c.rbuf.Capacity()
}

// shutdown half- or fully closes the connection if the socket supports it
func (c *SocketChannel) shutdown(how int) error {
	s, ok := c.sock.(shutdowner)
	if !ok {
		return fmt.Errorf("%T does not support shutdown", c.sock)
	}
	return s.Shutdown(how)
}
