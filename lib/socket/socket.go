package socket

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sys/unix"
)

var Logger = logger.GetLogger("socket")

const (
	// DefaultBacklog is the accept queue length used when Listen is called with backlog <= 0
	DefaultBacklog = 1024
)

var (
	// ErrNotListening is returned by Accept on a socket that is not in state Listening
	ErrNotListening = errors.New("socket: not listening")
	// ErrInvalidState is returned by Listen and Connect on a socket that is not Unbound
	ErrInvalidState = errors.New("socket: invalid state")
	// ErrNoUsableAddress is returned when no candidate address could be bound or connected
	ErrNoUsableAddress = errors.New("socket: no usable address")
	// ErrClosed is returned for I/O on a socket without a descriptor
	ErrClosed = errors.New("socket: closed")
)

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// State is the lifecycle state of a socket
type State uint8

const (
	Unbound State = iota
	Listening
	Connected
	Accepted
	Closed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Accepted:
		return "accepted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Socket
// --------------------------------------------------------------------------

// Socket exclusively owns one blocking stream socket descriptor
type Socket struct {
	fd     int
	local  Endpoint
	remote Endpoint
	state  State
}

// New creates an unbound socket without a descriptor
func New() *Socket {
	s := &Socket{fd: -1, state: Unbound}
	runtime.SetFinalizer(s, (*Socket).finalize)
	return s
}

// Adopt takes ownership of an already open descriptor, e.g. one inherited from a parent process
func Adopt(fd int, state State, local, remote Endpoint) *Socket {
	s := &Socket{fd: fd, state: state, local: local, remote: remote}
	runtime.SetFinalizer(s, (*Socket).finalize)
	return s
}

// Move transfers the descriptor to a new socket. The receiver is reset to Unbound without a descriptor.
func (s *Socket) Move() *Socket {
	moved := Adopt(s.fd, s.state, s.local, s.remote)
	s.reset()
	return moved
}

// Listen binds the first usable candidate address of bindpoint and starts listening on it.
// A backlog <= 0 selects DefaultBacklog.
func (s *Socket) Listen(bindpoint Endpoint, backlog int) error {
	if s.state != Unbound {
		return fmt.Errorf("%w: listen in state %s", ErrInvalidState, s.state)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	candidates, err := bindpoint.resolve(true)
	if err != nil {
		return err
	}

	var lastErr error
	for _, sa := range candidates {
		fd, err := openSocket(family(sa))
		if err != nil {
			lastErr = err
			continue
		}

		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			Logger.Warningf("failed to set SO_REUSEADDR on fd %d: %v", fd, err)
		}

		if err := unix.Bind(fd, sa); err != nil {
			lastErr = fmt.Errorf("bind: %w", err)
			_ = unix.Close(fd)
			continue
		}

		if err := unix.Listen(fd, backlog); err != nil {
			lastErr = fmt.Errorf("listen: %w", err)
			_ = unix.Close(fd)
			continue
		}

		s.fd = fd
		s.state = Listening
		s.local = bindpoint
		if bindpoint.Port() == 0 {
			// report the port the kernel picked
			if bound, err := localEndpoint(fd); err == nil {
				s.local = bindpoint.withPort(bound.Port())
			}
		}
		Logger.Debugf("listening on %s (fd %d, backlog %d)", s.local, fd, backlog)
		return nil
	}

	return fmt.Errorf("%w: listen on %s: %v", ErrNoUsableAddress, bindpoint, lastErr)
}

// Connect connects to the first reachable candidate address of endpoint
func (s *Socket) Connect(endpoint Endpoint) error {
	if s.state != Unbound {
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, s.state)
	}

	candidates, err := endpoint.resolve(false)
	if err != nil {
		return err
	}

	var lastErr error
	for _, sa := range candidates {
		fd, err := openSocket(family(sa))
		if err != nil {
			lastErr = err
			continue
		}

		if err := connect(fd, sa); err != nil {
			lastErr = fmt.Errorf("connect: %w", err)
			_ = unix.Close(fd)
			continue
		}

		s.fd = fd
		s.state = Connected
		s.remote = endpoint
		if local, err := localEndpoint(fd); err == nil {
			s.local = local
		}
		Logger.Debugf("connected to %s from %s (fd %d)", endpoint, s.local, fd)
		return nil
	}

	return fmt.Errorf("%w: connect to %s: %v", ErrNoUsableAddress, endpoint, lastErr)
}

// Accept blocks until a peer connects and returns a new socket in state Accepted.
// The listening socket is not modified.
func (s *Socket) Accept() (*Socket, error) {
	if s.state != Listening {
		return nil, fmt.Errorf("%w: accept in state %s", ErrNotListening, s.state)
	}

	var (
		nfd int
		sa  unix.Sockaddr
		err error
	)
	for {
		syscall.ForkLock.RLock()
		nfd, sa, err = unix.Accept(s.fd)
		if err == nil {
			unix.CloseOnExec(nfd)
		}
		syscall.ForkLock.RUnlock()
		if err != unix.EINTR && err != unix.ECONNABORTED {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	remote, err := EndpointFromSockaddr(sa)
	if err != nil {
		// the connection is usable even if the peer address is not representable
		Logger.Warningf("accepted fd %d with unknown peer address: %v", nfd, err)
	}

	return Adopt(nfd, Accepted, s.local, remote), nil
}

// Read performs exactly one read(2). It returns (0, nil) at end of stream.
func (s *Socket) Read(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		return n, nil
	}
}

// Write performs exactly one write(2) and returns the number of bytes the kernel accepted
func (s *Socket) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("write: %w", err)
		}
		return n, nil
	}
}

// Shutdown shuts down part of a full-duplex connection (unix.SHUT_RD, unix.SHUT_WR or unix.SHUT_RDWR).
// On a listening socket SHUT_RDWR wakes a blocked Accept.
func (s *Socket) Shutdown(how int) error {
	if s.fd < 0 {
		return ErrClosed
	}
	if err := unix.Shutdown(s.fd, how); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the descriptor. It is idempotent and the socket always ends in state Closed.
// A failing close(2) is reported through the returned error.
func (s *Socket) Close() error {
	var err error
	if s.fd >= 0 {
		if cerr := unix.Close(s.fd); cerr != nil {
			err = fmt.Errorf("close fd %d: %w", s.fd, cerr)
		}
		s.reset()
	}
	s.state = Closed
	return err
}

// Fd returns the descriptor or -1
func (s *Socket) Fd() int {
	return s.fd
}

// State returns the lifecycle state
func (s *Socket) State() State {
	return s.state
}

// LocalAddr returns the local endpoint
func (s *Socket) LocalAddr() Endpoint {
	return s.local
}

// RemoteAddr returns the remote endpoint (only set for Connected and Accepted sockets)
func (s *Socket) RemoteAddr() Endpoint {
	return s.remote
}

// String returns a short description for logging
func (s *Socket) String() string {
	return fmt.Sprintf("socket(fd=%d, state=%s, local=%s, remote=%s)", s.fd, s.state, s.local, s.remote)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// reset drops the descriptor without closing it
func (s *Socket) reset() {
	s.fd = -1
	s.local = Endpoint{}
	s.remote = Endpoint{}
	s.state = Unbound
}

// finalize closes a descriptor that was never closed explicitly
func (s *Socket) finalize() {
	if s.fd < 0 {
		return
	}
	Logger.Warningf("closing leaked %s", s)
	if err := s.Close(); err != nil {
		Logger.Errorf("destructing socket failed: %v", err)
	}
}

// openSocket creates a blocking close-on-exec stream socket
func openSocket(domain int) (int, error) {
	// hold ForkLock so no child inherits the descriptor between socket and CloseOnExec
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// connect runs a blocking connect(2), finishing an interrupted attempt
func connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err != unix.EINTR {
		return err
	}

	// the connection continues asynchronously; wait until it is writable and check SO_ERROR
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		break
	}
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// localEndpoint returns the numeric local address of a descriptor
func localEndpoint(fd int) (Endpoint, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return EndpointFromSockaddr(sa)
}
