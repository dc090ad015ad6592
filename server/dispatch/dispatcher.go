package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("dispatch")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var (
	// ErrNotListening is returned by Serve before a successful Listen
	ErrNotListening = errors.New("dispatch: dispatcher is not listening")
	// ErrDispatcherClosed is returned by Listen and Serve after Shutdown
	ErrDispatcherClosed = errors.New("dispatch: dispatcher is shut down")
)

// SessionInfo describes an active session
type SessionInfo struct {
	ID       uint64
	Remote   socket.Endpoint
	Accepted time.Time
}

// Dispatcher accepts connections on one listening channel and hands each one to a Strategy
type Dispatcher struct {
	config   common.ServerConfig
	strategy Strategy
	handler  Handler
	metrics  *Metrics

	mu        sync.Mutex
	listener  *channel.SocketChannel
	serving   bool
	closed    bool
	ready     chan struct{}
	started   chan struct{}
	stopCh    chan struct{}
	serveDone chan struct{}

	sessions *xsync.MapOf[uint64, *Session]
	nextID   atomic.Uint64
}

// NewDispatcher creates a dispatcher, nothing is bound before Listen
func NewDispatcher(config common.ServerConfig, strategy Strategy, handler Handler) *Dispatcher {
	d := &Dispatcher{
		config:    config,
		strategy:  strategy,
		handler:   handler,
		ready:     make(chan struct{}),
		started:   make(chan struct{}),
		stopCh:    make(chan struct{}),
		serveDone: make(chan struct{}),
		sessions:  xsync.NewMapOf[uint64, *Session](),
	}
	d.metrics = NewMetrics(d.Active)
	return d
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Listen binds the configured endpoint. A failure is fatal for this dispatcher.
func (d *Dispatcher) Listen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if d.listener != nil {
		return fmt.Errorf("dispatcher already listening on %s", d.listener.LocalAddr())
	}

	l, err := channel.Listen(d.config.Endpoint(), d.config.Backlog, d.config.BufferSize)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Endpoint(), err)
	}
	d.listener = l
	close(d.ready)

	Logger.Infof("listening on %s using the %s strategy", l.LocalAddr(), d.strategy.Name())
	return nil
}

// Serve runs the accept loop until Shutdown is called.
// Accept errors are logged and retried with exponential backoff.
func (d *Dispatcher) Serve() error {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrDispatcherClosed
	case d.listener == nil:
		d.mu.Unlock()
		return ErrNotListening
	case d.serving:
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is already serving")
	}
	d.serving = true
	l := d.listener
	close(d.started)
	d.mu.Unlock()
	defer close(d.serveDone)

	if d.config.MetricsLogInterval > 0 {
		go d.metrics.LogPeriodically(d.config.MetricsLogInterval)
	}

	backoff := time.Duration(0)
	for {
		ch, err := l.Accept()
		if d.stopping() {
			if err == nil {
				_ = ch.Close()
			}
			return nil
		}
		if err != nil {
			d.metrics.onAcceptError()
			backoff = nextBackoff(backoff)
			Logger.Errorf("accept failed: %v, retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-d.stopCh:
				return nil
			}
			continue
		}
		backoff = 0

		s := newSession(d.nextID.Add(1), ch, d.sessionDone)
		d.sessions.Store(s.ID, s)
		d.metrics.onAccept()
		Logger.Debugf("session %d: accepted %s", s.ID, s.Remote)

		if err := d.strategy.Dispatch(s, d.handler); err != nil {
			Logger.Errorf("session %d: dispatch failed: %v", s.ID, err)
		}
	}
}

// ListenAndServe is Listen followed by Serve
func (d *Dispatcher) ListenAndServe() error {
	if err := d.Listen(); err != nil {
		return err
	}
	return d.Serve()
}

// Shutdown wakes a blocked accept, closes the listener and waits for the strategy.
// It is safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.stopCh)
	l := d.listener
	serving := d.serving
	d.mu.Unlock()

	if l != nil {
		if serving {
			d.wakeAccept(l)
			<-d.serveDone
		}
		if err := l.Close(); err != nil {
			Logger.Warningf("failed to close listener: %v", err)
		}
	}

	d.strategy.Shutdown()
	d.metrics.Stop()
	Logger.Infof("dispatcher stopped (%d connections served)", d.metrics.Closed())
}

// --------------------------------------------------------------------------
// Status queries
// --------------------------------------------------------------------------

// Ready is closed once the dispatcher is listening
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Serving is closed once Serve has passed its checks. A Shutdown from then on makes Serve return nil.
func (d *Dispatcher) Serving() <-chan struct{} {
	return d.started
}

// Addr returns the bound endpoint (with the actual port), zero before Listen
func (d *Dispatcher) Addr() socket.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return socket.Endpoint{}
	}
	return d.listener.LocalAddr()
}

// Active returns the number of sessions that were accepted and not finished yet
func (d *Dispatcher) Active() int {
	return d.sessions.Size()
}

// Sessions returns a snapshot of the active sessions
func (d *Dispatcher) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, d.sessions.Size())
	d.sessions.Range(func(id uint64, s *Session) bool {
		infos = append(infos, SessionInfo{ID: id, Remote: s.Remote, Accepted: s.Accepted})
		return true
	})
	return infos
}

// Metrics returns the metrics of this dispatcher
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Strategy returns the strategy connections are dispatched with
func (d *Dispatcher) Strategy() Strategy {
	return d.strategy
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *Dispatcher) stopping() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// sessionDone is called exactly once per session when it is finished
func (d *Dispatcher) sessionDone(s *Session) {
	d.metrics.onClose(s.Accepted)
	d.sessions.Delete(s.ID)
	Logger.Debugf("session %d: finished after %s", s.ID, time.Since(s.Accepted))
}

// wakeAccept unblocks a goroutine sitting in accept(2) on l
func (d *Dispatcher) wakeAccept(l *channel.SocketChannel) {
	err := l.Shutdown()
	if err == nil {
		return
	}
	Logger.Debugf("shutdown of listener failed (%v), connecting to wake accept", err)

	// some platforms refuse shutdown(2) on listening sockets, a connection wakes accept as well
	addr := l.LocalAddr()
	if addr.Host() == "0.0.0.0" || addr.Host() == "::" {
		addr = socket.NewEndpoint("", addr.Port()) // empty host connects to loopback
	}
	ch, err := channel.Dial(addr, 1)
	if err != nil {
		Logger.Warningf("failed to wake accept loop: %v", err)
		return
	}
	_ = ch.Close()
}

// nextBackoff doubles the accept retry delay within [minAcceptBackoff, maxAcceptBackoff]
func nextBackoff(current time.Duration) time.Duration {
	if current < minAcceptBackoff {
		return minAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}
