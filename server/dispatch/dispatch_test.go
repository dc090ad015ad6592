package dispatch

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dNIO/lib/buffer"
	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	testResponse   = "Hello from server"
	testWorkerEnv  = "DNIO_TEST_WORKER"
	testBufferSize = 64
)

// TestMain doubles as the worker process of the fork strategy tests
func TestMain(m *testing.M) {
	if os.Getenv(testWorkerEnv) == "1" {
		if err := ServeInherited(NewGreetingHandler(testResponse, testBufferSize), testBufferSize); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testConfig() common.ServerConfig {
	conf := common.DefaultServerConfig()
	conf.Host = "127.0.0.1"
	conf.Port = 0
	conf.BufferSize = testBufferSize
	conf.Response = testResponse
	return conf
}

func forkStrategy(t *testing.T) *ForkStrategy {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return NewForkStrategy(exe, []string{"-test.run=^$"}, []string{testWorkerEnv + "=1"})
}

// startDispatcher listens on an ephemeral port and serves in the background until the test ends
func startDispatcher(t *testing.T, strategy Strategy, handler Handler) *Dispatcher {
	t.Helper()
	d := NewDispatcher(testConfig(), strategy, handler)
	require.NoError(t, d.Listen())

	served := make(chan error, 1)
	go func() { served <- d.Serve() }()
	t.Cleanup(func() {
		d.Shutdown()
		assert.NoError(t, <-served)
	})

	select {
	case <-d.Serving():
	case err := <-served:
		served <- err // for the cleanup
		t.Fatalf("serve returned early: %v", err)
	}
	return d
}

// roundTrip sends payload, half-closes and reads the answer until end of stream
func roundTrip(addr socket.Endpoint, payload []byte) ([]byte, error) {
	ch, err := channel.Dial(addr, testBufferSize)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	src := buffer.New(len(payload))
	src.Clear()
	if err := src.PutBytes(payload, 0, len(payload)); err != nil {
		return nil, err
	}
	src.Flip()
	if _, err := channel.WriteFully(ch, src); err != nil {
		return nil, err
	}
	if err := ch.CloseWrite(); err != nil {
		return nil, err
	}
	return channel.ReadAll(ch, testBufferSize)
}

func request(t *testing.T, addr socket.Endpoint, payload []byte) []byte {
	t.Helper()
	data, err := roundTrip(addr, payload)
	require.NoError(t, err)
	return data
}

// socketPair returns a connected pair of channels without going through the network
func socketPair(t *testing.T) (*channel.SocketChannel, *channel.SocketChannel) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	server := channel.NewSocketChannelSize(socket.Adopt(fds[0], socket.Accepted, socket.Endpoint{}, socket.Endpoint{}), testBufferSize)
	peer := channel.NewSocketChannelSize(socket.Adopt(fds[1], socket.Connected, socket.Endpoint{}, socket.Endpoint{}), testBufferSize)
	t.Cleanup(func() {
		_ = server.Close()
		_ = peer.Close()
	})
	return server, peer
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestGreetingWithEveryStrategy(t *testing.T) {
	tests := []struct {
		name     string
		strategy func(t *testing.T) Strategy
	}{
		{"inline", func(*testing.T) Strategy { return NewInlineStrategy() }},
		{"thread", func(*testing.T) Strategy { return NewThreadStrategy() }},
		{"pool", func(*testing.T) Strategy { return NewPoolStrategy(2) }},
		{"fork", func(t *testing.T) Strategy { return forkStrategy(t) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := startDispatcher(t, tt.strategy(t), NewGreetingHandler(testResponse, testBufferSize))
			for i := 0; i < 3; i++ {
				assert.Equal(t, testResponse, string(request(t, d.Addr(), []byte("ping"))))
			}
			require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, uint64(3), d.Metrics().Accepted())
			assert.Equal(t, uint64(3), d.Metrics().Closed())
		})
	}
}

func TestGreetingWithConcurrentClients(t *testing.T) {
	tests := []struct {
		name     string
		strategy func(t *testing.T) Strategy
	}{
		{"inline", func(*testing.T) Strategy { return NewInlineStrategy() }},
		{"thread", func(*testing.T) Strategy { return NewThreadStrategy() }},
		{"pool", func(*testing.T) Strategy { return NewPoolStrategy(3) }},
		{"fork", func(t *testing.T) Strategy { return forkStrategy(t) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := startDispatcher(t, tt.strategy(t), NewGreetingHandler(testResponse, testBufferSize))

			const clients = 8
			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					data, err := roundTrip(d.Addr(), []byte(fmt.Sprintf("Hello from client %d", i)))
					assert.NoError(t, err)
					assert.Equal(t, testResponse, string(data))
				}(i)
			}
			wg.Wait()

			require.Eventually(t, func() bool { return d.Active() == 0 }, 10*time.Second, 10*time.Millisecond)
			assert.Equal(t, uint64(clients), d.Metrics().Accepted())
			assert.Equal(t, uint64(clients), d.Metrics().Closed())
		})
	}
}

func TestEchoWithConcurrentClients(t *testing.T) {
	for _, strategy := range []Strategy{NewThreadStrategy(), NewPoolStrategy(4)} {
		t.Run(string(strategy.Name()), func(t *testing.T) {
			d := startDispatcher(t, strategy, NewEchoHandler(testBufferSize))

			const clients = 16
			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					payload := bytes.Repeat([]byte{byte('a' + i)}, 4096+i)
					data, err := roundTrip(d.Addr(), payload)
					assert.NoError(t, err)
					assert.Equal(t, payload, data)
				}(i)
			}
			wg.Wait()

			require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
			assert.Equal(t, uint64(clients), d.Metrics().Accepted())
		})
	}
}

func TestPoolDrainsQueueOnShutdown(t *testing.T) {
	p := NewPoolStrategy(1)
	release := make(chan struct{})
	var served atomic.Int32
	h := func(ch channel.Channel) {
		<-release
		served.Add(1)
	}

	var finished atomic.Int32
	peers := make([]*channel.SocketChannel, 0, 3)
	for i := 0; i < 3; i++ {
		server, peer := socketPair(t)
		peers = append(peers, peer)
		s := newSession(uint64(i+1), server, func(*Session) { finished.Add(1) })
		require.NoError(t, p.Dispatch(s, h))
	}
	require.Eventually(t, func() bool { return p.Pending() == 2 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("shutdown returned while sessions were still queued")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}
	assert.Equal(t, int32(3), served.Load())
	assert.Equal(t, int32(3), finished.Load())

	// every server side was closed, the peers read end of stream
	for _, peer := range peers {
		data, err := channel.ReadAll(peer, 8)
		require.NoError(t, err)
		assert.Empty(t, data)
	}

	// no new work after shutdown, the session is finished anyway
	server, _ := socketPair(t)
	err := p.Dispatch(newSession(4, server, func(*Session) { finished.Add(1) }), h)
	assert.ErrorIs(t, err, ErrStrategyClosed)
	assert.False(t, server.IsOpen())
	assert.Equal(t, int32(4), finished.Load())
}

func TestForkServesInheritedDescriptor(t *testing.T) {
	f := forkStrategy(t)
	server, peer := socketPair(t)

	done := make(chan struct{})
	s := newSession(7, server, func(*Session) { close(done) })
	require.NoError(t, f.Dispatch(s, nil))

	// the parent copy is closed immediately, the worker still holds the connection
	assert.False(t, server.IsOpen())

	src := buffer.New(4)
	src.Clear()
	_ = src.PutString("ping")
	src.Flip()
	_, err := channel.WriteFully(peer, src)
	require.NoError(t, err)

	data, err := channel.ReadAll(peer, 8)
	require.NoError(t, err)
	assert.Equal(t, testResponse, string(data))

	f.Shutdown()
	select {
	case <-done:
	default:
		t.Fatal("session not finished after the worker was reaped")
	}
}

func TestForkReportsStartFailure(t *testing.T) {
	f := NewForkStrategy("/nonexistent/dnio-worker", nil, nil)
	server, peer := socketPair(t)

	finished := false
	err := f.Dispatch(newSession(1, server, func(*Session) { finished = true }), nil)
	assert.Error(t, err)
	assert.True(t, finished)

	data, err := channel.ReadAll(peer, 8)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestServeInheritedRejectsNonSocket(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	t.Setenv(EnvWorkerFD, fmt.Sprint(r.Fd()))
	err = ServeInherited(func(channel.Channel) {}, testBufferSize)
	assert.Error(t, err)

	t.Setenv(EnvWorkerFD, "three")
	assert.Error(t, ServeInherited(func(channel.Channel) {}, testBufferSize))
}

func TestHandlerPanicClosesConnection(t *testing.T) {
	d := startDispatcher(t, NewThreadStrategy(), func(ch channel.Channel) {
		_, _ = channel.ReadAll(ch, 8)
		panic("boom")
	})

	assert.Empty(t, request(t, d.Addr(), []byte("ping")))
	require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	// the dispatcher keeps serving
	assert.Empty(t, request(t, d.Addr(), []byte("ping")))
}

func TestDispatcherLifecycle(t *testing.T) {
	d := NewDispatcher(testConfig(), NewInlineStrategy(), NewGreetingHandler(testResponse, testBufferSize))
	assert.ErrorIs(t, d.Serve(), ErrNotListening)
	assert.True(t, d.Addr().IsZero())

	select {
	case <-d.Ready():
		t.Fatal("ready before listen")
	default:
	}

	require.NoError(t, d.Listen())
	<-d.Ready()
	assert.NotZero(t, d.Addr().Port())
	assert.Error(t, d.Listen())

	// shutdown without a running accept loop
	d.Shutdown()
	d.Shutdown()
	assert.ErrorIs(t, d.Serve(), ErrDispatcherClosed)
	assert.ErrorIs(t, d.Listen(), ErrDispatcherClosed)
}

func TestShutdownWakesInlineAcceptLoop(t *testing.T) {
	d := NewDispatcher(testConfig(), NewInlineStrategy(), NewGreetingHandler(testResponse, testBufferSize))
	require.NoError(t, d.Listen())

	served := make(chan error, 1)
	go func() { served <- d.Serve() }()
	<-d.Serving()
	time.Sleep(20 * time.Millisecond) // let the loop block in accept

	stopped := make(chan struct{})
	go func() {
		d.Shutdown()
		close(stopped)
	}()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("accept loop was not woken")
	}
	<-stopped

	// the port is released
	_, err := channel.Dial(d.Addr(), 1)
	assert.ErrorIs(t, err, socket.ErrNoUsableAddress)
}

func TestShutdownRightAfterServeStarts(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := NewDispatcher(testConfig(), NewThreadStrategy(), NewEchoHandler(testBufferSize))
		require.NoError(t, d.Listen())

		served := make(chan error, 1)
		go func() { served <- d.Serve() }()
		<-d.Serving()
		d.Shutdown()
		assert.NoError(t, <-served)
	}

	// a shutdown that wins the race against Serve is reported as such
	d := NewDispatcher(testConfig(), NewThreadStrategy(), NewEchoHandler(testBufferSize))
	require.NoError(t, d.Listen())
	d.Shutdown()
	assert.ErrorIs(t, d.Serve(), ErrDispatcherClosed)
	select {
	case <-d.Serving():
		t.Fatal("serving after shutdown")
	default:
	}
}

func TestListenFailsOnBusyPort(t *testing.T) {
	first := startDispatcher(t, NewThreadStrategy(), NewEchoHandler(testBufferSize))

	conf := testConfig()
	conf.Port = first.Addr().Port()
	second := NewDispatcher(conf, NewThreadStrategy(), NewEchoHandler(testBufferSize))
	err := second.Listen()
	assert.ErrorIs(t, err, socket.ErrNoUsableAddress)
	second.Shutdown()
}

func TestMetricsExposition(t *testing.T) {
	d := startDispatcher(t, NewThreadStrategy(), NewGreetingHandler(testResponse, testBufferSize))
	request(t, d.Addr(), []byte("ping"))
	require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	var out bytes.Buffer
	d.Metrics().WritePrometheus(&out)
	text := out.String()
	assert.Contains(t, text, "dnio_connections_accepted_total 1")
	assert.Contains(t, text, "dnio_connections_closed_total 1")
	assert.Contains(t, text, "dnio_accept_errors_total 0")
	assert.Contains(t, text, "dnio_connections_active 0")
	assert.True(t, strings.Contains(text, "dnio_connection_duration_seconds"))

	// the periodic log only reads snapshots
	d.Metrics().logSnapshot()
}

func TestSessionsSnapshot(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d := startDispatcher(t, NewThreadStrategy(), func(channel.Channel) {
		entered <- struct{}{}
		<-release
	})

	ch, err := channel.Dial(d.Addr(), 8)
	require.NoError(t, err)
	defer ch.Close()
	<-entered

	sessions := d.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, ch.LocalAddr().Port(), sessions[0].Remote.Port())
	assert.Equal(t, 1, d.Active())

	close(release)
	require.Eventually(t, func() bool { return d.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestNewStrategy(t *testing.T) {
	for _, name := range common.Strategies {
		conf := testConfig()
		conf.Strategy = name
		s, err := NewStrategy(conf)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
		s.Shutdown()
	}

	conf := testConfig()
	conf.Strategy = "select"
	_, err := NewStrategy(conf)
	assert.Error(t, err)
}

func TestWorkerEnv(t *testing.T) {
	conf := testConfig()
	conf.Mode = common.ModeEcho
	env := WorkerEnv(conf)
	assert.Contains(t, env, "DNIO_MODE=echo")
	assert.Contains(t, env, "DNIO_RESPONSE="+testResponse)
	assert.Contains(t, env, fmt.Sprintf("DNIO_BUFFER_SIZE=%d", testBufferSize))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, minAcceptBackoff, nextBackoff(0))
	assert.Equal(t, 2*minAcceptBackoff, nextBackoff(minAcceptBackoff))
	assert.Equal(t, maxAcceptBackoff, nextBackoff(maxAcceptBackoff))
	assert.Equal(t, maxAcceptBackoff, nextBackoff(800*time.Millisecond))
}
