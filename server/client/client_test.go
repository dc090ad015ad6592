package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/ValentinKolb/dNIO/server/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, mode common.Mode) socket.Endpoint {
	t.Helper()
	conf := common.DefaultServerConfig()
	conf.Host = "127.0.0.1"
	conf.Port = 0
	conf.Mode = mode

	d := dispatch.NewDispatcher(conf, dispatch.NewThreadStrategy(), dispatch.NewHandler(conf))
	require.NoError(t, d.Listen())
	go func() { _ = d.Serve() }()
	t.Cleanup(d.Shutdown)
	return d.Addr()
}

func clientConfig(addr socket.Endpoint) common.ClientConfig {
	conf := common.DefaultClientConfig()
	conf.Host = addr.Host()
	conf.Port = addr.Port()
	conf.BufferSize = 16
	return conf
}

func TestDoGreeting(t *testing.T) {
	addr := startServer(t, common.ModeGreeting)
	c := NewClient(clientConfig(addr))

	resp, err := c.Do([]byte("Hello from client"))
	require.NoError(t, err)
	assert.Equal(t, common.DefaultResponse, string(resp))

	// an empty request still gets the greeting
	resp, err = c.Do(nil)
	require.NoError(t, err)
	assert.Equal(t, common.DefaultResponse, string(resp))
}

func TestDoEcho(t *testing.T) {
	addr := startServer(t, common.ModeEcho)
	c := NewClient(clientConfig(addr))

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	resp, err := c.Do(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, resp)
}

func TestDoRetriesAndFails(t *testing.T) {
	// find a port nobody listens on
	l := socket.New()
	require.NoError(t, l.Listen(socket.NewEndpoint("127.0.0.1", 0), 0))
	addr := l.LocalAddr()
	require.NoError(t, l.Close())

	conf := clientConfig(addr)
	conf.RetryCount = 3
	conf.RetryBackoff = 10 * time.Millisecond

	start := time.Now()
	_, err := NewClient(conf).Do([]byte("ping"))
	assert.ErrorIs(t, err, socket.ErrNoUsableAddress)
	assert.Contains(t, err.Error(), "after 3 attempts")
	// two sleeps: ~10ms and ~20ms
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
