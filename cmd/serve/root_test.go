package serve

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/ValentinKolb/dNIO/server/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listeningDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	conf := common.DefaultServerConfig()
	conf.Host = "127.0.0.1"
	conf.Port = 0
	d := dispatch.NewDispatcher(conf, dispatch.NewThreadStrategy(), dispatch.NewHandler(conf))
	require.NoError(t, d.Listen())
	return d
}

func serveAsync(d *dispatch.Dispatcher, sigCh <-chan os.Signal) <-chan error {
	done := make(chan error, 1)
	go func() { done <- serveUntilSignal(d, sigCh) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
		return nil
	}
}

func TestSignalWhileServingStopsCleanly(t *testing.T) {
	d := listeningDispatcher(t)
	sigCh := make(chan os.Signal, 1)

	done := serveAsync(d, sigCh)
	<-d.Serving()
	sigCh <- syscall.SIGTERM

	assert.NoError(t, waitResult(t, done))
}

func TestSignalBeforeServeStopsCleanly(t *testing.T) {
	d := listeningDispatcher(t)
	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGINT

	// the shutdown already happened when the accept loop is entered
	d.Shutdown()
	assert.NoError(t, waitResult(t, serveAsync(d, sigCh)))
}

func TestServeFailureIsReported(t *testing.T) {
	conf := common.DefaultServerConfig()
	d := dispatch.NewDispatcher(conf, dispatch.NewInlineStrategy(), dispatch.NewHandler(conf))
	sigCh := make(chan os.Signal)
	t.Cleanup(func() { close(sigCh) })

	err := waitResult(t, serveAsync(d, sigCh))
	assert.ErrorIs(t, err, dispatch.ErrNotListening)
}
