package client

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ValentinKolb/dNIO/lib/buffer"
	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/server/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// Client talks to a dispatcher with one connection per request
type Client struct {
	config common.ClientConfig
}

// NewClient creates a client, no connection is opened before Do
func NewClient(config common.ClientConfig) *Client {
	return &Client{config: config}
}

// Do connects, sends payload, closes the sending side and returns everything the server sent
// until it closed the connection.
func (c *Client) Do(payload []byte) ([]byte, error) {
	ch, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			Logger.Warningf("failed to close connection: %v", err)
		}
	}()

	if len(payload) > 0 {
		src := buffer.New(len(payload))
		src.Clear()
		if err := src.PutBytes(payload, 0, len(payload)); err != nil {
			return nil, err
		}
		src.Flip()
		if _, err := channel.WriteFully(ch, src); err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
	}
	if err := ch.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to close sending side: %w", err)
	}

	resp, err := channel.ReadAll(ch, c.config.BufferSize)
	if err != nil {
		return resp, fmt.Errorf("failed to read response: %w", err)
	}
	Logger.Debugf("received %d bytes from %s", len(resp), c.config.Endpoint())
	return resp, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect dials the server, retrying with exponential backoff
func (c *Client) connect() (*channel.SocketChannel, error) {
	var lastErr error

	// We always try at least once
	attempts := max(c.config.RetryCount, 1)
	backoff := c.config.RetryBackoff

	for i := 0; i < attempts; i++ {
		ch, err := channel.Dial(c.config.Endpoint(), c.config.BufferSize)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		Logger.Debugf("connect attempt %d/%d failed: %v", i+1, attempts, err)

		if i < attempts-1 && backoff > 0 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter))
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", c.config.Endpoint(), attempts, lastErr)
}
