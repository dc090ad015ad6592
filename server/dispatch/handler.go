package dispatch

import (
	"errors"
	"io"

	"github.com/ValentinKolb/dNIO/lib/buffer"
	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/server/common"
)

// NewHandler creates the handler for the configured mode
func NewHandler(conf common.ServerConfig) Handler {
	if conf.Mode == common.ModeEcho {
		return NewEchoHandler(conf.BufferSize)
	}
	return NewGreetingHandler(conf.Response, conf.BufferSize)
}

// NewGreetingHandler reads one buffer of request bytes, logs them and answers with response
func NewGreetingHandler(response string, bufferSize int) Handler {
	return func(ch channel.Channel) {
		req := buffer.New(bufferSize)
		req.Clear()

		n, err := ch.Read(req)
		if err != nil && !errors.Is(err, io.EOF) {
			Logger.Warningf("failed to read request: %v", err)
			return
		}
		req.Flip()
		Logger.Infof("received %d bytes: %q", n, req.Drain())

		resp := buffer.New(len(response))
		resp.Clear()
		_ = resp.PutString(response)
		resp.Flip()

		if _, err := channel.WriteFully(ch, resp); err != nil {
			Logger.Warningf("failed to write response: %v", err)
		}
	}
}

// NewEchoHandler writes every received byte back until the peer closes its sending side
func NewEchoHandler(bufferSize int) Handler {
	return func(ch channel.Channel) {
		buf := buffer.New(bufferSize)
		for {
			buf.Clear()
			_, err := ch.Read(buf)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				Logger.Warningf("echo read failed: %v", err)
				return
			}
			buf.Flip()
			if _, err := channel.WriteFully(ch, buf); err != nil {
				Logger.Warningf("echo write failed: %v", err)
				return
			}
		}
	}
}
