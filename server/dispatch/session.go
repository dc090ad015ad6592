package dispatch

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/lib/socket"
)

// Session is one accepted connection on its way through a strategy
type Session struct {
	ID       uint64
	Channel  *channel.SocketChannel
	Remote   socket.Endpoint
	Accepted time.Time

	once   sync.Once
	onDone func(s *Session)
}

// newSession wraps an accepted channel, onDone runs exactly once when the session is finished
func newSession(id uint64, ch *channel.SocketChannel, onDone func(s *Session)) *Session {
	return &Session{
		ID:       id,
		Channel:  ch,
		Remote:   ch.RemoteAddr(),
		Accepted: time.Now(),
		onDone:   onDone,
	}
}

// finish closes the channel (if still open) and reports the session as done
func (s *Session) finish() {
	s.once.Do(func() {
		if s.Channel.IsOpen() {
			if err := s.Channel.Close(); err != nil {
				Logger.Warningf("session %d: close failed: %v", s.ID, err)
			}
		}
		if s.onDone != nil {
			s.onDone(s)
		}
	})
}

// serve runs the handler and always finishes the session afterward, even if the handler panics
func serve(s *Session, h Handler) {
	defer s.finish()
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("session %d: handler panicked: %v", s.ID, r)
		}
	}()
	h(s.Channel)
}
