package comm

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// session reads an open transport and turns the byte stream into message
// events. Its framer is private to the session and dies with it.
type session struct {
	c      *Client
	t      Transport
	framer *Framer
	stop   atomic.Bool
	done   chan struct{}
}

func newSession(c *Client, t Transport) *session {
	return &session{
		c:      c,
		t:      t,
		framer: NewFramer(c.delim, c.maxFrame),
		done:   make(chan struct{}),
	}
}

func (s *session) cancel() { s.stop.Store(true) }

func (s *session) run() {
	defer close(s.done)
	buf := make([]byte, s.c.readBufSize)
	for !s.stop.Load() {
		n, err := s.t.Read(buf)
		if n > 0 {
			frames, ferr := s.framer.Feed(buf[:n])
			if ferr != nil {
				s.c.log.Warn("comm: discarding oversized frame", zap.Int("max", s.c.maxFrame))
			}
			if len(frames) > 0 {
				s.c.deliver(s, frames)
			}
		}
		if err != nil {
			if left := s.framer.Pending(); left > 0 {
				s.c.log.Debug("comm: partial frame dropped", zap.Int("bytes", left))
			}
			if !s.stop.Load() {
				s.c.lost(s, err)
			}
			return
		}
	}
}
