package comm

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// acquirer retries opening a fresh transport to ep until one opens or it
// is canceled. A failed handle is never reused.
//
// Cancellation is cooperative: it is checked before each attempt and ends
// the backoff wait, but an Open in progress runs to completion. A transport
// that opens after cancellation is closed instead of promoted.
type acquirer struct {
	c    *Client
	ep   Endpoint
	stop atomic.Bool
	done chan struct{}
	once sync.Once
}

func newAcquirer(c *Client, ep Endpoint) *acquirer {
	return &acquirer{c: c, ep: ep, done: make(chan struct{})}
}

func (a *acquirer) cancel() {
	a.once.Do(func() {
		a.stop.Store(true)
		close(a.done)
	})
}

func (a *acquirer) canceled() bool { return a.stop.Load() }

func (a *acquirer) run() {
	log := a.c.log.With(zap.String("addr", a.ep.Address()))
	log.Info("comm: connecting")

	for attempt := 1; !a.canceled(); attempt++ {
		if !a.wait(a.c.retry) {
			break
		}

		t, err := a.ep.NewTransport()
		if err != nil {
			log.Warn("comm: create transport",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", a.c.retry),
				zap.Error(err))
			continue
		}
		if err := t.Open(); err != nil {
			log.Warn("comm: connect attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", a.c.retry),
				zap.Error(err))
			closeTransport(t, log)
			continue
		}

		if !a.c.promote(a, t) {
			log.Debug("comm: connected after cancel, dropping transport")
			closeTransport(t, log)
			return
		}
		log.Info("comm: connected", zap.Int("attempts", attempt))
		return
	}
	log.Debug("comm: connecting canceled")
}

// wait sleeps for d and reports whether the acquirer should go on.
func (a *acquirer) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-a.done:
		return false
	case <-timer.C:
		return !a.canceled()
	}
}
