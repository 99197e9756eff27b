package comm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// KeepAlive reconnects a Client after every connection loss and after
// failed Connect calls, waiting delay in between. An explicit Disconnect
// pauses it until the next Connect.
//
// KeepAlive implements Controller, so front ends that drive it instead of
// the bare Client get the pause behaviour.
type KeepAlive struct {
	*Client
	delay time.Duration
	log   *zap.Logger

	mu     sync.Mutex
	paused bool

	// retry wakes Run after a Connect from outside it fails.
	retry chan struct{}
}

func NewKeepAlive(c *Client, delay time.Duration, log *zap.Logger) *KeepAlive {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeepAlive{Client: c, delay: delay, log: log, retry: make(chan struct{}, 1)}
}

// Connect unpauses and connects. When the lookup fails Run retries it.
func (k *KeepAlive) Connect() error {
	k.setPaused(false)
	err := k.Client.Connect()
	if err != nil {
		select {
		case k.retry <- struct{}{}:
		default:
		}
	}
	return err
}

func (k *KeepAlive) Disconnect() {
	k.setPaused(true)
	k.Client.Disconnect()
}

func (k *KeepAlive) Paused() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.paused
}

func (k *KeepAlive) setPaused(p bool) {
	k.mu.Lock()
	k.paused = p
	k.mu.Unlock()
}

// Run connects and then watches events, which must come from the Client's
// sink, until ctx is done or events is closed.
func (k *KeepAlive) Run(ctx context.Context, events <-chan Event) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Kind != EventConnectionLost || k.Paused() {
				continue
			}
			k.log.Info("comm: link lost, reconnecting", zap.Duration("delay", k.delay))
			timer.Reset(k.delay)
		case <-k.retry:
			if k.Paused() {
				continue
			}
			k.log.Info("comm: connect failed, retrying", zap.Duration("delay", k.delay))
			timer.Reset(k.delay)
		case <-timer.C:
			if k.Paused() || k.State() != StateNone {
				continue
			}
			if err := k.Client.Connect(); err != nil {
				k.log.Warn("comm: reconnect failed", zap.Duration("retry_in", k.delay), zap.Error(err))
				timer.Reset(k.delay)
			}
		}
	}
}
