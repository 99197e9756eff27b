package comm

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRetryInterval is the wait before every connect attempt.
	DefaultRetryInterval = time.Second
	// DefaultReadBufferSize is the size of a single session read.
	DefaultReadBufferSize = 1024
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDelimiter sets the frame delimiter. Defaults to '\n'.
func WithDelimiter(d byte) Option {
	return func(c *Client) { c.delim = d }
}

// WithRetryInterval sets the fixed backoff between connect attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retry = d
		}
	}
}

// WithReadBufferSize sets the size of each session read.
func WithReadBufferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.readBufSize = n
		}
	}
}

// WithMaxFrameLength bounds inbound frames. Zero keeps them unbounded.
func WithMaxFrameLength(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxFrame = n
		}
	}
}

// WithStateObserver registers fn to see every state transition, including
// the ones that produce no notification. fn runs under the Client lock.
func WithStateObserver(fn func(from, to State)) Option {
	return func(c *Client) { c.observer = fn }
}

// Client keeps a message-framed link to one target device.
//
// State moves NONE -> CONNECTING -> CONNECTED -> NONE. Connect starts a
// background acquirer that retries until a transport opens; the open
// transport is then read by a session until an I/O failure or Disconnect.
// Link loss is only noticed when a read or write fails. The Client never
// reconnects on its own: callers react to EventConnectionLost.
//
// All methods are safe for concurrent use.
type Client struct {
	target string
	driver Driver
	sink   Sink
	log    *zap.Logger

	delim       byte
	retry       time.Duration
	readBufSize int
	maxFrame    int
	observer    func(from, to State)

	mu    sync.Mutex
	state State
	acq   *acquirer
	sess  *session

	// sendMu keeps commands from interleaving on the wire and keeps
	// Connect and Disconnect from closing a transport mid-write. It is
	// always taken before mu.
	sendMu sync.Mutex
}

// NewClient returns a Client bound to target. Notifications go to sink,
// which may be nil.
func NewClient(target string, drv Driver, sink Sink, opts ...Option) *Client {
	if sink == nil {
		sink = SinkFunc(func(Event) {})
	}
	c := &Client{
		target:      target,
		driver:      drv,
		sink:        sink,
		log:         zap.NewNop(),
		delim:       DefaultDelimiter,
		retry:       DefaultRetryInterval,
		readBufSize: DefaultReadBufferSize,
		state:       StateNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("target", target), zap.String("driver", drv.Kind()))
	return c
}

// Target returns the identity the Client connects to.
func (c *Client) Target() string { return c.target }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts connecting in the background and returns at once.
//
// It fails with ErrTransportUnavailable or ErrTargetNotFound, without any
// state change, when the driver cannot locate the target. While already
// connecting it does nothing. Otherwise any running acquirer or session is
// torn down first (a live session reports EventConnectionLost).
func (c *Client) Connect() error {
	ep, err := c.driver.Lookup(c.target)
	if err != nil {
		c.log.Warn("comm: target lookup failed", zap.Error(err))
		return fmt.Errorf("comm: connect %s: %w", c.target, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		return nil
	}
	c.teardownLocked()

	a := newAcquirer(c, ep)
	c.acq = a
	c.setStateLocked(StateConnecting)
	go a.run()
	return nil
}

// Disconnect stops any acquirer or session, closes the transport and moves
// to NONE. It is safe from any state. A command already being written
// finishes first.
func (c *Client) Disconnect() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// SendCommand writes text plus the delimiter as a single write. It is
// dropped silently unless the Client is connected. A failed write is
// treated as link loss.
func (c *Client) SendCommand(text string) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	s := c.sess
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || s == nil {
		c.log.Debug("comm: command dropped, not connected", zap.String("command", text))
		return
	}

	if _, err := s.t.Write(EncodeFrame(text, c.delim)); err != nil {
		c.log.Warn("comm: write failed", zap.String("command", text), zap.Error(err))
		c.lost(s, err)
		return
	}
	c.log.Debug("comm: command sent", zap.String("command", text))
}

// promote hands an open transport from a to a new session. It reports
// false when a was canceled meanwhile; the caller then owns t.
func (c *Client) promote(a *acquirer, t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acq != a || a.canceled() {
		return false
	}
	c.acq = nil
	s := newSession(c, t)
	c.sess = s
	c.setStateLocked(StateConnected)
	go s.run()
	return true
}

// deliver publishes frames read by s, unless s is no longer current.
func (c *Client) deliver(s *session, frames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	for _, f := range frames {
		c.sink.Notify(Event{Kind: EventMessage, Text: f, Time: time.Now()})
	}
}

// lost tears down s after an I/O failure. Stale sessions are ignored.
func (c *Client) lost(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return
	}
	c.log.Warn("comm: link lost", zap.Bool("transport_connected", s.t.IsConnected()), zap.Error(err))
	c.teardownLocked()
}

func (c *Client) teardownLocked() {
	if c.acq != nil {
		c.acq.cancel()
		c.acq = nil
	}
	if c.sess != nil {
		c.sess.cancel()
		closeTransport(c.sess.t, c.log)
		c.sess = nil
	}
	c.setStateLocked(StateNone)
}

func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.log.Debug("comm: state", zap.Stringer("from", from), zap.Stringer("to", to))
	if from == StateConnected {
		c.sink.Notify(Event{Kind: EventConnectionLost, Time: time.Now()})
	}
	if to == StateConnected {
		c.sink.Notify(Event{Kind: EventConnected, Time: time.Now()})
	}
	c.state = to
	if c.observer != nil {
		c.observer(from, to)
	}
}

// closeTransport closes t, logging instead of returning failures.
func closeTransport(t Transport, log *zap.Logger) {
	if err := t.Close(); err != nil {
		log.Debug("comm: close transport", zap.Error(err))
	}
}
