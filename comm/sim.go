package comm

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var errSimRefused = errors.New("comm: simulated board refused connection")

// SimDriver connects to an in-process Board over a pipe, for bench testing
// without hardware. Any target is accepted.
type SimDriver struct {
	ConnectDelay time.Duration // time an Open takes
	AckDelay     time.Duration // time before the "A" acknowledgement
	ReplyDelay   time.Duration // time between the ack and the door reply
	FailFirst    int           // number of Opens that fail before one succeeds

	opens atomic.Int64
	mu    sync.Mutex
	live  *simTransport
}

func (d *SimDriver) Kind() string { return DriverSim }

func (d *SimDriver) Lookup(target string) (Endpoint, error) {
	return &simEndpoint{d: d, target: target}, nil
}

// Opens reports how many Open calls the driver has seen.
func (d *SimDriver) Opens() int { return int(d.opens.Load()) }

// Drop severs the most recently opened link from the board side, as if the
// board went out of range.
func (d *SimDriver) Drop() {
	d.mu.Lock()
	t := d.live
	d.mu.Unlock()
	if t != nil {
		t.drop()
	}
}

type simEndpoint struct {
	d      *SimDriver
	target string
}

func (e *simEndpoint) Address() string { return "sim:" + e.target }

func (e *simEndpoint) NewTransport() (Transport, error) {
	return &simTransport{d: e.d}, nil
}

type simTransport struct {
	d *SimDriver

	mu        sync.Mutex
	host      net.Conn
	board     net.Conn
	closed    bool
	connected atomic.Bool
}

func (t *simTransport) Open() error {
	n := t.d.opens.Add(1)
	if t.d.ConnectDelay > 0 {
		time.Sleep(t.d.ConnectDelay)
	}
	if n <= int64(t.d.FailFirst) {
		return fmt.Errorf("%w (attempt %d)", errSimRefused, n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	t.host, t.board = net.Pipe()
	t.connected.Store(true)
	board := &Board{AckDelay: t.d.AckDelay, ReplyDelay: t.d.ReplyDelay}
	go board.Serve(t.board)

	t.d.mu.Lock()
	t.d.live = t
	t.d.mu.Unlock()
	return nil
}

func (t *simTransport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.host
}

func (t *simTransport) Read(p []byte) (int, error) {
	c := t.current()
	if c == nil {
		return 0, ErrNotConnected
	}
	n, err := c.Read(p)
	if err != nil {
		t.connected.Store(false)
	}
	return n, err
}

func (t *simTransport) Write(p []byte) (int, error) {
	c := t.current()
	if c == nil {
		return 0, ErrNotConnected
	}
	n, err := c.Write(p)
	if err != nil {
		t.connected.Store(false)
	}
	return n, err
}

func (t *simTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected.Store(false)
	if t.host != nil {
		t.host.Close()
		t.board.Close()
	}
	return nil
}

func (t *simTransport) IsConnected() bool { return t.connected.Load() }

func (t *simTransport) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.board != nil {
		t.board.Close()
	}
}
