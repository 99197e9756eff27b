package comm

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
)

const defaultDialTimeout = 5 * time.Second

// NetDriver reaches the board through a serial-over-TCP bridge. The target
// is host:port; Proxy, when set, is a SOCKS5 server used for every dial.
type NetDriver struct {
	Proxy   string
	Timeout time.Duration
}

func (d *NetDriver) Kind() string { return DriverNet }

func (d *NetDriver) Lookup(target string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil || host == "" || port == "" {
		return nil, fmt.Errorf("%w: %q is not host:port", ErrTargetNotFound, target)
	}
	// Drop brackets a caller may have doubled up on an IPv6 host.
	addr := net.JoinHostPort(strings.Trim(host, "[]"), port)

	var dialer proxy.Dialer = &net.Dialer{}
	if d.Proxy != "" {
		dialer, err = proxy.SOCKS5("tcp", d.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("%w: socks5 %s: %v", ErrTransportUnavailable, d.Proxy, err)
		}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &netEndpoint{addr: addr, via: d.Proxy, dialer: dialer, timeout: timeout}, nil
}

type netEndpoint struct {
	addr    string
	via     string
	dialer  proxy.Dialer
	timeout time.Duration
}

func (e *netEndpoint) Address() string {
	if e.via != "" {
		return e.addr + " via " + e.via
	}
	return e.addr
}

func (e *netEndpoint) NewTransport() (Transport, error) {
	return &netTransport{ep: e}, nil
}

type netTransport struct {
	ep *netEndpoint

	mu        sync.Mutex
	conn      net.Conn
	closed    bool
	connected atomic.Bool
}

func (t *netTransport) Open() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.ep.timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if cd, ok := t.ep.dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", t.ep.addr)
	} else {
		conn, err = t.ep.dialer.Dial("tcp", t.ep.addr)
	}
	if err != nil {
		return fmt.Errorf("comm: dial %s: %w", t.ep.Address(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return ErrNotConnected
	}
	t.conn = conn
	t.connected.Store(true)
	return nil
}

func (t *netTransport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *netTransport) Read(p []byte) (int, error) {
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

func (t *netTransport) Write(p []byte) (int, error) {
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

func (t *netTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected.Store(false)
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *netTransport) IsConnected() bool { return t.connected.Load() }
