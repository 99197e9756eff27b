package comm

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// rfcommConn is one RFCOMM socket. The socket is created up front so a
// failed attempt can be closed; Open performs the blocking connect.
type rfcommConn struct {
	addr    [6]byte
	channel uint8

	mu        sync.Mutex
	fd        int
	file      *os.File
	closed    bool
	connected atomic.Bool
}

func newRFCOMM(mac string, channel uint8) (Transport, error) {
	addr, err := parseBDAddr(mac)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("comm: create rfcomm socket: %w", err)
	}
	return &rfcommConn{addr: addr, channel: channel, fd: fd}, nil
}

func (r *rfcommConn) Open() error {
	r.mu.Lock()
	if r.closed || r.file != nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	fd := r.fd
	r.mu.Unlock()

	sa := &unix.SockaddrRFCOMM{Addr: r.addr, Channel: r.channel}
	if err := unix.Connect(fd, sa); err != nil {
		return fmt.Errorf("comm: rfcomm connect channel %d: %w", r.channel, err)
	}
	// Non-blocking so the runtime poller can wake a blocked Read on Close.
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("comm: rfcomm set nonblock: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNotConnected
	}
	r.file = os.NewFile(uintptr(fd), "rfcomm")
	r.connected.Store(true)
	return nil
}

func (r *rfcommConn) Read(p []byte) (int, error) {
	f := r.current()
	if f == nil {
		return 0, ErrNotConnected
	}
	n, err := f.Read(p)
	if err != nil {
		r.connected.Store(false)
	}
	return n, err
}

func (r *rfcommConn) Write(p []byte) (int, error) {
	f := r.current()
	if f == nil {
		return 0, ErrNotConnected
	}
	n, err := f.Write(p)
	if err != nil {
		r.connected.Store(false)
	}
	return n, err
}

func (r *rfcommConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.connected.Store(false)
	if r.file != nil {
		return r.file.Close()
	}
	return unix.Close(r.fd)
}

func (r *rfcommConn) IsConnected() bool { return r.connected.Load() }

func (r *rfcommConn) current() *os.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.file
}
