package comm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// TargetAuto selects the first port whose USB VID belongs to a known board.
const TargetAuto = "auto"

// boardVIDs are the USB vendors of the locker boards seen in the field.
var boardVIDs = []string{"2341", "10C4"}

// serialPollInterval bounds how long a Read blocks before rechecking Close.
const serialPollInterval = 200 * time.Millisecond

// A hung-up tty answers every read at once with no data. After this many
// empty reads that returned well before the poll interval, the link is
// considered gone.
const serialHangupReads = 3

var listPorts = enumerator.GetDetailedPortsList

// SerialDriver opens a USB-serial port. The target is a port name such as
// /dev/ttyUSB0 or COM4, a "vid:pid" pair, or "auto".
type SerialDriver struct {
	Baud int
	Log  *zap.Logger
}

func (d *SerialDriver) Kind() string { return DriverSerial }

func (d *SerialDriver) Lookup(target string) (Endpoint, error) {
	ports, err := listPorts()
	if err != nil {
		// Explicit device paths still work where enumeration is unsupported.
		if isDevicePath(target) {
			return &serialEndpoint{name: target, baud: d.baud()}, nil
		}
		return nil, fmt.Errorf("%w: enumerate serial ports: %v", ErrTransportUnavailable, err)
	}
	if name, ok := matchPort(ports, target); ok {
		if d.Log != nil {
			d.Log.Debug("comm: serial port resolved", zap.String("target", target), zap.String("port", name))
		}
		return &serialEndpoint{name: name, baud: d.baud()}, nil
	}
	if isDevicePath(target) {
		return &serialEndpoint{name: target, baud: d.baud()}, nil
	}
	return nil, fmt.Errorf("%w: no serial port matches %q", ErrTargetNotFound, target)
}

func (d *SerialDriver) baud() int {
	if d.Baud <= 0 {
		return 9600
	}
	return d.Baud
}

// matchPort resolves target against an enumerated port list.
func matchPort(ports []*enumerator.PortDetails, target string) (string, bool) {
	switch {
	case target == TargetAuto:
		for _, p := range ports {
			if !p.IsUSB {
				continue
			}
			for _, vid := range boardVIDs {
				if strings.EqualFold(p.VID, vid) {
					return p.Name, true
				}
			}
		}
	case isVIDPID(target):
		vid, pid, _ := strings.Cut(target, ":")
		for _, p := range ports {
			if p.IsUSB && strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
				return p.Name, true
			}
		}
	default:
		for _, p := range ports {
			if p.Name == target || strings.EqualFold(p.SerialNumber, target) {
				return p.Name, true
			}
		}
	}
	return "", false
}

func isVIDPID(s string) bool {
	vid, pid, ok := strings.Cut(s, ":")
	return ok && len(vid) == 4 && len(pid) == 4 && isHex(vid) && isHex(pid)
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func isDevicePath(s string) bool {
	if !strings.HasPrefix(s, "/dev/") {
		return false
	}
	_, err := os.Stat(s)
	return err == nil
}

type serialEndpoint struct {
	name string
	baud int
}

func (e *serialEndpoint) Address() string { return fmt.Sprintf("%s@%d", e.name, e.baud) }

func (e *serialEndpoint) NewTransport() (Transport, error) {
	return &serialTransport{cfg: &serial.Config{
		Name:        e.name,
		Baud:        e.baud,
		ReadTimeout: serialPollInterval,
	}}, nil
}

// serialTransport reads with a short timeout and loops, so Close is
// observed without relying on the driver to interrupt a blocked read.
type serialTransport struct {
	cfg *serial.Config

	mu        sync.Mutex
	port      io.ReadWriteCloser
	closed    atomic.Bool
	connected atomic.Bool
}

func (s *serialTransport) Open() error {
	if s.closed.Load() {
		return ErrNotConnected
	}
	p, err := serial.OpenPort(s.cfg)
	if err != nil {
		return fmt.Errorf("comm: open serial %s: %w", s.cfg.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		p.Close()
		return ErrNotConnected
	}
	s.port = p
	s.connected.Store(true)
	return nil
}

func (s *serialTransport) current() io.ReadWriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *serialTransport) Read(b []byte) (int, error) {
	p := s.current()
	if p == nil {
		return 0, ErrNotConnected
	}
	early := 0
	for {
		start := time.Now()
		n, err := p.Read(b)
		if n > 0 {
			return n, nil
		}
		if s.closed.Load() {
			return 0, ErrNotConnected
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.connected.Store(false)
			return 0, err
		}
		// A read timeout surfaces as (0, nil) or (0, io.EOF) after the
		// poll interval; the same result straight away is a hangup.
		if time.Since(start) >= serialPollInterval/2 {
			early = 0
			continue
		}
		early++
		if early >= serialHangupReads {
			s.connected.Store(false)
			return 0, io.EOF
		}
	}
}

func (s *serialTransport) Write(b []byte) (int, error) {
	p := s.current()
	if p == nil {
		return 0, ErrNotConnected
	}
	n, err := p.Write(b)
	if err != nil {
		s.connected.Store(false)
	}
	return n, err
}

func (s *serialTransport) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *serialTransport) IsConnected() bool { return s.connected.Load() }
