package comm

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	afBTH          = 32
	bthprotoRFCOMM = 3
	sockaddrBTHLen = 30
)

var modws2_32 = windows.NewLazySystemDLL("ws2_32.dll")
var procConnect = modws2_32.NewProc("connect")

// lookupBonded on Windows accepts only a device address; the pairing
// database is not enumerated.
func lookupBonded(_ string, target string, _ *zap.Logger) (string, error) {
	if _, err := net.ParseMAC(target); err != nil {
		return "", fmt.Errorf("%w: %q is not a Bluetooth address", ErrTargetNotFound, target)
	}
	return target, nil
}

// rawBtSocket is an RFCOMM Winsock socket driven by WSARecv/WSASend.
type rawBtSocket struct {
	addr    uint64
	channel uint8

	mu        sync.Mutex
	fd        windows.Handle
	opened    bool
	connected atomic.Bool
}

func newRFCOMM(mac string, channel uint8) (Transport, error) {
	addr, err := macToUint64(mac)
	if err != nil {
		return nil, err
	}
	fd, err := windows.Socket(afBTH, windows.SOCK_STREAM, bthprotoRFCOMM)
	if err != nil {
		return nil, fmt.Errorf("comm: create rfcomm socket: %w", err)
	}
	return &rawBtSocket{addr: addr, channel: channel, fd: fd}, nil
}

// Open connects by the SPP service class. Port 0 lets the stack resolve
// the channel through SDP.
func (s *rawBtSocket) Open() error {
	s.mu.Lock()
	fd := s.fd
	if fd == windows.InvalidHandle || s.opened {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	guid, err := windows.GUIDFromString("{" + SPPUUID + "}")
	if err != nil {
		return err
	}
	// SOCKADDR_BTH is packed: family(2) addr(8) guid(16) port(4).
	rawSa := make([]byte, sockaddrBTHLen)
	*(*uint16)(unsafe.Pointer(&rawSa[0])) = afBTH
	*(*uint64)(unsafe.Pointer(&rawSa[2])) = s.addr
	*(*windows.GUID)(unsafe.Pointer(&rawSa[10])) = guid
	*(*uint32)(unsafe.Pointer(&rawSa[26])) = 0

	r1, _, callErr := procConnect.Call(uintptr(fd), uintptr(unsafe.Pointer(&rawSa[0])), uintptr(sockaddrBTHLen))
	if r1 != 0 {
		return fmt.Errorf("comm: winsock connect: %v", callErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd == windows.InvalidHandle {
		return ErrNotConnected
	}
	s.opened = true
	s.connected.Store(true)
	return nil
}

func (s *rawBtSocket) handle() windows.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return windows.InvalidHandle
	}
	return s.fd
}

func (s *rawBtSocket) Read(p []byte) (int, error) {
	fd := s.handle()
	if fd == windows.InvalidHandle {
		return 0, ErrNotConnected
	}
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var done, flags uint32
	if err := windows.WSARecv(fd, &buf, 1, &done, &flags, nil, nil); err != nil {
		s.connected.Store(false)
		return 0, err
	}
	if done == 0 {
		s.connected.Store(false)
		return 0, io.EOF
	}
	return int(done), nil
}

func (s *rawBtSocket) Write(p []byte) (int, error) {
	fd := s.handle()
	if fd == windows.InvalidHandle {
		return 0, ErrNotConnected
	}
	var total int
	for total < len(p) {
		remaining := p[total:]
		buf := windows.WSABuf{Len: uint32(len(remaining)), Buf: &remaining[0]}
		var done uint32
		if err := windows.WSASend(fd, &buf, 1, &done, 0, nil, nil); err != nil {
			s.connected.Store(false)
			return total, err
		}
		if done == 0 {
			s.connected.Store(false)
			return total, io.ErrUnexpectedEOF
		}
		total += int(done)
	}
	return total, nil
}

func (s *rawBtSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd == windows.InvalidHandle {
		return nil
	}
	err := windows.Closesocket(s.fd)
	s.fd = windows.InvalidHandle
	s.opened = false
	s.connected.Store(false)
	return err
}

func (s *rawBtSocket) IsConnected() bool { return s.connected.Load() }
