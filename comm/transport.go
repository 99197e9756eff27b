package comm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTransportUnavailable means the underlying link subsystem (Bluetooth
	// adapter, serial enumeration) is disabled or missing.
	ErrTransportUnavailable = errors.New("comm: transport unavailable")
	// ErrTargetNotFound means the target is not among the known peers.
	ErrTargetNotFound = errors.New("comm: target not found")
	// ErrNotConnected is returned by a Transport used before Open or after Close.
	ErrNotConnected = errors.New("comm: not connected")
)

// Transport is one bidirectional byte stream to the board.
//
// A Transport handle is good for a single connection attempt: once Open has
// failed or Close was called it cannot be reopened. Read and Write may run
// concurrently with each other; callers serialise writes.
type Transport interface {
	// Open connects the handle. It blocks for the duration of one attempt.
	Open() error
	io.ReadWriteCloser
	IsConnected() bool
}

// Endpoint is a located peer that fresh transports can be built for.
type Endpoint interface {
	// Address is the resolved peer address, for logs.
	Address() string
	// NewTransport builds a new, unopened handle.
	NewTransport() (Transport, error)
}

// Driver is one link technology. Lookup resolves a TargetIdentity among the
// peers the system already knows, failing with ErrTransportUnavailable or
// ErrTargetNotFound.
type Driver interface {
	Kind() string
	Lookup(target string) (Endpoint, error)
}

// Driver kinds accepted in Config.Driver.
const (
	DriverBluetooth = "bluetooth"
	DriverSerial    = "serial"
	DriverNet       = "tcp"
	DriverSim       = "sim"
)

// NewDriver builds the driver selected by cfg.Driver.
func NewDriver(cfg *Config, log *zap.Logger) (Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Driver {
	case DriverBluetooth, "":
		return &BluetoothDriver{Adapter: cfg.Adapter, Channel: cfg.Channel, Log: log}, nil
	case DriverSerial:
		return &SerialDriver{Baud: cfg.Baud, Log: log}, nil
	case DriverNet:
		return &NetDriver{Proxy: cfg.Proxy, Timeout: cfg.DialTimeout.Duration}, nil
	case DriverSim:
		return &SimDriver{ConnectDelay: 2 * time.Second, AckDelay: 500 * time.Millisecond, ReplyDelay: 5 * time.Second}, nil
	default:
		return nil, fmt.Errorf("comm: unknown driver %q", cfg.Driver)
	}
}
