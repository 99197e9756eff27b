package comm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// DefaultConfigFile is read by the daemon when no -config flag is given.
const DefaultConfigFile = "_config.json"

// Duration is a time.Duration written as a string ("1s", "250ms") in JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config describes one locker link and the surfaces around it.
type Config struct {
	Driver  string // bluetooth | serial | tcp | sim
	Target  string // paired device name/MAC, serial port, vid:pid, or host:port
	Adapter string // BlueZ adapter
	Channel uint8  // RFCOMM channel
	Baud    int
	Proxy   string // optional SOCKS5 proxy for the tcp driver

	Delimiter      string
	RetryInterval  Duration
	DialTimeout    Duration
	ReadBufferSize int
	MaxFrameLength int // 0 = unbounded

	ConsoleAddr    string
	HTTPAddr       string
	ReconnectDelay Duration
	LogLevel       string
}

// DefaultConfig returns the settings used for anything the file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Driver:         DriverBluetooth,
		Adapter:        "hci0",
		Channel:        1,
		Baud:           9600,
		Delimiter:      string(DefaultDelimiter),
		RetryInterval:  Duration{DefaultRetryInterval},
		DialTimeout:    Duration{5 * time.Second},
		ReadBufferSize: DefaultReadBufferSize,
		ConsoleAddr:    ":8866",
		HTTPAddr:       ":8867",
		ReconnectDelay: Duration{2 * time.Second},
		LogLevel:       "info",
	}
}

// LoadConfig reads path on top of DefaultConfig. A missing file is not an
// error; the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("comm: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("comm: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as indented JSON.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("comm: encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("comm: write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the fields the link engine depends on.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverBluetooth, DriverSerial, DriverNet, DriverSim:
	default:
		return fmt.Errorf("comm: unknown driver %q", c.Driver)
	}
	if c.Target == "" && c.Driver != DriverSim {
		return errors.New("comm: target is required")
	}
	if len(c.Delimiter) != 1 || c.Delimiter[0] >= 0x80 {
		return fmt.Errorf("comm: delimiter must be a single ASCII byte, got %q", c.Delimiter)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("comm: read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	if c.RetryInterval.Duration < 0 || c.ReconnectDelay.Duration < 0 || c.DialTimeout.Duration < 0 {
		return errors.New("comm: durations must not be negative")
	}
	if c.MaxFrameLength < 0 {
		return fmt.Errorf("comm: max frame length must not be negative, got %d", c.MaxFrameLength)
	}
	return nil
}

// ClientOptions converts the link settings into Client options.
func (c *Config) ClientOptions() []Option {
	opts := []Option{
		WithRetryInterval(c.RetryInterval.Duration),
		WithReadBufferSize(c.ReadBufferSize),
		WithMaxFrameLength(c.MaxFrameLength),
	}
	if len(c.Delimiter) == 1 {
		opts = append(opts, WithDelimiter(c.Delimiter[0]))
	}
	return opts
}
