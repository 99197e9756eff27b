package comm

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

var testPorts = []*enumerator.PortDetails{
	{Name: "/dev/ttyS0"},
	{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "FT123"},
	{Name: "/dev/ttyUSB1", IsUSB: true, VID: "10c4", PID: "ea60"},
	{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
}

func TestMatchPort(t *testing.T) {
	tests := []struct {
		target string
		want   string
		ok     bool
	}{
		{"/dev/ttyS0", "/dev/ttyS0", true},
		{"auto", "/dev/ttyUSB1", true},
		{"2341:0043", "/dev/ttyACM0", true},
		{"10C4:EA60", "/dev/ttyUSB1", true},
		{"ft123", "/dev/ttyUSB0", true},
		{"1234:5678", "", false},
		{"COM9", "", false},
	}
	for _, tt := range tests {
		got, ok := matchPort(testPorts, tt.target)
		assert.Equal(t, tt.ok, ok, tt.target)
		assert.Equal(t, tt.want, got, tt.target)
	}
}

func TestMatchPortAutoWithoutBoard(t *testing.T) {
	_, ok := matchPort(testPorts[:2], TargetAuto)
	assert.False(t, ok)
}

func TestSerialDriverLookup(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })

	listPorts = func() ([]*enumerator.PortDetails, error) { return testPorts, nil }
	drv := &SerialDriver{}
	ep, err := drv.Lookup("auto")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1@9600", ep.Address())

	_, err = drv.Lookup("COM9")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	listPorts = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("no sysfs") }
	_, err = drv.Lookup("auto")
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestSerialTransportBeforeOpen(t *testing.T) {
	ep := &serialEndpoint{name: "/dev/null-port", baud: 9600}
	tr, err := ep.NewTransport()
	require.NoError(t, err)

	_, err = tr.Write([]byte("A\n"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, tr.IsConnected())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Open(), ErrNotConnected)
}

// silentPort answers every Read with no data after delay.
type silentPort struct {
	delay time.Duration
	reads atomic.Int32
}

func (p *silentPort) Read([]byte) (int, error) {
	time.Sleep(p.delay)
	p.reads.Add(1)
	return 0, io.EOF
}

func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *silentPort) Close() error                { return nil }

func TestSerialTransportHangupEndsRead(t *testing.T) {
	port := &silentPort{}
	st := &serialTransport{port: port}
	st.connected.Store(true)

	n, err := st.Read(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, st.IsConnected())
	assert.EqualValues(t, serialHangupReads, port.reads.Load())
}

func TestSerialTransportIdleReadKeepsWaiting(t *testing.T) {
	st := &serialTransport{port: &silentPort{delay: serialPollInterval}}
	st.connected.Store(true)

	done := make(chan error, 1)
	go func() {
		_, err := st.Read(make([]byte, 16))
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("idle read returned: %v", err)
	case <-time.After(4 * serialPollInterval):
	}
	assert.True(t, st.IsConnected())

	require.NoError(t, st.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(waitFor):
		t.Fatal("read did not notice Close")
	}
}

func TestIsVIDPID(t *testing.T) {
	assert.True(t, isVIDPID("2341:0043"))
	assert.True(t, isVIDPID("10c4:EA60"))
	assert.False(t, isVIDPID("2341"))
	assert.False(t, isVIDPID("host:8080"))
	assert.False(t, isVIDPID("23411:0043"))
}
