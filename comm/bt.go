package comm

import (
	"fmt"
	"net"

	"go.uber.org/zap"
)

// SPPUUID is the Serial Port Profile service class the board exposes.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

// BluetoothDriver connects over RFCOMM to a device that is already paired
// with the local adapter. The target is the device name, alias or address.
type BluetoothDriver struct {
	Adapter string // BlueZ adapter name, "hci0" when empty
	Channel uint8  // RFCOMM channel, 1 when zero
	Log     *zap.Logger
}

func (d *BluetoothDriver) Kind() string { return DriverBluetooth }

// Lookup finds target among the bonded devices. If the adapter is off it
// asks the system to power it on and fails with ErrTransportUnavailable;
// a later Lookup can succeed once the adapter is up.
func (d *BluetoothDriver) Lookup(target string) (Endpoint, error) {
	mac, err := lookupBonded(d.adapter(), target, d.logger())
	if err != nil {
		return nil, err
	}
	return &btEndpoint{mac: mac, channel: d.channel()}, nil
}

func (d *BluetoothDriver) adapter() string {
	if d.Adapter == "" {
		return "hci0"
	}
	return d.Adapter
}

func (d *BluetoothDriver) channel() uint8 {
	if d.Channel == 0 {
		return 1
	}
	return d.Channel
}

func (d *BluetoothDriver) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

type btEndpoint struct {
	mac     string
	channel uint8
}

func (e *btEndpoint) Address() string { return fmt.Sprintf("%s#%d", e.mac, e.channel) }

func (e *btEndpoint) NewTransport() (Transport, error) {
	return newRFCOMM(e.mac, e.channel)
}

// macToUint64 packs a MAC with the first octet in the high byte.
func macToUint64(macStr string) (uint64, error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return 0, err
	}
	if len(hw) != 6 {
		return 0, fmt.Errorf("comm: %q is not a Bluetooth address", macStr)
	}
	var result uint64
	for i := 0; i < 6; i++ {
		result = (result << 8) | uint64(hw[i])
	}
	return result, nil
}

// parseBDAddr converts a MAC into the little-endian BD_ADDR layout the
// kernel expects.
func parseBDAddr(macStr string) ([6]byte, error) {
	var b [6]byte
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return b, err
	}
	if len(hw) != 6 {
		return b, fmt.Errorf("comm: %q is not a Bluetooth address", macStr)
	}
	for i := 0; i < 6; i++ {
		b[i] = hw[5-i]
	}
	return b, nil
}
