//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const profileIface = "org.bluez.Profile1"

var errListenerClosed = errors.New("boardsim: listener closed")

// Peer is one incoming RFCOMM socket.
type Peer struct {
	*os.File
	Device dbus.ObjectPath
}

// RFCOMMListener registers a BlueZ server profile for a service UUID and
// receives each incoming RFCOMM socket through Profile1.NewConnection.
type RFCOMMListener struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	uuid   string
	accept chan *Peer
	done   chan struct{}
	once   sync.Once
}

type bluetoothProfile struct {
	l *RFCOMMListener
}

func (p *bluetoothProfile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if err := unix.SetNonblock(int(fd), true); err != nil {
		unix.Close(int(fd))
		return dbus.MakeFailedError(err)
	}
	peer := &Peer{File: os.NewFile(uintptr(fd), "rfcomm"), Device: device}
	// BlueZ waits on this call, so hand the socket off without blocking.
	go func() {
		select {
		case p.l.accept <- peer:
		case <-p.l.done:
			peer.Close()
		}
	}()
	return nil
}

func (p *bluetoothProfile) RequestDisconnection(dbus.ObjectPath) *dbus.Error { return nil }
func (p *bluetoothProfile) Release() *dbus.Error                             { return nil }

// ListenRFCOMM registers a server profile for uuid on channel.
func ListenRFCOMM(uuid string, channel uint16) (*RFCOMMListener, error) {
	dconn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("boardsim: system bus: %w", err)
	}

	path := dbus.ObjectPath(fmt.Sprintf("/dosgo/btlocker/boardsim%d", os.Getpid()))
	l := &RFCOMMListener{
		conn:   dconn,
		path:   path,
		uuid:   uuid,
		accept: make(chan *Peer),
		done:   make(chan struct{}),
	}

	if err := dconn.Export(&bluetoothProfile{l: l}, path, profileIface); err != nil {
		return nil, fmt.Errorf("boardsim: export profile: %w", err)
	}

	options := map[string]dbus.Variant{
		"Name":    dbus.MakeVariant("LockerBoard"),
		"Role":    dbus.MakeVariant("server"),
		"Channel": dbus.MakeVariant(channel),
	}
	obj := dconn.Object("org.bluez", "/org/bluez")
	if err := obj.Call("org.bluez.ProfileManager1.RegisterProfile", 0, path, uuid, options).Store(); err != nil {
		dconn.Export(nil, path, profileIface)
		return nil, fmt.Errorf("boardsim: RegisterProfile: %w", err)
	}
	return l, nil
}

func (l *RFCOMMListener) Accept() (*Peer, error) {
	select {
	case peer := <-l.accept:
		return peer, nil
	case <-l.done:
		return nil, errListenerClosed
	}
}

// Close unregisters the profile. The shared system bus stays open.
func (l *RFCOMMListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		obj := l.conn.Object("org.bluez", "/org/bluez")
		err = obj.Call("org.bluez.ProfileManager1.UnregisterProfile", 0, l.path).Err
		l.conn.Export(nil, l.path, profileIface)
	})
	return err
}

// UUID returns the service class the listener is registered for.
func (l *RFCOMMListener) UUID() string { return l.uuid }
