package comm

import (
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// lookupBonded resolves target to the address of a device paired with
// adapter, using BlueZ over the system bus.
func lookupBonded(adapter, target string, log *zap.Logger) (string, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return "", fmt.Errorf("%w: system bus: %v", ErrTransportUnavailable, err)
	}

	var objs managedObjects
	call := bus.Object(bluezService, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return "", fmt.Errorf("%w: GetManagedObjects: %v", ErrTransportUnavailable, call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return "", fmt.Errorf("%w: decode GetManagedObjects: %v", ErrTransportUnavailable, err)
	}

	adapterPath := dbus.ObjectPath("/org/bluez/" + adapter)
	props, ok := objs[adapterPath][adapterIface]
	if !ok {
		return "", fmt.Errorf("%w: adapter %s not found", ErrTransportUnavailable, adapter)
	}
	if powered, _ := props["Powered"].Value().(bool); !powered {
		go powerOn(bus, adapterPath, log)
		return "", fmt.Errorf("%w: adapter %s is powered off", ErrTransportUnavailable, adapter)
	}

	if path, dev, ok := findBonded(objs, adapterPath, target); ok {
		if addr := stringProp(dev, "Address"); addr != "" {
			return addr, nil
		}
		return macFromPath(path), nil
	}
	return "", fmt.Errorf("%w: %q is not paired with %s", ErrTargetNotFound, target, adapter)
}

// findBonded picks the paired device under adapterPath whose name, alias
// or address equals target. Ties go to the lowest object path.
func findBonded(objs managedObjects, adapterPath dbus.ObjectPath, target string) (dbus.ObjectPath, map[string]dbus.Variant, bool) {
	prefix := string(adapterPath) + "/"
	var (
		bestPath dbus.ObjectPath
		best     map[string]dbus.Variant
	)
	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if paired, _ := dev["Paired"].Value().(bool); !paired {
			continue
		}
		if stringProp(dev, "Name") != target &&
			stringProp(dev, "Alias") != target &&
			!strings.EqualFold(stringProp(dev, "Address"), target) {
			continue
		}
		if best == nil || path < bestPath {
			bestPath, best = path, dev
		}
	}
	return bestPath, best, best != nil
}

// powerOn asks BlueZ to power the adapter. Failures are logged only.
func powerOn(bus *dbus.Conn, adapterPath dbus.ObjectPath, log *zap.Logger) {
	obj := bus.Object(bluezService, adapterPath)
	err := obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err
	if err != nil {
		log.Warn("comm: power on adapter", zap.String("adapter", string(adapterPath)), zap.Error(err))
		return
	}
	log.Info("comm: adapter power-on requested", zap.String("adapter", string(adapterPath)))
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// macFromPath extracts the address from .../dev_XX_XX_XX_XX_XX_XX.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
