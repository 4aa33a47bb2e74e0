// Package machineid derives the identifier a license is bound to.
package machineid

import (
	"errors"
	"fmt"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Auto is the placeholder that Resolve replaces with the local machine id.
const Auto = "auto"

// Prefix marks machine ids derived from a hardware address.
const Prefix = "auto-"

// ErrNoHardwareAddress is returned when no interface has a usable MAC address.
var ErrNoHardwareAddress = errors.New("no network interface with a hardware address")

// interfaces is replaced in tests.
var interfaces = net.Interfaces

// Local returns the machine id of this host: Prefix followed by the upper
// case hex of the first non-loopback, up interface's hardware address.
func Local() (string, error) {
	ifaces, err := interfaces()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}
	return FromInterfaces(ifaces)
}

// FromInterfaces picks the machine id from ifaces, in order.
func FromInterfaces(ifaces []net.Interface) (string, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if !usable(iface.HardwareAddr) {
			continue
		}
		id := Prefix + strings.ToUpper(fmt.Sprintf("%x", []byte(iface.HardwareAddr)))
		log.WithFields(log.Fields{
			"interface":  iface.Name,
			"machine_id": id,
		}).Debug("Derived machine id")
		return id, nil
	}
	return "", ErrNoHardwareAddress
}

func usable(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return true
		}
	}
	return false
}

// Resolve maps Auto (any case) to Local and returns other values trimmed.
func Resolve(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, Auto) {
		return Local()
	}
	return s, nil
}
