//go:build !linux

package pathmon

import (
	"net"
	"strings"
)

func listIfaces() ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(ifaces))
	for _, ifc := range ifaces {
		info := Iface{Name: ifc.Name, Flags: synthFlags(ifc.Flags)}
		addrs, err := ifc.Addrs()
		if err == nil {
			for _, addr := range addrs {
				if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
					info.HasNonLoopbackAddr = true
					break
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func synthFlags(f net.Flags) uint32 {
	var out uint32
	if f&net.FlagUp != 0 {
		out |= flagUp
	}
	if f&net.FlagRunning != 0 {
		out |= flagRunning
	}
	if f&net.FlagLoopback != 0 {
		out |= flagLoopback
	}
	if f&net.FlagPointToPoint != 0 {
		out |= flagPointToPoint
	}
	if f&net.FlagMulticast != 0 {
		out |= flagMulticast
	}
	return out
}

// Classify maps an interface name onto a coarse class. Without sysfs
// the mapping leans on conventional names.
func Classify(name string) string {
	n := strings.ToLower(name)
	switch {
	case n == "lo" || n == "lo0":
		return ClassLoopback
	case strings.HasPrefix(n, "en"), strings.HasPrefix(n, "eth"):
		return ClassEthernet
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wifi"):
		return ClassWifi
	case strings.HasPrefix(n, "ww"), strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "pdp"):
		return ClassCellular
	default:
		return ClassOther
	}
}
