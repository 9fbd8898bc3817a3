//go:build linux

package pathmon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"
)

// listIfaces enumerates interfaces through netlink, which exposes the
// raw flag word and addresses without extra syscall round trips.
func listIfaces() ([]Iface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		ifc := Iface{
			Name:  attrs.Name,
			Flags: attrs.RawFlags,
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err == nil {
			for _, addr := range addrs {
				if addr.IP != nil && !addr.IP.IsLoopback() {
					ifc.HasNonLoopbackAddr = true
					break
				}
			}
		}
		out = append(out, ifc)
	}
	return out, nil
}

// Classify maps an interface name onto a coarse class.
func Classify(name string) string {
	if name == "lo" {
		return ClassLoopback
	}
	if _, err := os.Stat(filepath.Join("/sys/class/net", name, "wireless")); err == nil {
		return ClassWifi
	}
	if data, err := os.ReadFile(filepath.Join("/sys/class/net", name, "type")); err == nil {
		// ARPHRD_ETHER
		if strings.TrimSpace(string(data)) == "1" && !IsTunnelName(name) {
			return ClassEthernet
		}
	}
	if strings.HasPrefix(name, "ww") || strings.HasPrefix(name, "rmnet") {
		return ClassCellular
	}
	return ClassOther
}
