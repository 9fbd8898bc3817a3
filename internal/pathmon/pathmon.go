// Package pathmon observes the local network path: it classifies the
// outgoing interface and keeps a snapshot of tunnel-looking interfaces
// so probe records can mark whether a VPN was plausibly active.
package pathmon

import (
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// Interface classes.
const (
	ClassWifi     = "wifi"
	ClassEthernet = "ethernet"
	ClassCellular = "cellular"
	ClassLoopback = "loopback"
	ClassOther    = "other"
)

// Interface flag bits, fixed to the Linux values so decoded flags are
// stable across platforms.
const (
	flagUp           = 0x1
	flagLoopback     = 0x8
	flagPointToPoint = 0x10
	flagRunning      = 0x40
	flagMulticast    = 0x1000
)

var tunnelPrefixes = []string{"utun", "tun", "tap", "wg", "ppp", "ipsec"}

// Iface is one tunnel-looking interface observed on the host.
type Iface struct {
	Name               string
	Flags              uint32
	HasNonLoopbackAddr bool
}

// TunnelSnapshot is the atomic view readers take; it is never updated
// in place.
type TunnelSnapshot struct {
	Present    bool
	Active     bool
	Interfaces []Iface
}

// IsTunnelName reports whether an interface name looks like a tunnel.
func IsTunnelName(name string) bool {
	n := strings.ToLower(name)
	for _, prefix := range tunnelPrefixes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// DecodeFlags renders the interesting flag bits for the record log.
func DecodeFlags(flags uint32) []string {
	var out []string
	if flags&flagUp != 0 {
		out = append(out, "UP")
	}
	if flags&flagRunning != 0 {
		out = append(out, "RUNNING")
	}
	if flags&flagLoopback != 0 {
		out = append(out, "LOOPBACK")
	}
	if flags&flagPointToPoint != 0 {
		out = append(out, "POINTOPOINT")
	}
	if flags&flagMulticast != 0 {
		out = append(out, "MULTICAST")
	}
	return out
}

// buildSnapshot derives the tunnel view from a full interface listing.
func buildSnapshot(ifaces []Iface) TunnelSnapshot {
	var tunnels []Iface
	active := false
	for _, ifc := range ifaces {
		if !IsTunnelName(ifc.Name) {
			continue
		}
		tunnels = append(tunnels, ifc)
		if ifc.Flags&flagUp != 0 && ifc.Flags&flagRunning != 0 && ifc.HasNonLoopbackAddr {
			active = true
		}
	}
	return TunnelSnapshot{
		Present:    len(tunnels) > 0,
		Active:     active,
		Interfaces: tunnels,
	}
}

// Observe takes a one-shot tunnel snapshot.
func Observe() TunnelSnapshot {
	ifaces, err := listIfaces()
	if err != nil {
		return TunnelSnapshot{}
	}
	return buildSnapshot(ifaces)
}

// Monitor polls the interface table from a single observer goroutine.
// Readers take lock-free snapshots, so no lock is ever held across a
// burst.
type Monitor struct {
	snap atomic.Value // TunnelSnapshot
	stop chan struct{}
	done chan struct{}
}

// NewMonitor starts the observer with the given poll interval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &Monitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.snap.Store(Observe())
	go m.run(interval)
	return m
}

func (m *Monitor) run(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.snap.Store(Observe())
		}
	}
}

// Snapshot returns the latest tunnel view.
func (m *Monitor) Snapshot() TunnelSnapshot {
	return m.snap.Load().(TunnelSnapshot)
}

// Close stops the observer goroutine.
func (m *Monitor) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

// IfaceNameForIP finds the interface owning a local IP address.
func IfaceNameForIP(ip net.IP) (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.Equal(ip) {
				return ifc.Name, true
			}
		}
	}
	return "", false
}
