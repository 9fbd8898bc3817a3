package probe

import (
	"fmt"
	"net"

	"github.com/svdrecbd/LATTICE/internal/config"
)

// Target is one (path, endpoint) probe task. Its Key doubles as the
// endpoint id written into records: endpoints on a non-default path get
// "<endpointId>@<pathId>".
type Target struct {
	Endpoint  config.Endpoint
	PathID    string
	BindIface string
	BindIP    net.IP
}

// Key returns the per-path endpoint key.
func (t Target) Key() string {
	if t.PathID == "" || t.PathID == config.DefaultPathID {
		return t.Endpoint.ID
	}
	return t.Endpoint.ID + "@" + t.PathID
}

// ExpandTargets duplicates every endpoint once per probe path. An empty
// probePaths list means a single unbound default path.
func ExpandTargets(cfg config.Config) ([]Target, error) {
	paths := cfg.ProbePaths
	if len(paths) == 0 {
		paths = []config.ProbePath{{ID: config.DefaultPathID}}
	}

	var out []Target
	for _, path := range paths {
		bindIP, err := resolveBindIP(path)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", path.ID, err)
		}
		for _, ep := range cfg.Endpoints {
			out = append(out, Target{
				Endpoint:  ep,
				PathID:    path.ID,
				BindIface: path.BindInterface,
				BindIP:    bindIP,
			})
		}
	}
	return out, nil
}

// resolveBindIP picks the source address for a path: an explicit bindIp
// wins, else the first address of bindInterface.
func resolveBindIP(path config.ProbePath) (net.IP, error) {
	if path.BindIP != "" {
		ip := net.ParseIP(path.BindIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid bindIp %q", path.BindIP)
		}
		return ip, nil
	}
	if path.BindInterface == "" {
		return nil, nil
	}

	ifc, err := net.InterfaceByName(path.BindInterface)
	if err != nil {
		return nil, fmt.Errorf("bind interface %s: %w", path.BindInterface, err)
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, fmt.Errorf("bind interface %s: %w", path.BindInterface, err)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			return ipNet.IP, nil
		}
	}
	return nil, fmt.Errorf("no addresses on interface %s", path.BindInterface)
}

// isLoopbackHost reports whether a destination host is local.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
