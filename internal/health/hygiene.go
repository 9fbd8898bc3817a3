package health

import (
	"sort"

	"github.com/svdrecbd/LATTICE/internal/config"
)

// HostGroup is a cluster of endpoint ids sharing one host.
type HostGroup struct {
	Host string   `json:"host"`
	IDs  []string `json:"ids"`
}

// Hygiene lists config smells that degrade analysis quality.
type Hygiene struct {
	MissingCoords  []string    `json:"missingCoords"`
	MissingRegion  []string    `json:"missingRegion"`
	DuplicateHosts []HostGroup `json:"duplicateHosts"`
}

// BuildHygiene inspects the endpoint set: entries without coordinates
// cannot contribute to estimation, entries without a region hint never
// trigger the detector, and duplicate hosts multiply load for no
// additional signal.
func BuildHygiene(endpoints []config.Endpoint) Hygiene {
	h := Hygiene{
		MissingCoords: []string{},
		MissingRegion: []string{},
	}
	hostMap := map[string][]string{}
	for _, ep := range endpoints {
		if ep.Lat == nil || ep.Lon == nil {
			h.MissingCoords = append(h.MissingCoords, ep.ID)
		}
		if ep.RegionHint == "" {
			h.MissingRegion = append(h.MissingRegion, ep.ID)
		}
		if ep.Host != "" {
			hostMap[ep.Host] = append(hostMap[ep.Host], ep.ID)
		}
	}

	hosts := make([]string, 0, len(hostMap))
	for host, ids := range hostMap {
		if len(ids) > 1 {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	h.DuplicateHosts = make([]HostGroup, 0, len(hosts))
	for _, host := range hosts {
		h.DuplicateHosts = append(h.DuplicateHosts, HostGroup{Host: host, IDs: hostMap[host]})
	}
	return h
}
