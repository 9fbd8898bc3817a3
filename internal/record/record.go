package record

import "time"

// Interface classes reported per burst.
const (
	IfaceWifi     = "wifi"
	IfaceEthernet = "ethernet"
	IfaceCellular = "cellular"
	IfaceLoopback = "loopback"
	IfaceOther    = "other"
)

// TunnelInterface describes one tunnel-looking interface present at
// burst time.
type TunnelInterface struct {
	Name               string   `json:"name"`
	Flags              uint32   `json:"flags"`
	FlagsDecoded       []string `json:"flagsDecoded,omitempty"`
	HasNonLoopbackAddr bool     `json:"hasNonLoopbackAddr"`
}

// BurstRecord is one line of the JSONL log: a single burst against a
// single endpoint over a single probe path.
type BurstRecord struct {
	TsUnixMs            int64             `json:"tsUnixMs"`
	EndpointID          string            `json:"endpointId"`
	Host                string            `json:"host"`
	Port                int               `json:"port"`
	ProbePath           string            `json:"probePath,omitempty"`
	ProbeBindIface      string            `json:"probeBindIface,omitempty"`
	ProbeBindIP         string            `json:"probeBindIp,omitempty"`
	LocalAddr           string            `json:"localAddr,omitempty"`
	RegionHint          string            `json:"regionHint,omitempty"`
	SamplesMs           []float64         `json:"samplesMs"`
	MinMs               *float64          `json:"minMs"`
	P05Ms               *float64          `json:"p05Ms"`
	MedianMs            *float64          `json:"medianMs"`
	Iface               string            `json:"iface"`
	IfaceName           string            `json:"ifaceName,omitempty"`
	IfaceIsTunnel       bool              `json:"ifaceIsTunnel"`
	UtunPresent         bool              `json:"utunPresent"`
	UtunActive          bool              `json:"utunActive"`
	UtunInterfaces      []TunnelInterface `json:"utunInterfaces,omitempty"`
	DestIsLoopback      bool              `json:"destIsLoopback"`
	ClaimedEgressRegion string            `json:"claimedEgressRegion,omitempty"`
	Notes               []string          `json:"notes"`
}

// NowUnixMs returns the wall-clock timestamp written into records.
func NowUnixMs() int64 {
	return time.Now().UnixMilli()
}
