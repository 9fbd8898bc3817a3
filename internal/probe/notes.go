package probe

import (
	"fmt"
	"strings"
)

// PhysicsNotes flags a burst whose minimum RTT is too large for the
// claimed egress region. The region match is a loose case-insensitive
// substring check in either direction, intentionally forgiving.
func PhysicsNotes(regionHint, claimed string, minMs *float64, thresholdMs float64) []string {
	if regionHint == "" || claimed == "" || minMs == nil {
		return nil
	}
	a := strings.ToLower(claimed)
	b := strings.ToLower(regionHint)
	if !strings.Contains(a, b) && !strings.Contains(b, a) {
		return nil
	}
	if *minMs <= thresholdMs {
		return nil
	}
	return []string{fmt.Sprintf(
		"physics_mismatch: claimed=%s endpoint=%s min_rtt_ms=%.1f threshold_ms=%.1f",
		claimed, regionHint, *minMs, thresholdMs,
	)}
}
