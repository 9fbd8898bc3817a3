package analyze

// Delta is a per-endpoint p05 shift between a baseline window and the
// current session. A VPN toggling on typically shows up as a large
// positive delta toward the exit's geography.
type Delta struct {
	ID             string  `json:"id"`
	DeltaP05Ms     float64 `json:"deltaP05Ms"`
	BaselineP05Ms  float64 `json:"baselineP05Ms"`
	SessionP05Ms   float64 `json:"sessionP05Ms"`
}

// BuildDeltas compares every endpoint present in both windows.
func BuildDeltas(baseline, session map[string]EndpointStats) []Delta {
	var out []Delta
	for _, id := range sortedKeys(baseline) {
		b := baseline[id]
		s, ok := session[id]
		if !ok || b.Count == 0 || s.Count == 0 {
			continue
		}
		out = append(out, Delta{
			ID:            id,
			DeltaP05Ms:    s.P05Ms - b.P05Ms,
			BaselineP05Ms: b.P05Ms,
			SessionP05Ms:  s.P05Ms,
		})
	}
	return out
}
