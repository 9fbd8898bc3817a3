package analyze

import (
	"math"

	"github.com/svdrecbd/LATTICE/internal/config"
	"github.com/svdrecbd/LATTICE/internal/geo"
)

// Estimator defaults.
const (
	DefaultGridDeg         = 1.0
	DefaultRefineDeg       = 0.1
	DefaultBandFactorTight = 1.5
	DefaultBandFactorLoose = 4.0
	DefaultBandWindowDeg   = 3.0

	worldLatMax      = 89.0
	worldLonMax      = 180.0
	refineWindowMult = 3.0
	sseEpsilon       = 1e-9
	minBandEllipse   = 3
)

// Ellipse is the 1-sigma contour of the band cells' weighted
// covariance, in km along the principal axes.
type Ellipse struct {
	MajorKm  float64 `json:"majorKm"`
	MinorKm  float64 `json:"minorKm"`
	AngleDeg float64 `json:"angleDeg"`
}

// Band is an uncertainty region around the estimate: every grid cell
// whose SSE stays under the threshold.
type Band struct {
	RadiusKm     float64  `json:"radiusKm"`
	SSEThreshold float64  `json:"sseThreshold"`
	Points       int      `json:"points"`
	MinLat       float64  `json:"minLat"`
	MaxLat       float64  `json:"maxLat"`
	MinLon       float64  `json:"minLon"`
	MaxLon       float64  `json:"maxLon"`
	Ellipse      *Ellipse `json:"ellipse,omitempty"`
}

// Estimate is the least-squares origin fit.
type Estimate struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	BiasMs    float64 `json:"biasMs"`
	SSE       float64 `json:"sse"`
	Points    int     `json:"points"`
	BandTight *Band   `json:"bandTight,omitempty"`
	BandLoose *Band   `json:"bandLoose,omitempty"`
}

// EstimateOptions tune the grid search.
type EstimateOptions struct {
	GridDeg         float64
	RefineDeg       float64
	BandFactorTight float64
	BandFactorLoose float64
	BandWindowDeg   float64
}

// DefaultEstimateOptions returns the coarse-then-refine defaults.
func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		GridDeg:         DefaultGridDeg,
		RefineDeg:       DefaultRefineDeg,
		BandFactorTight: DefaultBandFactorTight,
		BandFactorLoose: DefaultBandFactorLoose,
		BandWindowDeg:   DefaultBandWindowDeg,
	}
}

type observation struct {
	lat      float64
	lon      float64
	rttMs    float64
	jitterMs float64
}

// EstimateLocation runs the two-pass grid search. It returns nil when
// fewer than 3 endpoints have coordinates and valid samples: the
// analyzer never fabricates an origin.
func EstimateLocation(stats map[string]EndpointStats, endpoints []config.Endpoint, effSpeedKmS float64, opts EstimateOptions, cal *Calibration) *Estimate {
	if opts.GridDeg <= 0 || opts.RefineDeg <= 0 {
		return nil
	}

	byID := config.EndpointsByID(endpoints)
	var obs []observation
	for _, id := range sortedKeys(stats) {
		st := stats[id]
		ep, ok := config.ResolveEndpoint(byID, id)
		if !ok || ep.Lat == nil || ep.Lon == nil || st.Count == 0 {
			continue
		}
		rtt := cal.AdjustRTT(st.P05Ms, id)
		if !isFinite(rtt) || rtt <= 0 {
			continue
		}
		obs = append(obs, observation{
			lat:      *ep.Lat,
			lon:      *ep.Lon,
			rttMs:    rtt,
			jitterMs: math.Max(st.JitterMs, MinJitterMs),
		})
	}
	if len(obs) < 3 {
		return nil
	}

	coarse := gridSearch(obs, effSpeedKmS, -worldLatMax, worldLatMax, -worldLonMax, worldLonMax, opts.GridDeg)
	window := math.Max(opts.GridDeg, opts.RefineDeg*refineWindowMult)
	best := gridSearch(obs, effSpeedKmS,
		coarse.lat-window, coarse.lat+window,
		coarse.lon-window, coarse.lon+window,
		opts.RefineDeg)

	bandWindow := math.Max(opts.BandWindowDeg, window)
	est := &Estimate{
		Lat:    best.lat,
		Lon:    best.lon,
		BiasMs: best.bias,
		SSE:    best.sse,
		Points: len(obs),
	}
	est.BandTight = fitBand(obs, effSpeedKmS, best, opts.RefineDeg, opts.BandFactorTight, bandWindow)
	est.BandLoose = fitBand(obs, effSpeedKmS, best, opts.RefineDeg, opts.BandFactorLoose, bandWindow)
	return est
}

type gridBest struct {
	lat  float64
	lon  float64
	sse  float64
	bias float64
}

func gridSearch(obs []observation, effSpeedKmS, latMin, latMax, lonMin, lonMax, step float64) gridBest {
	best := gridBest{sse: math.Inf(1)}
	for lat := math.Max(latMin, -worldLatMax); lat <= math.Min(latMax, worldLatMax); lat += step {
		for lon := lonMin; lon <= lonMax; lon += step {
			sse, bias := sseForCandidate(lat, lon, obs, effSpeedKmS)
			if sse < best.sse {
				best = gridBest{lat: lat, lon: lon, sse: sse, bias: bias}
			}
		}
	}
	return best
}

// sseForCandidate evaluates one grid cell. The bias that minimizes the
// weighted SSE has the closed form sum(w*(obs-pred))/sum(w); it is
// clamped at zero because a negative shared bias has no physical
// reading.
func sseForCandidate(lat, lon float64, obs []observation, effSpeedKmS float64) (sse, bias float64) {
	sumW := 0.0
	sumWX := 0.0
	for _, o := range obs {
		dist := geo.HaversineKm(lat, lon, o.lat, o.lon)
		pred := geo.ExpectedRTTMs(dist, effSpeedKmS)
		w := 1.0 / o.jitterMs
		sumW += w
		sumWX += w * (o.rttMs - pred)
	}
	if sumW > 0 {
		bias = sumWX / sumW
	}
	if bias < 0 {
		bias = 0
	}
	for _, o := range obs {
		dist := geo.HaversineKm(lat, lon, o.lat, o.lon)
		pred := geo.ExpectedRTTMs(dist, effSpeedKmS) + bias
		w := 1.0 / o.jitterMs
		err := o.rttMs - pred
		sse += w * err * err
	}
	return sse, bias
}

// fitBand collects every cell under the SSE threshold around the best
// fit. Cells are weighted by 1/(sse-best+eps) for the covariance
// ellipse; with fewer than minBandEllipse cells only the circle radius
// is reported.
func fitBand(obs []observation, effSpeedKmS float64, best gridBest, step, factor, windowDeg float64) *Band {
	if step <= 0 {
		return nil
	}
	threshold := math.Max(best.sse*factor, best.sse+sseEpsilon)

	band := &Band{
		SSEThreshold: threshold,
		MinLat:       best.lat,
		MaxLat:       best.lat,
		MinLon:       best.lon,
		MaxLon:       best.lon,
	}

	kmPerDeg := 2.0 * math.Pi * geo.EarthRadiusKm / 360.0
	cosLat := math.Cos(best.lat * math.Pi / 180.0)

	var (
		sumW, sumDx, sumDy      float64
		sumDx2, sumDy2, sumDxDy float64
	)

	latMin := math.Max(best.lat-windowDeg, -worldLatMax)
	latMax := math.Min(best.lat+windowDeg, worldLatMax)
	for lat := latMin; lat <= latMax; lat += step {
		for lon := best.lon - windowDeg; lon <= best.lon+windowDeg; lon += step {
			sse, _ := sseForCandidate(lat, lon, obs, effSpeedKmS)
			if sse > threshold {
				continue
			}
			band.Points++
			dist := geo.HaversineKm(best.lat, best.lon, lat, lon)
			if dist > band.RadiusKm {
				band.RadiusKm = dist
			}
			band.MinLat = math.Min(band.MinLat, lat)
			band.MaxLat = math.Max(band.MaxLat, lat)
			band.MinLon = math.Min(band.MinLon, lon)
			band.MaxLon = math.Max(band.MaxLon, lon)

			w := 1.0 / (sse - best.sse + sseEpsilon)
			dx := (lon - best.lon) * cosLat * kmPerDeg
			dy := (lat - best.lat) * kmPerDeg
			sumW += w
			sumDx += w * dx
			sumDy += w * dy
			sumDx2 += w * dx * dx
			sumDy2 += w * dy * dy
			sumDxDy += w * dx * dy
		}
	}

	if band.Points == 0 {
		return nil
	}
	if band.Points >= minBandEllipse && sumW > 0 {
		band.Ellipse = covarianceEllipse(sumW, sumDx, sumDy, sumDx2, sumDy2, sumDxDy)
	}
	return band
}

// covarianceEllipse turns weighted second moments into the 1-sigma
// principal-axes ellipse.
func covarianceEllipse(sumW, sumDx, sumDy, sumDx2, sumDy2, sumDxDy float64) *Ellipse {
	meanDx := sumDx / sumW
	meanDy := sumDy / sumW
	varX := math.Max(0, sumDx2/sumW-meanDx*meanDx)
	varY := math.Max(0, sumDy2/sumW-meanDy*meanDy)
	covXY := sumDxDy/sumW - meanDx*meanDy

	trace := varX + varY
	det := varX*varY - covXY*covXY
	term := math.Max(0, trace*trace/4.0-det)
	root := math.Sqrt(term)
	eig1 := trace/2.0 + root
	eig2 := trace/2.0 - root

	major := 0.0
	if eig1 > 0 {
		major = math.Sqrt(eig1)
	}
	minor := 0.0
	if eig2 > 0 {
		minor = math.Sqrt(eig2)
	}
	angle := 0.5 * (180.0 / math.Pi) * math.Atan2(2.0*covXY, varX-varY)
	return &Ellipse{MajorKm: major, MinorKm: minor, AngleDeg: angle}
}
