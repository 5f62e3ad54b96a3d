package mapper

import "math"

// ConvertMeasurement converts one polar measurement to a cartesian point,
// applying the acceptance filter. The second return is false when the
// measurement is rejected: zero/negative distance, quality below the filter
// minimum, or distance beyond the filter maximum.
//
// Angles outside [0,360) are passed to the trig functions as given; the
// sensor's own frame convention is never corrected here.
func ConvertMeasurement(m Measurement, cfg FilterConfig) (Point, bool) {
	if m.DistanceMM <= 0 || m.DistanceMM > cfg.MaxDistanceMM {
		return Point{}, false
	}
	if m.Quality < cfg.MinQuality {
		return Point{}, false
	}

	rad := m.AngleDeg * math.Pi / 180.0
	return Point{
		X:          m.DistanceMM * math.Cos(rad),
		Y:          m.DistanceMM * math.Sin(rad),
		Quality:    m.Quality,
		DistanceMM: m.DistanceMM,
	}, true
}

// ProcessFrame converts one full scan frame into a Batch, applying
// ConvertMeasurement to each measurement in order. A frame with no accepted
// measurements yields an empty Batch; the producer drops empty batches
// rather than enqueueing them.
func ProcessFrame(frame []Measurement, cfg FilterConfig) Batch {
	batch := make(Batch, 0, len(frame))
	for _, m := range frame {
		if p, ok := ConvertMeasurement(m, cfg); ok {
			batch = append(batch, p)
		}
	}
	return batch
}

// Accepts reports whether an already-converted point still passes the
// filter. Used by PointStore.Refilter when the operator tightens the filter
// after acquisition.
func (cfg FilterConfig) Accepts(p Point) bool {
	return p.DistanceMM > 0 && p.DistanceMM <= cfg.MaxDistanceMM && p.Quality >= cfg.MinQuality
}
