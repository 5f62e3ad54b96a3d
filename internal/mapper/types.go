// Package mapper implements the acquisition-to-presentation pipeline that
// turns rotating range-sensor scans into a live, bounded point cloud with
// derived room metrics.
package mapper

import "fmt"

// Measurement is a single quality/angle/distance triple from one sensor
// pulse. Angles are degrees, distances millimetres. Measurements are
// ephemeral: they are produced by the driver and consumed immediately by
// ConvertMeasurement.
type Measurement struct {
	Quality    uint8
	AngleDeg   float64
	DistanceMM float64
}

// Point is a filtered measurement converted to cartesian coordinates
// (millimetres, sensor frame). Points are immutable once accepted into a
// PointStore.
type Point struct {
	X          float64
	Y          float64
	Quality    uint8
	DistanceMM float64
}

// Batch is the ordered accepted-point output of processing one scan frame.
type Batch []Point

// FilterConfig controls which measurements are accepted into the cloud.
// It may be updated at any time; acquisition applies it per-frame and
// PointStore.Refilter applies it retroactively to stored history.
type FilterConfig struct {
	// MaxDistanceMM rejects returns beyond this range. Typical values are
	// 1000-16000 for indoor A-series sensors.
	MaxDistanceMM float64 `json:"max_distance_mm"`
	// MinQuality rejects returns with a lower quality. The sensor reports
	// zero quality for failed pulses, so the minimum useful value is 1.
	MinQuality uint8 `json:"min_quality"`
}

// Legal range for FilterConfig.MaxDistanceMM.
const (
	MinFilterDistanceMM = 1000.0
	MaxFilterDistanceMM = 16000.0
)

// DefaultFilterConfig matches the sensor's indoor defaults.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{MaxDistanceMM: 8000, MinQuality: 1}
}

// RoomMetrics summarises the current point cloud: axis-aligned bounding box,
// derived room dimensions, and range statistics. Metrics are always a pure
// function of the store contents and are only defined once at least
// MinMetricsPoints points have been collected.
type RoomMetrics struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`

	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`

	// AreaM2 is the bounding-box area converted from mm² to m².
	AreaM2      float64 `json:"area_m2"`
	PerimeterMM float64 `json:"perimeter_mm"`

	CentroidX float64 `json:"centroid_x"`
	CentroidY float64 `json:"centroid_y"`

	// Range statistics over all stored points.
	MeanDistanceMM float64 `json:"mean_distance_mm"`
	P95DistanceMM  float64 `json:"p95_distance_mm"`

	PointCount int `json:"point_count"`
}

// State is the pipeline lifecycle state. Only the Session mutates it.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateScanning
	StateStopping
	StateError
)

// String returns the lowercase state name used in logs and the API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateScanning:
		return "scanning"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives pipeline notifications. OnBatchMerged is invoked at the
// decimated rate from the scheduler with a snapshot copy of the store and the
// current metrics (ok is false below the minimum-sample threshold). Observers
// must treat the snapshot as read-only.
type Observer interface {
	OnBatchMerged(snapshot []Point, metrics RoomMetrics, ok bool)
	OnFault(err error)
	OnStateChanged(state State)
}
