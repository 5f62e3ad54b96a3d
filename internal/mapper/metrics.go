package mapper

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/lidarworks/roommapper/internal/units"
)

// MinMetricsPoints is the minimum-sample threshold below which room metrics
// are undefined. Bounding-box measurements over a handful of points say
// nothing useful about a room.
const MinMetricsPoints = 100

// ComputeRoomMetrics computes RoomMetrics over a read-only view of the
// current store contents. Returns ok=false when fewer than MinMetricsPoints
// points are available.
//
// The bounding box is found in one linear pass; cost is O(n) per call, which
// the scheduler's decimation keeps off the hot path.
func ComputeRoomMetrics(points []Point) (RoomMetrics, bool) {
	if len(points) < MinMetricsPoints {
		return RoomMetrics{}, false
	}

	minX, maxX := points[0].X, points[0].X
	minY, maxY := points[0].Y, points[0].Y
	distances := make([]float64, len(points))
	for i, p := range points {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
		distances[i] = p.DistanceMM
	}

	width := maxX - minX
	height := maxY - minY

	sort.Float64s(distances)

	return RoomMetrics{
		MinX:           minX,
		MinY:           minY,
		MaxX:           maxX,
		MaxY:           maxY,
		WidthMM:        width,
		HeightMM:       height,
		AreaM2:         units.MM2ToM2(width * height),
		PerimeterMM:    2 * (width + height),
		CentroidX:      (maxX + minX) / 2,
		CentroidY:      (maxY + minY) / 2,
		MeanDistanceMM: stat.Mean(distances, nil),
		P95DistanceMM:  stat.Quantile(0.95, stat.Empirical, distances, nil),
		PointCount:     len(points),
	}, true
}
