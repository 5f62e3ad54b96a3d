// Package units provides shared distance conversions. Sensor ranges and
// point coordinates are millimetres throughout; human-facing surfaces
// (metrics, charts) report metres.
package units

// Conversion factors from the millimetre base unit.
const (
	MMPerM   = 1000.0
	MM2PerM2 = 1_000_000.0
)

// MMToM converts a length in millimetres to metres.
func MMToM(mm float64) float64 {
	return mm / MMPerM
}

// MM2ToM2 converts an area in square millimetres to square metres.
func MM2ToM2(mm2 float64) float64 {
	return mm2 / MM2PerM2
}
