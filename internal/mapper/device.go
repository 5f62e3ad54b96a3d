package mapper

import "context"

// DeviceInfo describes a connected sensor.
type DeviceInfo struct {
	Model        string
	Firmware     string
	Hardware     int
	SerialNumber string
}

// HealthStatus is the sensor's self-reported health.
type HealthStatus struct {
	// Status is "good", "warning" or "error".
	Status    string
	ErrorCode uint16
}

// Device is the sensor driver capability the pipeline consumes. The pipeline
// never speaks the wire protocol; it only sees whole scan frames.
//
// NextFrame blocks until one full rotation of measurements is available or
// the context is cancelled. It is the only intentional blocking point in the
// pipeline. The frame stream is not restartable once Stop has been called.
type Device interface {
	Connect(ctx context.Context) (DeviceInfo, error)
	Health() (HealthStatus, error)
	StartScan(ctx context.Context) error
	NextFrame(ctx context.Context) ([]Measurement, error)
	Stop() error
	Disconnect() error
}
