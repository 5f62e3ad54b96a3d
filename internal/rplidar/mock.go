package rplidar

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lidarworks/roommapper/internal/mapper"
)

// MockDevice simulates an RPLidar scanning a rectangular room. It implements
// mapper.Device and is used by dev mode and tests, mirroring the role of the
// real serial device without hardware attached.
type MockDevice struct {
	// RoomWidthMM and RoomHeightMM set the simulated room size. The sensor
	// sits at the room centre.
	RoomWidthMM  float64
	RoomHeightMM float64
	// RotationPeriod is the simulated time per rotation. Zero selects 100ms
	// (a 10Hz A1).
	RotationPeriod time.Duration
	// NoiseMM is the peak range jitter added per measurement.
	NoiseMM float64
	// SamplesPerFrame is the number of measurements per rotation. Zero
	// selects 360.
	SamplesPerFrame int

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	scanning  bool
}

// NewMockDevice returns a simulator for a 4m x 3m room.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		RoomWidthMM:  4000,
		RoomHeightMM: 3000,
		NoiseMM:      20,
	}
}

func (d *MockDevice) Connect(ctx context.Context) (mapper.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return mapper.DeviceInfo{}, fmt.Errorf("mock: already connected")
	}
	d.connected = true
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return mapper.DeviceInfo{
		Model:        "mock-a1",
		Firmware:     "1.29",
		Hardware:     7,
		SerialNumber: "6d6f636b6c6964617200000000000000",
	}, nil
}

func (d *MockDevice) Health() (mapper.HealthStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return mapper.HealthStatus{}, fmt.Errorf("mock: not connected")
	}
	return mapper.HealthStatus{Status: "good"}, nil
}

func (d *MockDevice) StartScan(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("mock: not connected")
	}
	d.scanning = true
	return nil
}

// NextFrame produces one rotation of synthetic measurements, pacing itself
// at the configured rotation period.
func (d *MockDevice) NextFrame(ctx context.Context) ([]mapper.Measurement, error) {
	d.mu.Lock()
	if !d.scanning {
		d.mu.Unlock()
		return nil, fmt.Errorf("mock: not scanning")
	}
	rng := d.rng
	d.mu.Unlock()

	period := d.RotationPeriod
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	select {
	case <-time.After(period):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	samples := d.SamplesPerFrame
	if samples <= 0 {
		samples = 360
	}

	frame := make([]mapper.Measurement, 0, samples)
	for i := 0; i < samples; i++ {
		angle := 360.0 * float64(i) / float64(samples)
		dist := d.wallDistance(angle) + d.NoiseMM*(2*rng.Float64()-1)
		quality := uint8(10 + rng.Intn(30))
		if rng.Float64() < 0.02 {
			// Occasional failed pulse, reported with zero quality and
			// distance like the real sensor.
			frame = append(frame, mapper.Measurement{AngleDeg: angle})
			continue
		}
		frame = append(frame, mapper.Measurement{
			Quality:    quality,
			AngleDeg:   angle,
			DistanceMM: dist,
		})
	}
	return frame, nil
}

// wallDistance is the range from the room centre to the wall at the given
// bearing.
func (d *MockDevice) wallDistance(angleDeg float64) float64 {
	rad := angleDeg * math.Pi / 180.0
	cos, sin := math.Cos(rad), math.Sin(rad)
	halfW, halfH := d.RoomWidthMM/2, d.RoomHeightMM/2

	dist := math.MaxFloat64
	if cos != 0 {
		if t := halfW / math.Abs(cos); t < dist {
			dist = t
		}
	}
	if sin != 0 {
		if t := halfH / math.Abs(sin); t < dist {
			dist = t
		}
	}
	return dist
}

func (d *MockDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanning = false
	return nil
}

func (d *MockDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}
