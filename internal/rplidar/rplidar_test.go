package rplidar

import (
	"bytes"
	"context"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort scripts the sensor side of the wire: reads are served from a
// pre-built byte stream, writes are recorded for command assertions.
type fakePort struct {
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
	dtr    []bool
}

func (p *fakePort) Read(buf []byte) (int, error)  { return p.in.Read(buf) }
func (p *fakePort) Write(buf []byte) (int, error) { return p.out.Write(buf) }
func (p *fakePort) Close() error                  { p.closed = true; return nil }
func (p *fakePort) SetDTR(dtr bool) error         { p.dtr = append(p.dtr, dtr); return nil }

func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error              { return nil }

// descriptorBytes builds a response descriptor for the fake stream.
func descriptorBytes(payloadLen int, sendMode, dataType byte) []byte {
	size := uint32(payloadLen) | uint32(sendMode)<<30
	return []byte{0xA5, 0x5A, byte(size), byte(size >> 8), byte(size >> 16), byte(size >> 24), dataType}
}

// infoBytes builds a GET_INFO payload.
func infoBytes() []byte {
	buf := make([]byte, infoPayloadLen)
	buf[0] = 24
	buf[1] = 29
	buf[2] = 1
	buf[3] = 5
	return buf
}

// installFakePort swaps the port opener for the test's lifetime.
func installFakePort(t *testing.T, p *fakePort) {
	t.Helper()
	orig := openPort
	openPort = func(portName string, mode *serial.Mode) (serialPort, error) { return p, nil }
	t.Cleanup(func() { openPort = orig })
}

func TestSerialDevice_ConnectAndHealth(t *testing.T) {
	p := &fakePort{}
	p.in.Write(descriptorBytes(infoPayloadLen, 0, respTypeInfo))
	p.in.Write(infoBytes())
	p.in.Write(descriptorBytes(healthPayloadLen, 0, respTypeHealth))
	p.in.Write([]byte{0, 0, 0})
	installFakePort(t, p)

	dev := NewSerialDevice("/dev/ttyUSB0", 0)
	info, err := dev.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if info.Firmware != "1.29" {
		t.Errorf("firmware = %q, want 1.29", info.Firmware)
	}

	health, err := dev.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "good" {
		t.Errorf("health = %q, want good", health.Status)
	}

	// The wire saw GET_INFO then GET_HEALTH.
	want := []byte{syncByte, cmdGetInfo, syncByte, cmdGetHealth}
	if !bytes.Equal(p.out.Bytes(), want) {
		t.Errorf("commands on wire = %x, want %x", p.out.Bytes(), want)
	}

	if err := dev.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !p.closed {
		t.Error("port left open after Disconnect")
	}
}

func TestSerialDevice_FrameAssembly(t *testing.T) {
	p := &fakePort{}
	p.in.Write(descriptorBytes(infoPayloadLen, 0, respTypeInfo))
	p.in.Write(infoBytes())
	p.in.Write(descriptorBytes(scanNodeLen, 1, respTypeScan))

	// Two rotations: 3 nodes, then 2 nodes, then the start of a third.
	for i, deg := range []float64{0, 120, 240} {
		p.in.Write(encodeScanNode(i == 0, 20, deg, 1000+deg))
	}
	for i, deg := range []float64{10, 190} {
		p.in.Write(encodeScanNode(i == 0, 20, deg, 2000+deg))
	}
	p.in.Write(encodeScanNode(true, 20, 5, 3000))
	installFakePort(t, p)

	dev := NewSerialDevice("/dev/ttyUSB0", 0)
	ctx := context.Background()
	if _, err := dev.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := dev.StartScan(ctx); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	frame, err := dev.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if len(frame) != 3 {
		t.Fatalf("first rotation has %d measurements, want 3", len(frame))
	}
	if frame[1].AngleDeg < 119 || frame[1].AngleDeg > 121 {
		t.Errorf("second measurement angle = %v, want ~120", frame[1].AngleDeg)
	}

	frame, err = dev.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if len(frame) != 2 {
		t.Fatalf("second rotation has %d measurements, want 2", len(frame))
	}
	if frame[0].AngleDeg < 9 || frame[0].AngleDeg > 11 {
		t.Errorf("carried-over start node angle = %v, want ~10", frame[0].AngleDeg)
	}

	// Motor control: DTR low on StartScan.
	if len(p.dtr) == 0 || p.dtr[0] != false {
		t.Errorf("DTR sequence = %v, want motor-on (false) first", p.dtr)
	}
}

func TestSerialDevice_NextFrameCancellation(t *testing.T) {
	p := &fakePort{}
	p.in.Write(descriptorBytes(infoPayloadLen, 0, respTypeInfo))
	p.in.Write(infoBytes())
	p.in.Write(descriptorBytes(scanNodeLen, 1, respTypeScan))
	// No scan nodes: the stream runs dry and reads return zero bytes.
	installFakePort(t, p)

	dev := NewSerialDevice("/dev/ttyUSB0", 0)
	if _, err := dev.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := dev.StartScan(context.Background()); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.NextFrame(ctx); err == nil {
		t.Error("NextFrame returned without error on cancelled context")
	}
}

func TestMockDevice_RoomGeometry(t *testing.T) {
	dev := NewMockDevice()
	dev.RotationPeriod = time.Millisecond
	dev.NoiseMM = 0

	ctx := context.Background()
	if _, err := dev.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := dev.StartScan(ctx); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	frame, err := dev.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if len(frame) != 360 {
		t.Fatalf("frame has %d samples, want 360", len(frame))
	}

	// Straight ahead the wall is half the room width away.
	if m := frame[0]; m.DistanceMM != 0 && m.DistanceMM != 2000 {
		t.Errorf("range at 0 deg = %v, want 2000 (or a dropped pulse)", m.DistanceMM)
	}

	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := dev.NextFrame(ctx); err == nil {
		t.Error("NextFrame succeeded after Stop")
	}
}
