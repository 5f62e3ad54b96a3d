package rplidar

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/lidarworks/roommapper/internal/mapper"
	"github.com/lidarworks/roommapper/internal/monitoring"
)

// DefaultBaudRate is the A1/A2 wire rate.
const DefaultBaudRate = 115200

// readTimeout bounds each serial read so the frame loop can observe
// context cancellation between reads.
const readTimeout = 500 * time.Millisecond

// serialPort is the slice of go.bug.st/serial.Port the driver needs. The
// narrow interface lets tests script the wire without real hardware.
type serialPort interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openPort opens the real serial port; tests replace it.
var openPort = func(portName string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(portName, mode)
}

// SerialDevice drives an RPLidar over a local serial port. It implements
// mapper.Device. Methods are not safe for concurrent use; the pipeline's
// acquisition goroutine is the only caller after Connect.
type SerialDevice struct {
	portName string
	baud     int
	port     serialPort
	scanning bool

	// pending holds the first node of the next rotation, carried over from
	// the previous NextFrame call.
	pending *mapper.Measurement
}

// NewSerialDevice creates an unconnected device for the given port path
// (e.g. /dev/ttyUSB0 or COM3). Zero baud selects the default.
func NewSerialDevice(portName string, baud int) *SerialDevice {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &SerialDevice{portName: portName, baud: baud}
}

// Connect opens the serial port and reads the sensor's identity block.
func (d *SerialDevice) Connect(ctx context.Context) (mapper.DeviceInfo, error) {
	if d.port != nil {
		return mapper.DeviceInfo{}, fmt.Errorf("rplidar: already connected")
	}

	mode := &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := openPort(d.portName, mode)
	if err != nil {
		return mapper.DeviceInfo{}, fmt.Errorf("rplidar: opening %s: %w", d.portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return mapper.DeviceInfo{}, fmt.Errorf("rplidar: setting read timeout: %w", err)
	}
	d.port = port

	// Clear anything the sensor emitted before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		monitoring.Logf("rplidar: could not reset input buffer: %v", err)
	}

	info, err := d.getInfo(ctx)
	if err != nil {
		d.closePort()
		return mapper.DeviceInfo{}, err
	}
	return info, nil
}

func (d *SerialDevice) getInfo(ctx context.Context) (mapper.DeviceInfo, error) {
	payload, err := d.command(ctx, cmdGetInfo, respTypeInfo, infoPayloadLen)
	if err != nil {
		return mapper.DeviceInfo{}, fmt.Errorf("rplidar: get info: %w", err)
	}
	return parseInfo(payload)
}

// Health queries the sensor's self-test result.
func (d *SerialDevice) Health() (mapper.HealthStatus, error) {
	if d.port == nil {
		return mapper.HealthStatus{}, fmt.Errorf("rplidar: not connected")
	}
	payload, err := d.command(context.Background(), cmdGetHealth, respTypeHealth, healthPayloadLen)
	if err != nil {
		return mapper.HealthStatus{}, fmt.Errorf("rplidar: get health: %w", err)
	}
	return parseHealth(payload)
}

// StartScan spins the motor up and enters continuous scan mode. After a
// successful return, NextFrame yields one full rotation per call.
func (d *SerialDevice) StartScan(ctx context.Context) error {
	if d.port == nil {
		return fmt.Errorf("rplidar: not connected")
	}
	if d.scanning {
		return fmt.Errorf("rplidar: already scanning")
	}

	// A-series motors are switched through DTR: low spins the motor up.
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("rplidar: starting motor: %w", err)
	}
	// Give the rotation a moment to stabilise before sampling.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := d.port.Write(request(cmdScan)); err != nil {
		return fmt.Errorf("rplidar: sending scan command: %w", err)
	}
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return fmt.Errorf("rplidar: scan descriptor: %w", err)
	}
	if desc.dataType != respTypeScan || desc.payloadLen != scanNodeLen {
		return fmt.Errorf("rplidar: unexpected scan descriptor type %02x len %d", desc.dataType, desc.payloadLen)
	}
	d.scanning = true
	d.pending = nil
	return nil
}

// NextFrame blocks until one full rotation of measurements has been read.
// The rotation boundary is the sensor's own new-scan flag. Corrupt nodes
// resynchronise by scanning for the next plausible node header.
func (d *SerialDevice) NextFrame(ctx context.Context) ([]mapper.Measurement, error) {
	if !d.scanning {
		return nil, fmt.Errorf("rplidar: not scanning")
	}

	var frame []mapper.Measurement
	if d.pending != nil {
		frame = append(frame, *d.pending)
		d.pending = nil
	}

	buf := make([]byte, scanNodeLen)
	for {
		if err := d.readFull(ctx, buf); err != nil {
			return nil, err
		}
		node, err := parseScanNode(buf)
		if err != nil {
			if rerr := d.resync(ctx, buf); rerr != nil {
				return nil, rerr
			}
			continue
		}
		if node.newRotation && len(frame) > 0 {
			d.pending = &node.m
			return frame, nil
		}
		frame = append(frame, node.m)
	}
}

// resync slides the node window one byte at a time until the start/check
// bits line up again. buf holds the last (corrupt) node and is reused.
func (d *SerialDevice) resync(ctx context.Context, buf []byte) error {
	monitoring.Logf("rplidar: lost node alignment, resynchronising")
	one := make([]byte, 1)
	for attempts := 0; attempts < 256; attempts++ {
		copy(buf, buf[1:])
		if err := d.readFull(ctx, one); err != nil {
			return err
		}
		buf[scanNodeLen-1] = one[0]
		if _, err := parseScanNode(buf); err == nil {
			// The aligned node itself is consumed by the caller's next read;
			// shift it back is not possible, so accept the one-node loss.
			return nil
		}
	}
	return fmt.Errorf("rplidar: could not regain node alignment")
}

// Stop leaves scan mode and spins the motor down. The frame stream is not
// restartable afterwards; reconnect to scan again.
func (d *SerialDevice) Stop() error {
	if d.port == nil || !d.scanning {
		return nil
	}
	d.scanning = false
	if _, err := d.port.Write(request(cmdStop)); err != nil {
		return fmt.Errorf("rplidar: sending stop: %w", err)
	}
	// The protocol requires a settle delay after STOP before further
	// commands.
	time.Sleep(10 * time.Millisecond)
	if err := d.port.SetDTR(true); err != nil {
		return fmt.Errorf("rplidar: stopping motor: %w", err)
	}
	if err := d.port.ResetInputBuffer(); err != nil {
		monitoring.Logf("rplidar: could not drain input after stop: %v", err)
	}
	return nil
}

// Disconnect closes the serial port.
func (d *SerialDevice) Disconnect() error {
	if d.port == nil {
		return nil
	}
	return d.closePort()
}

func (d *SerialDevice) closePort() error {
	err := d.port.Close()
	d.port = nil
	d.scanning = false
	d.pending = nil
	return err
}

// command sends a request and reads its descriptor and fixed-size payload.
func (d *SerialDevice) command(ctx context.Context, cmd, wantType byte, wantLen int) ([]byte, error) {
	if _, err := d.port.Write(request(cmd)); err != nil {
		return nil, fmt.Errorf("sending command %02x: %w", cmd, err)
	}
	desc, err := d.readDescriptor(ctx)
	if err != nil {
		return nil, err
	}
	if desc.dataType != wantType || desc.payloadLen != wantLen {
		return nil, fmt.Errorf("unexpected response type %02x len %d for command %02x",
			desc.dataType, desc.payloadLen, cmd)
	}
	payload := make([]byte, wantLen)
	if err := d.readFull(ctx, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (d *SerialDevice) readDescriptor(ctx context.Context) (descriptor, error) {
	buf := make([]byte, descriptorLen)
	if err := d.readFull(ctx, buf); err != nil {
		return descriptor{}, err
	}
	return parseDescriptor(buf)
}

// readFull fills buf, retrying short timed-out reads until the context is
// cancelled. go.bug.st/serial reports a timeout as a zero-byte read.
func (d *SerialDevice) readFull(ctx context.Context, buf []byte) error {
	filled := 0
	for filled < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.port.Read(buf[filled:])
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("serial port closed: %w", err)
			}
			return fmt.Errorf("serial read: %w", err)
		}
		filled += n
	}
	return nil
}
