// Package rplidar implements the mapper.Device capability for RPLidar
// A-series sensors speaking the 0xA5 binary protocol over a serial port,
// plus a mock device for development and tests.
package rplidar

import (
	"encoding/hex"
	"fmt"

	"github.com/lidarworks/roommapper/internal/mapper"
)

// Protocol constants for the A-series request/response framing.
const (
	syncByte     = 0xA5
	syncByteResp = 0x5A

	cmdStop      = 0x25
	cmdReset     = 0x40
	cmdScan      = 0x20
	cmdGetInfo   = 0x50
	cmdGetHealth = 0x52

	respTypeInfo   = 0x04
	respTypeHealth = 0x06
	respTypeScan   = 0x81

	infoPayloadLen   = 20
	healthPayloadLen = 3
	scanNodeLen      = 5

	descriptorLen = 7
)

// descriptor is a decoded 7-byte response descriptor.
type descriptor struct {
	payloadLen int
	sendMode   byte
	dataType   byte
}

// parseDescriptor validates and decodes a response descriptor. The length
// field is 30 bits little-endian with the send mode in the top 2 bits.
func parseDescriptor(buf []byte) (descriptor, error) {
	if len(buf) != descriptorLen {
		return descriptor{}, fmt.Errorf("descriptor is %d bytes, want %d", len(buf), descriptorLen)
	}
	if buf[0] != syncByte || buf[1] != syncByteResp {
		return descriptor{}, fmt.Errorf("bad descriptor sync %02x %02x", buf[0], buf[1])
	}
	size := uint32(buf[2]) | uint32(buf[3])<<8 | uint32(buf[4])<<16 | uint32(buf[5])<<24
	return descriptor{
		payloadLen: int(size & 0x3FFFFFFF),
		sendMode:   byte(size >> 30),
		dataType:   buf[6],
	}, nil
}

// parseInfo decodes a 20-byte GET_INFO payload.
func parseInfo(buf []byte) (mapper.DeviceInfo, error) {
	if len(buf) != infoPayloadLen {
		return mapper.DeviceInfo{}, fmt.Errorf("info payload is %d bytes, want %d", len(buf), infoPayloadLen)
	}
	return mapper.DeviceInfo{
		Model:        fmt.Sprintf("A-series model %d", buf[0]),
		Firmware:     fmt.Sprintf("%d.%d", buf[2], buf[1]),
		Hardware:     int(buf[3]),
		SerialNumber: hex.EncodeToString(buf[4:20]),
	}, nil
}

// parseHealth decodes a 3-byte GET_HEALTH payload.
func parseHealth(buf []byte) (mapper.HealthStatus, error) {
	if len(buf) != healthPayloadLen {
		return mapper.HealthStatus{}, fmt.Errorf("health payload is %d bytes, want %d", len(buf), healthPayloadLen)
	}
	status := ""
	switch buf[0] {
	case 0:
		status = "good"
	case 1:
		status = "warning"
	case 2:
		status = "error"
	default:
		return mapper.HealthStatus{}, fmt.Errorf("unknown health status byte %d", buf[0])
	}
	return mapper.HealthStatus{
		Status:    status,
		ErrorCode: uint16(buf[1]) | uint16(buf[2])<<8,
	}, nil
}

// scanNode is one decoded 5-byte measurement node.
type scanNode struct {
	newRotation bool
	m           mapper.Measurement
}

// parseScanNode decodes one measurement node. The start flag and its
// inverted copy, and the fixed check bit in byte 1, guard against losing
// byte alignment mid-stream.
func parseScanNode(buf []byte) (scanNode, error) {
	if len(buf) != scanNodeLen {
		return scanNode{}, fmt.Errorf("scan node is %d bytes, want %d", len(buf), scanNodeLen)
	}
	start := buf[0]&0x01 != 0
	inverted := buf[0]&0x02 != 0
	if start == inverted {
		return scanNode{}, fmt.Errorf("scan node start bits corrupt: %02x", buf[0])
	}
	if buf[1]&0x01 == 0 {
		return scanNode{}, fmt.Errorf("scan node check bit clear: %02x", buf[1])
	}

	angleQ6 := uint16(buf[1])>>1 | uint16(buf[2])<<7
	distQ2 := uint16(buf[3]) | uint16(buf[4])<<8

	return scanNode{
		newRotation: start,
		m: mapper.Measurement{
			Quality:    buf[0] >> 2,
			AngleDeg:   float64(angleQ6) / 64.0,
			DistanceMM: float64(distQ2) / 4.0,
		},
	}, nil
}

// request frames a command for the wire.
func request(cmd byte) []byte {
	return []byte{syncByte, cmd}
}
