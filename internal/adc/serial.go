package adc

import (
	"bufio"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/sweeney/pv-router/internal/router"
)

// DefaultBaudRate carries three channels at ~3.2 kHz sample sets with margin.
const DefaultBaudRate = 460800

// Frame layout: 2 bytes big-endian, bits 15..14 channel tag, bits 13..12
// always zero, bits 11..0 conversion value. Tag 3 is a resync marker the
// front-end sends after a restart.
const (
	tagShift    = 14
	tagMarker   = 3
	reservedBit = 0x3000
	valueMask   = 0x0fff
)

// Serial reads frames from the front-end MCU.
type Serial struct {
	conn io.ReadCloser
	r    *bufio.Reader

	// Misaligned counts bytes dropped to regain frame alignment.
	Misaligned uint64
}

// OpenSerial opens the serial port and discards anything already buffered.
func OpenSerial(port string, baudRate int) (*Serial, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("reset serial input %s: %w", port, err)
	}
	return newSerial(p), nil
}

func newSerial(conn io.ReadCloser) *Serial {
	return &Serial{conn: conn, r: bufio.NewReaderSize(conn, 4096)}
}

// Read returns the next conversion, skipping resync markers.
func (s *Serial) Read() (Conversion, error) {
	hi, err := s.r.ReadByte()
	if err != nil {
		return Conversion{}, err
	}
	for {
		lo, err := s.r.ReadByte()
		if err != nil {
			return Conversion{}, err
		}
		word := uint16(hi)<<8 | uint16(lo)
		if word&reservedBit != 0 {
			// out of step: slide one byte
			s.Misaligned++
			hi = lo
			continue
		}
		tag := word >> tagShift
		if tag == tagMarker {
			if hi, err = s.r.ReadByte(); err != nil {
				return Conversion{}, err
			}
			continue
		}
		return Conversion{Channel: router.Channel(tag), Value: int16(word & valueMask)}, nil
	}
}

// Close closes the port.
func (s *Serial) Close() error {
	return s.conn.Close()
}

// Ports lists the serial ports available on this machine.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// EncodeFrame builds the frame for a conversion; used by simulators and tests.
func EncodeFrame(c Conversion) [2]byte {
	word := uint16(c.Channel)<<tagShift | uint16(c.Value)&valueMask
	return [2]byte{byte(word >> 8), byte(word)}
}

// MarkerFrame is the resync marker.
var MarkerFrame = [2]byte{tagMarker << 6, 0}
