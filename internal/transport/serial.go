package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
)

// InitialBaudRate is the rate the bootloader ROM listens at after reset.
// Higher rates are negotiated over the link, never assumed at open time.
const InitialBaudRate = 115200

// drainTimeout is the per-read timeout while flushing stale input.
const drainTimeout = time.Millisecond

// SerialPort is the Transport implementation for a real UART device.
type SerialPort struct {
	port        serial.Port
	device      string
	readTimeout time.Duration
}

// Open opens the serial device at the bootloader's initial baud rate.
func Open(device string) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: InitialBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial device %s: %w", device, err)
	}
	logging.Debug("serial port opened", zap.String("device", device))
	return &SerialPort{port: port, device: device}, nil
}

// Read reads up to len(p) bytes, bounded by the configured read timeout.
func (s *SerialPort) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

// Write writes p to the device and waits until it is transmitted.
func (s *SerialPort) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.port.Drain()
}

// SetReadTimeout bounds subsequent reads.
func (s *SerialPort) SetReadTimeout(d time.Duration) error {
	if err := s.port.SetReadTimeout(d); err != nil {
		return err
	}
	s.readTimeout = d
	return nil
}

// Drain discards buffered input, then restores the configured read timeout.
func (s *SerialPort) Drain() error {
	if err := s.port.SetReadTimeout(drainTimeout); err != nil {
		return err
	}
	buf := make([]byte, 1024)
	for {
		n, err := s.port.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
	return s.port.SetReadTimeout(s.readTimeout)
}

// SetBaud switches the line speed. Called after the bootloader acknowledged
// a SetBaudRate command; the chip switches mid-command, so timing matters
// and is handled by the caller.
func (s *SerialPort) SetBaud(rate int) error {
	return s.port.SetMode(&serial.Mode{
		BaudRate: rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// ResetChip toggles the RTS/DTR lines to reset the chip, for boards that
// route them to the reset circuitry.
func (s *SerialPort) ResetChip() error {
	if err := s.port.SetRTS(true); err != nil {
		return err
	}
	if err := s.port.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.port.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return s.port.SetRTS(false)
}

// Close releases the serial device.
func (s *SerialPort) Close() error {
	logging.Debug("serial port closed", zap.String("device", s.device))
	return s.port.Close()
}
