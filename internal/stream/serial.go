package stream

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	serial "github.com/daedaluz/goserial"
)

// SerialSource reads trace bytes off a UART, the usual transport for an
// on-board SWO/TRACE pin wired through a USB-serial adapter.
type SerialSource struct {
	port *serial.Port
}

// OpenSerial opens name (e.g. "/dev/ttyUSB0"), puts the line into raw
// mode, and configures 8N1 framing at baud. Trace UARTs commonly run at
// non-standard rates (921600, 2000000, ...), so the baud is always
// programmed as a custom speed rather than matched against the fixed
// Bxxxx constants.
func OpenSerial(name string, baud uint32) (*SerialSource, error) {
	port, err := serial.Open(name, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", name, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("stream: make raw: %w", err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("stream: get attrs: %w", err)
	}
	attrs.Cflag &^= serial.CSIZE | serial.PARENB | serial.CSTOPB
	attrs.Cflag |= serial.CS8
	attrs.SetCustomSpeed(baud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("stream: set attrs: %w", err)
	}
	return &SerialSource{port: port}, nil
}

func (s *SerialSource) Read(buf []byte, timeout time.Duration) (int, Status, error) {
	n, err := s.port.ReadTimeout(buf, timeout)
	if err == nil {
		return n, OK, nil
	}
	if err == serial.ErrClosed {
		return n, Error, err
	}
	if isTimeout(err) {
		return n, Timeout, nil
	}
	return n, Error, err
}

func (s *SerialSource) Close() error {
	return s.port.Close()
}

// isTimeout reports whether a read aborted because WaitInput's deadline
// elapsed rather than because of a real I/O failure.
func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EAGAIN)
}
