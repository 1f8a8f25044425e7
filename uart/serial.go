package uart

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is the factory UART speed of u-blox short-range modules.
const DefaultBaudRate = 115200

// SerialDialer opens a module over a local serial device using
// go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// Mode overrides the line settings. When nil, 8N1 at BaudRate is used.
	Mode *serial.Mode
	// BaudRate is used when Mode is nil. Zero means DefaultBaudRate.
	BaudRate int
	// AssertRTS raises RTS and DTR on open, which modules wired for
	// hardware flow control need before they will transmit.
	AssertRTS bool
}

// Dial opens the serial device and discards any stale input.
func (d SerialDialer) Dial(ctx context.Context) (Port, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.PortName == "" {
		return nil, ErrPortNameRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}
	if d.AssertRTS {
		m := *mode
		m.InitialStatusBits = &serial.ModemOutputBits{RTS: true, DTR: true}
		mode = &m
	}

	type result struct {
		port serial.Port
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := serial.Open(d.PortName, mode)
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		// Close the port if the open completes after we gave up.
		go func() {
			if r := <-done; r.err == nil {
				r.port.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("uart: open %s: %w", d.PortName, r.err)
		}
		if err := r.port.ResetInputBuffer(); err != nil {
			r.port.Close()
			return nil, fmt.Errorf("uart: reset input %s: %w", d.PortName, err)
		}
		return r.port, nil
	}
}
