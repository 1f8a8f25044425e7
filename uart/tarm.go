package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// TarmDialer opens a serial device with github.com/tarm/serial. It is
// kept as an alternative driver for platforms where go.bug.st/serial
// cannot enumerate or open the device.
type TarmDialer struct {
	PortName string
	BaudRate int
	// ReadTimeout bounds each underlying read so Close can interrupt a
	// blocked reader. Zero means 100ms.
	ReadTimeout time.Duration
}

// Dial opens the device.
func (d TarmDialer) Dial(ctx context.Context) (Port, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.PortName == "" {
		return nil, ErrPortNameRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	p, err := serial.OpenPort(&serial.Config{
		Name:        d.PortName,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", d.PortName, err)
	}
	if err := p.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("uart: flush %s: %w", d.PortName, err)
	}
	return &tarmPort{port: p}, nil
}

// tarmPort turns the timeout-bounded reads of tarm/serial into the
// blocking reads the Port contract requires.
type tarmPort struct {
	port   *serial.Port
	closed atomic.Bool
}

func (p *tarmPort) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, io.EOF
		}
		n, err := p.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if p.closed.Load() {
				return 0, io.EOF
			}
			return 0, err
		}
	}
}

func (p *tarmPort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.port.Write(b)
}

func (p *tarmPort) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}
