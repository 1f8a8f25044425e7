// Package uart provides the raw byte transport to a short-range module:
// an established serial link plus the dialers that open one.
package uart

import (
	"context"
	"errors"
	"io"
)

//go:generate go tool mockgen -destination=mock_uart.go -package=uart . Port,Dialer

var (
	// ErrPortNameRequired is returned by a dialer configured without a
	// device path.
	ErrPortNameRequired = errors.New("uart: port name is required")

	// ErrNilContext is returned when Dial is called with a nil context.
	ErrNilContext = errors.New("uart: context is nil")
)

// Port represents an established, bidirectional byte stream to a module.
//
// A Port is assumed to be open and ready for use. Read must block until at
// least one byte is available or the port is closed, in which case it
// returns io.EOF. Typical implementations are serial ports and the
// in-memory TestPort.
type Port interface {
	io.ReadWriteCloser
}

// Dialer opens a Port.
//
// Dial may block and should respect cancellation of ctx. Once a Port has
// been obtained the Dialer is no longer needed.
type Dialer interface {
	Dial(ctx context.Context) (Port, error)
}
