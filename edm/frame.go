// Package edm implements u-blox Extended Data Mode, the binary framing that
// multiplexes AT traffic and several peer data channels over one UART.
//
// A frame is
//
//	0xAA | length (2 bytes, big endian) | id+type (2 bytes) | body | 0x55
//
// where length counts the id+type field and the body.
package edm

import (
	"encoding/binary"
	"fmt"
)

const (
	frameHead byte = 0xAA
	frameTail byte = 0x55

	// lengthMask keeps the 12 significant bits of the length field; the
	// upper nibble is reserved.
	lengthMask = 0x0FFF

	// MaxPayloadSize is the largest body the module accepts in one frame.
	MaxPayloadSize = 0x0FFC

	// FrameOverhead is the number of bytes a frame adds around its body,
	// plus one for the channel byte of a data command.
	FrameOverhead = 7
)

// PayloadType identifies the content of a frame.
type PayloadType uint16

const (
	TypeConnectEvent    PayloadType = 0x0011
	TypeDisconnectEvent PayloadType = 0x0021
	TypeDataEvent       PayloadType = 0x0031
	TypeDataCommand     PayloadType = 0x0036
	TypeATEvent         PayloadType = 0x0041
	TypeATRequest       PayloadType = 0x0044
	TypeATResponse      PayloadType = 0x0045
	TypeStartEvent      PayloadType = 0x0071
)

// Encode builds a complete frame around body.
func Encode(t PayloadType, body []byte) ([]byte, error) {
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(body))
	}
	frame := make([]byte, 0, len(body)+6)
	frame = append(frame, frameHead)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(body)+2))
	frame = binary.BigEndian.AppendUint16(frame, uint16(t))
	frame = append(frame, body...)
	return append(frame, frameTail), nil
}

// EncodeATRequest frames an AT command line, including its terminating CR.
func EncodeATRequest(line []byte) ([]byte, error) {
	return Encode(TypeATRequest, line)
}

// EncodeData frames data for the peer connection on channel.
func EncodeData(channel uint8, data []byte) ([]byte, error) {
	if len(data)+1 > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	body := make([]byte, 0, len(data)+1)
	body = append(body, channel)
	return Encode(TypeDataCommand, append(body, data...))
}
