package edm

import (
	"encoding/binary"
	"encoding/hex"
	"net/netip"
	"strings"
)

// EventKind is the decoded meaning of a frame received from the module.
type EventKind int

const (
	EventConnectBT EventKind = iota
	EventConnectIPv4
	EventConnectIPv6
	EventDisconnect
	EventData
	EventATResponse
	EventATEvent
	EventStartup
)

func (k EventKind) String() string {
	switch k {
	case EventConnectBT:
		return "connect-bt"
	case EventConnectIPv4:
		return "connect-ipv4"
	case EventConnectIPv6:
		return "connect-ipv6"
	case EventDisconnect:
		return "disconnect"
	case EventData:
		return "data"
	case EventATResponse:
		return "at-response"
	case EventATEvent:
		return "at-event"
	case EventStartup:
		return "startup"
	}
	return "unknown"
}

// BTProfile is the Bluetooth profile carried by a BT connection.
type BTProfile uint8

const (
	ProfileSPP BTProfile = 0
	ProfileDUN BTProfile = 1
	ProfileSPS BTProfile = 14
)

// IPProtocol is the transport carried by an IP connection.
type IPProtocol uint8

const (
	ProtocolTCP  IPProtocol = 0
	ProtocolUDP  IPProtocol = 1
	ProtocolMQTT IPProtocol = 2
)

// BTConnection describes a Bluetooth peer that connected on a channel.
type BTConnection struct {
	Profile BTProfile
	Address [6]byte
	// FrameSize is the largest data chunk the link carries in one go.
	FrameSize uint16
}

// AddressString renders Address the way the module prints it in AT
// responses: twelve upper-case hex digits.
func (c BTConnection) AddressString() string {
	return strings.ToUpper(hex.EncodeToString(c.Address[:]))
}

// IPConnection describes an IP peer that connected on a channel.
type IPConnection struct {
	Protocol IPProtocol
	Remote   netip.AddrPort
	Local    netip.AddrPort
}

// Event is one decoded frame.
type Event struct {
	Kind    EventKind
	Channel uint8
	BT      BTConnection
	IP      IPConnection
	// Data holds the peer bytes of EventData or the text of
	// EventATResponse/EventATEvent.
	Data []byte
}

// decodePayload turns a frame payload (id+type plus body) into an Event.
// It reports false for frames that are malformed or not events.
func decodePayload(payload []byte) (Event, bool) {
	if len(payload) < 2 {
		return Event{}, false
	}
	t := PayloadType(binary.BigEndian.Uint16(payload) & lengthMask)
	body := payload[2:]

	switch t {
	case TypeConnectEvent:
		return decodeConnect(body)

	case TypeDisconnectEvent:
		if len(body) != 1 {
			return Event{}, false
		}
		return Event{Kind: EventDisconnect, Channel: body[0]}, true

	case TypeDataEvent:
		if len(body) < 2 {
			return Event{}, false
		}
		return Event{Kind: EventData, Channel: body[0], Data: clone(body[1:])}, true

	case TypeATResponse:
		return Event{Kind: EventATResponse, Data: clone(body)}, true

	case TypeATEvent:
		return Event{Kind: EventATEvent, Data: clone(body)}, true

	case TypeStartEvent:
		if len(body) != 0 {
			return Event{}, false
		}
		return Event{Kind: EventStartup}, true
	}
	// Requests echoed back or unknown types are not events.
	return Event{}, false
}

const (
	connTypeBT   = 0x01
	connTypeIPv4 = 0x02
	connTypeIPv6 = 0x03
)

func decodeConnect(body []byte) (Event, bool) {
	if len(body) < 3 {
		return Event{}, false
	}
	ev := Event{Channel: body[0]}

	switch body[1] {
	case connTypeBT:
		profile := BTProfile(body[2])
		if len(body) != 11 || !validProfile(profile) {
			return Event{}, false
		}
		ev.Kind = EventConnectBT
		ev.BT.Profile = profile
		copy(ev.BT.Address[:], body[3:9])
		ev.BT.FrameSize = binary.BigEndian.Uint16(body[9:11])

	case connTypeIPv4:
		proto := IPProtocol(body[2])
		if len(body) != 15 || proto > ProtocolMQTT {
			return Event{}, false
		}
		ev.Kind = EventConnectIPv4
		ev.IP.Protocol = proto
		ev.IP.Remote = netip.AddrPortFrom(netip.AddrFrom4([4]byte(body[3:7])), binary.BigEndian.Uint16(body[7:9]))
		ev.IP.Local = netip.AddrPortFrom(netip.AddrFrom4([4]byte(body[9:13])), binary.BigEndian.Uint16(body[13:15]))

	case connTypeIPv6:
		proto := IPProtocol(body[2])
		if len(body) != 39 || proto > ProtocolMQTT {
			return Event{}, false
		}
		ev.Kind = EventConnectIPv6
		ev.IP.Protocol = proto
		ev.IP.Remote = netip.AddrPortFrom(netip.AddrFrom16([16]byte(body[3:19])), binary.BigEndian.Uint16(body[19:21]))
		ev.IP.Local = netip.AddrPortFrom(netip.AddrFrom16([16]byte(body[21:37])), binary.BigEndian.Uint16(body[37:39]))

	default:
		return Event{}, false
	}
	return ev, true
}

func validProfile(p BTProfile) bool {
	return p == ProfileSPP || p == ProfileDUN || p == ProfileSPS
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
