// Package at speaks the text side of a u-blox short-range module: the
// command/response exchange and the unsolicited result codes (URCs) the
// module emits on its own.
package at

const (
	// Terminal Control
	CRLF = "\r\n"
	CR   = "\r"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"

	// Escape from data mode. Must be surrounded by a guard time of
	// silence on the line.
	EscapeSequence = "+++"

	// Commands
	CmdAttention   = "AT"
	CmdEchoOff     = "ATE0"
	CmdCommandMode = "ATO0"
	CmdDataMode    = "ATO1"
	CmdEdmMode     = "ATO2"
	CmdModel       = "AT+GMM"
	CmdConnectPeer = "AT+UDCP="
	CmdClosePeer   = "AT+UDCPC="
	CmdSPSHandles  = "AT+UDSPSH="

	// Information responses
	RespConnectPeer = "+UDCP:"
	RespSPSHandles  = "+UDSPSH:"

	// URCs (Unsolicited Result Codes)
	UrcPeerConnected    = "+UUDPC:"
	UrcPeerDisconnected = "+UUDPD:"
	UrcWifiLinkUp       = "+UUWLE:"
	UrcWifiLinkDown     = "+UUWLD:"
	UrcNetworkUp        = "+UUNU:"
	UrcNetworkDown      = "+UUND:"
	UrcStartup          = "+STARTUP"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR
	TypeURC                       // Asynchronous notifications
	TypeData                      // Intermediate command output (+UDCP: ...)
)
