// Package shortrange drives u-blox short-range radio modules (NINA, ANNA
// and ODIN families) attached over a single AT command link.
//
// A Registry owns every attached module. Each module is an instance
// addressed by an opaque Handle and bound to one AT channel, either a
// plain UART stream or an EDM-framed one. The registry tracks the link
// mode (command, data or EDM), recovers the link when the module's real
// mode is unknown, keeps the table of peer connections reported by the
// module and exposes SPS (serial port service over BLE) connections as
// bounded, optionally flow-controlled byte channels.
//
// Events observed on the link are delivered to per-category callbacks.
// Callbacks run on the goroutine that reads the link (or on a dispatch
// goroutine when Config.DispatchQueue is set); they must not block and
// must not call mode-changing operations synchronously. Post to a queue
// instead.
package shortrange
