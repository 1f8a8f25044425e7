package shortrange

import (
	"log/slog"
	"net/netip"
	"sync"
)

// ConnStatus is carried by connection callbacks.
type ConnStatus int

const (
	Disconnected ConnStatus = iota
	Connected
)

func (s ConnStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// IPConnection describes an IP peer connection in callbacks.
type IPConnection struct {
	Remote netip.AddrPort
	// MQTT is set when the module reports the connection as an MQTT
	// session rather than a plain socket.
	MQTT bool
}

// Callback signatures. Every callback receives the opaque param it was
// registered with; the registry never inspects or retains it beyond the
// registration.
type (
	BTConnectionCallback   func(h Handle, connHandle int, status ConnStatus, address string, param any)
	WiFiConnectionCallback func(h Handle, connID int, status ConnStatus, channel int, bssid string, reason int, param any)
	IPConnectionCallback   func(h Handle, connHandle int, status ConnStatus, conn IPConnection, param any)
	NetworkStatusCallback  func(h Handle, iface int, up bool, param any)
	SPSConnectionCallback  func(h Handle, connHandle int, status ConnStatus, address string, channel int, mtu int, param any)
	DataAvailableCallback  func(h Handle, connHandle int, param any)
	// DataCallback is the payload-carrying data callback. It receives raw
	// data-mode bytes and data of EDM channels that are not SPS channels.
	DataCallback func(h Handle, channel int, data []byte, param any)
)

type eventCategory int

const (
	categoryBT eventCategory = iota
	categoryIP
	categoryMQTT
)

// slot is one registered (function, param) pair.
type slot[F any] struct {
	fn    F
	param any
}

type callbackSet struct {
	bt            slot[BTConnectionCallback]
	wifi          slot[WiFiConnectionCallback]
	ip            slot[IPConnectionCallback]
	mqtt          slot[IPConnectionCallback]
	network       slot[NetworkStatusCallback]
	sps           slot[SPSConnectionCallback]
	dataAvailable slot[DataAvailableCallback]
	data          slot[DataCallback]
}

// setCallback stores (fn, param) in the slot chosen by pick. A nil fn
// clears the slot.
func setCallback[F any](r *Registry, h Handle, fn F, param any, isNil bool, pick func(*callbackSet) *slot[F]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return err
	}
	s := pick(&inst.callbacks)
	if isNil {
		*s = slot[F]{}
		return nil
	}
	*s = slot[F]{fn: fn, param: param}
	return nil
}

// SetBTConnectionCallback registers cb for Bluetooth peer connections.
// Passing nil deregisters.
func (r *Registry) SetBTConnectionCallback(h Handle, cb BTConnectionCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[BTConnectionCallback] { return &c.bt })
}

// SetWiFiConnectionCallback registers cb for Wi-Fi link changes.
func (r *Registry) SetWiFiConnectionCallback(h Handle, cb WiFiConnectionCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[WiFiConnectionCallback] { return &c.wifi })
}

// SetIPConnectionCallback registers cb for IP socket peers.
func (r *Registry) SetIPConnectionCallback(h Handle, cb IPConnectionCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[IPConnectionCallback] { return &c.ip })
}

// SetMQTTConnectionCallback registers cb for MQTT session peers.
func (r *Registry) SetMQTTConnectionCallback(h Handle, cb IPConnectionCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[IPConnectionCallback] { return &c.mqtt })
}

// SetNetworkStatusCallback registers cb for network interface up/down.
func (r *Registry) SetNetworkStatusCallback(h Handle, cb NetworkStatusCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[NetworkStatusCallback] { return &c.network })
}

// SetSPSConnectionCallback registers cb for SPS channel connect and
// disconnect.
func (r *Registry) SetSPSConnectionCallback(h Handle, cb SPSConnectionCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[SPSConnectionCallback] { return &c.sps })
}

// SetDataAvailableCallback registers cb, called when an SPS channel has
// new bytes for Receive.
func (r *Registry) SetDataAvailableCallback(h Handle, cb DataAvailableCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[DataAvailableCallback] { return &c.dataAvailable })
}

// SetDataCallback registers the payload-carrying data callback.
//
// Deprecated: use SetDataAvailableCallback and Receive for SPS channels.
// This callback remains for data mode and non-SPS channels.
func (r *Registry) SetDataCallback(h Handle, cb DataCallback, param any) error {
	return setCallback(r, h, cb, param, cb == nil, func(c *callbackSet) *slot[DataCallback] { return &c.data })
}

// notifications collects callback invocations while r.mu is held so they
// can be run after it is released.
type notifications []func()

func (n *notifications) add(fn func()) {
	*n = append(*n, fn)
}

// dispatcher runs notifications either inline or on its own goroutine.
// A nil dispatcher runs inline.
type dispatcher struct {
	queue  chan func()
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(size int, logger *slog.Logger) *dispatcher {
	if size <= 0 {
		return nil
	}
	d := &dispatcher{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		defer close(d.done)
		for fn := range d.queue {
			fn()
		}
	}()
	return d
}

func (d *dispatcher) run(n notifications) {
	if len(n) == 0 {
		return
	}
	if d == nil {
		for _, fn := range n {
			fn()
		}
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Debug("dropping callbacks after shutdown", "count", len(n))
		return
	}
	for _, fn := range n {
		d.queue <- fn
	}
}

// stop drains the queue and waits for the dispatch goroutine.
func (d *dispatcher) stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
