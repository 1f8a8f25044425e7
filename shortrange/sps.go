package shortrange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
	"i4.energy/across/shortrange/internal/ringbuf"
)

// ServerHandles are the GATT attribute handles of a peer's SPS service.
// Presetting them lets a connect skip service discovery.
type ServerHandles struct {
	Service      uint16
	FIFOValue    uint16
	FIFOCCC      uint16
	CreditsValue uint16
	CreditsCCC   uint16
}

func (s ServerHandles) query() string {
	return fmt.Sprintf("handles=%d,%d,%d,%d,%d", s.Service, s.FIFOValue, s.FIFOCCC, s.CreditsValue, s.CreditsCCC)
}

// spsState is the per-instance SPS bookkeeping.
type spsState struct {
	// preset and noFlowControl apply to the next Connect only.
	preset        *ServerHandles
	noFlowControl bool
	// requested maps the address of each connect in flight to whether it
	// asked for flow control.
	requested map[string]bool
	// early holds EDM connect events that arrived before the +UUDPC line
	// of the same peer, keyed by join key.
	early    map[string]edmLink
	channels map[int]*spsChannel
}

// edmLink is what an EDM connect event says about a peer.
type edmLink struct {
	channel int
	mtu     int
}

func newSPSState() spsState {
	return spsState{
		requested: make(map[string]bool),
		early:     make(map[string]edmLink),
		channels:  make(map[int]*spsChannel),
	}
}

// spsChannel is an open SPS connection.
type spsChannel struct {
	conn        int
	channel     int
	address     string
	mtu         int
	flowControl bool
	sendTimeout time.Duration
	rx          *ringbuf.Buffer
	// held keeps bytes that did not fit rx while flow control is on.
	held    []byte
	paused  bool
	handles *ServerHandles
}

// normalizeAddress reduces a Bluetooth address to the twelve upper-case
// hex digits the EDM connect event carries. The module prints addresses
// with a trailing p (public) or r (random) type suffix.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if n := len(addr); n == 13 || n == 18 {
		switch addr[n-1] {
		case 'p', 'P', 'r', 'R':
			addr = addr[:n-1]
		}
	}
	return strings.ToUpper(strings.ReplaceAll(addr, ":", ""))
}

func spsURL(address string, flowControl bool, preset *ServerHandles) string {
	var params []string
	if !flowControl {
		params = append(params, "flowControl=0")
	}
	if preset != nil {
		params = append(params, preset.query())
	}
	url := "sps://" + address
	if len(params) > 0 {
		url += "/?" + strings.Join(params, "&")
	}
	return url
}

// Connect asks the module to open an SPS connection to the peer at
// address. It returns once the module accepted the request; the channel
// is usable when the SPS connection callback reports it.
//
// Any preset server handles and a pending DisableFlowControlOnNext are
// consumed by this call whatever its outcome.
func (r *Registry) Connect(ctx context.Context, h Handle, address string) (int, error) {
	r.mu.Lock()
	inst, err := r.get(h)
	if err != nil {
		r.mu.Unlock()
		return -1, err
	}
	preset := inst.sps.preset
	flowControl := !inst.sps.noFlowControl
	inst.sps.preset = nil
	inst.sps.noFlowControl = false
	r.mu.Unlock()

	l, err := r.acquire(h, ModeCommand, ModeEdm)
	if err != nil {
		return -1, err
	}
	if err := r.settle(ctx, &l); err != nil {
		r.release(l, l.mode, err)
		return -1, err
	}

	key := normalizeAddress(address)
	r.mu.Lock()
	if inst := r.lookup(h); inst != nil {
		inst.sps.requested[key] = flowControl
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.module.ATTimeout)
	defer cancel()
	resp, err := l.at.Exec(ctx, fmt.Sprintf("%s%q", at.CmdConnectPeer, spsURL(address, flowControl, preset)))
	r.release(l, l.mode, err)
	if err != nil {
		r.mu.Lock()
		if inst := r.lookup(h); inst != nil {
			delete(inst.sps.requested, key)
		}
		r.mu.Unlock()
		return -1, fmt.Errorf("sps connect %s: %w", address, err)
	}

	for _, line := range splitLines(resp) {
		if rest, ok := strings.CutPrefix(line, at.RespConnectPeer); ok {
			if peer, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				return peer, nil
			}
		}
	}
	return -1, nil
}

// Disconnect closes the connection connHandle. The channel is torn down
// when the module reports the disconnect. Closing a connection that is
// not open is a no-op.
func (r *Registry) Disconnect(ctx context.Context, h Handle, connHandle int) error {
	r.mu.Lock()
	inst, err := r.get(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	_, open := inst.conns.find(connHandle)
	r.mu.Unlock()
	if !open {
		return nil
	}

	l, err := r.acquire(h, ModeCommand, ModeEdm)
	if err != nil {
		return err
	}
	if err := r.settle(ctx, &l); err != nil {
		r.release(l, l.mode, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, l.module.ATTimeout)
	defer cancel()
	_, err = l.at.Exec(ctx, at.CmdClosePeer+strconv.Itoa(connHandle))
	r.release(l, l.mode, err)
	if err != nil {
		return fmt.Errorf("sps disconnect %d: %w", connHandle, err)
	}
	return nil
}

// Receive copies buffered bytes of connHandle into p without blocking. It
// returns 0 when nothing is buffered.
func (r *Registry) Receive(h Handle, connHandle int, p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, inst, err := r.spsChannel(h, connHandle)
	if err != nil {
		return 0, err
	}
	n, _ := ch.rx.Read(p)
	if len(ch.held) > 0 {
		m, _ := ch.rx.Write(ch.held)
		ch.held = ch.held[m:]
		if len(ch.held) == 0 {
			ch.held = nil
		}
	}
	if ch.paused && ch.held == nil && inst.stream != nil {
		ch.paused = false
		inst.stream.Resume(uint8(ch.channel))
	}
	return n, nil
}

// Send writes data to connHandle. It blocks for at most the channel's send
// timeout and returns how many bytes the module took, which is less than
// len(data) when the link stalled.
func (r *Registry) Send(h Handle, connHandle int, data []byte) (int, error) {
	r.mu.Lock()
	ch, inst, err := r.spsChannel(h, connHandle)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if inst.mode != ModeEdm || inst.stream == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrInvalidMode, inst.mode)
	}
	stream, channel, mtu, timeout := inst.stream, uint8(ch.channel), ch.mtu, ch.sendTimeout
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := stream.WriteData(ctx, channel, data, mtu)
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Debug("sps send timed out", "handle", h, "conn", connHandle, "sent", n, "want", len(data))
		return n, nil
	}
	return n, err
}

// SetSendTimeout changes how long Send may block on connHandle. The
// timeout must be positive.
func (r *Registry) SetSendTimeout(h Handle, connHandle int, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: send timeout %v", ErrInvalidConfig, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, _, err := r.spsChannel(h, connHandle)
	if err != nil {
		return err
	}
	ch.sendTimeout = d
	return nil
}

// ServerHandles returns the SPS attribute handles of the peer on
// connHandle, querying the module the first time. Only flow-controlled
// connections have them.
func (r *Registry) ServerHandles(ctx context.Context, h Handle, connHandle int) (ServerHandles, error) {
	r.mu.Lock()
	ch, _, err := r.spsChannel(h, connHandle)
	if err != nil {
		r.mu.Unlock()
		return ServerHandles{}, err
	}
	if !ch.flowControl {
		r.mu.Unlock()
		return ServerHandles{}, fmt.Errorf("%w: connection %d has no flow control", ErrInvalidMode, connHandle)
	}
	if ch.handles != nil {
		hs := *ch.handles
		r.mu.Unlock()
		return hs, nil
	}
	r.mu.Unlock()

	l, err := r.acquire(h, ModeCommand, ModeEdm)
	if err != nil {
		return ServerHandles{}, err
	}
	if err := r.settle(ctx, &l); err != nil {
		r.release(l, l.mode, err)
		return ServerHandles{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.module.ATTimeout)
	defer cancel()
	resp, err := l.at.Exec(ctx, at.CmdSPSHandles+strconv.Itoa(connHandle))
	r.release(l, l.mode, err)
	if err != nil {
		return ServerHandles{}, fmt.Errorf("sps handles %d: %w", connHandle, err)
	}
	hs, err := parseServerHandles(resp)
	if err != nil {
		return ServerHandles{}, err
	}

	r.mu.Lock()
	if ch, _, err := r.spsChannel(h, connHandle); err == nil {
		ch.handles = &hs
	}
	r.mu.Unlock()
	return hs, nil
}

func parseServerHandles(resp string) (ServerHandles, error) {
	for _, line := range splitLines(resp) {
		rest, ok := strings.CutPrefix(line, at.RespSPSHandles)
		if !ok {
			continue
		}
		fields := strings.Split(strings.TrimSpace(rest), ",")
		if len(fields) != 6 {
			break
		}
		var v [5]uint16
		for i, f := range fields[1:] {
			n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
			if err != nil {
				return ServerHandles{}, fmt.Errorf("sps handles %q: %w", line, err)
			}
			v[i] = uint16(n)
		}
		return ServerHandles{Service: v[0], FIFOValue: v[1], FIFOCCC: v[2], CreditsValue: v[3], CreditsCCC: v[4]}, nil
	}
	return ServerHandles{}, fmt.Errorf("%w: no server handles in %q", ErrNotFound, resp)
}

// PresetServerHandles makes the next Connect on h use hs instead of
// discovering the peer's service.
func (r *Registry) PresetServerHandles(h Handle, hs ServerHandles) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return err
	}
	inst.sps.preset = &hs
	return nil
}

// DisableFlowControlOnNext makes the next Connect on h open a connection
// without credit-based flow control.
func (r *Registry) DisableFlowControlOnNext(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return err
	}
	inst.sps.noFlowControl = true
	return nil
}

// SPSChannels returns the connection handles of h's open SPS channels.
func (r *Registry) SPSChannels(h Handle) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return nil, err
	}
	conns := make([]int, 0, len(inst.sps.channels))
	for c := range inst.sps.channels {
		conns = append(conns, c)
	}
	return conns, nil
}

// spsChannel looks up an open channel. With no SPS channel open at all
// the instance is not in a state where channel operations make sense.
// r.mu must be held.
func (r *Registry) spsChannel(h Handle, connHandle int) (*spsChannel, *instance, error) {
	inst, err := r.get(h)
	if err != nil {
		return nil, nil, err
	}
	if len(inst.sps.channels) == 0 {
		return nil, nil, fmt.Errorf("%w: no SPS channel open", ErrInvalidMode)
	}
	ch, ok := inst.sps.channels[connHandle]
	if !ok {
		return nil, nil, fmt.Errorf("%w: SPS connection %d", ErrNotFound, connHandle)
	}
	return ch, inst, nil
}

// openSPS joins connection c with the channel carried by the EDM event
// and creates its SPS channel. r.mu must be held.
func (r *Registry) openSPS(inst *instance, c *connection, l edmLink, n *notifications) {
	c.channel = l.channel
	if c.typ != ConnBluetooth || c.profile != edm.ProfileSPS {
		return
	}
	flowControl, asked := inst.sps.requested[c.address]
	if asked {
		delete(inst.sps.requested, c.address)
	} else {
		flowControl = true
	}
	ch := &spsChannel{
		conn:        c.handle,
		channel:     l.channel,
		address:     c.address,
		mtu:         l.mtu,
		flowControl: flowControl,
		sendTimeout: r.config.DefaultSendTimeout,
		rx:          ringbuf.New(r.config.SPSBufferSize),
	}
	inst.sps.channels[c.handle] = ch
	r.logger.Debug("sps channel open", "handle", inst.handle, "conn", c.handle, "channel", l.channel, "mtu", l.mtu, "flow_control", flowControl)

	if cb := inst.callbacks.sps; cb.fn != nil {
		h, conn, addr, channel, mtu := inst.handle, c.handle, c.address, l.channel, l.mtu
		n.add(func() { cb.fn(h, conn, Connected, addr, channel, mtu, cb.param) })
	}
}

// closeSPS removes the SPS channel of connHandle, if any. r.mu must be
// held.
func (r *Registry) closeSPS(inst *instance, connHandle int, n *notifications) {
	ch, ok := inst.sps.channels[connHandle]
	if !ok {
		return
	}
	delete(inst.sps.channels, connHandle)
	ch.rx.Reset()
	ch.held = nil
	if ch.paused && inst.stream != nil {
		inst.stream.Resume(uint8(ch.channel))
	}
	r.logger.Debug("sps channel closed", "handle", inst.handle, "conn", connHandle)

	if cb := inst.callbacks.sps; cb.fn != nil {
		h, addr, channel, mtu := inst.handle, ch.address, ch.channel, ch.mtu
		n.add(func() { cb.fn(h, connHandle, Disconnected, addr, channel, mtu, cb.param) })
	}
}

// spsData stores data received on ch. When ch is full, a flow-controlled
// channel holds the rest and pauses the link; otherwise the rest is
// dropped. r.mu must be held.
func (r *Registry) spsData(inst *instance, ch *spsChannel, data []byte, n *notifications) {
	written := 0
	if len(ch.held) == 0 {
		written, _ = ch.rx.Write(data)
	}
	if rest := data[written:]; len(rest) > 0 {
		if ch.flowControl {
			room := r.config.SPSHoldLimit - len(ch.held)
			if len(rest) > room {
				r.logger.Debug("sps hold limit reached", "handle", inst.handle, "conn", ch.conn, "dropped", len(rest)-room)
				rest = rest[:max(room, 0)]
			}
			ch.held = append(ch.held, rest...)
			if !ch.paused && inst.stream != nil {
				ch.paused = true
				inst.stream.Pause(uint8(ch.channel))
			}
		} else {
			r.logger.Debug("sps buffer full", "handle", inst.handle, "conn", ch.conn, "dropped", len(rest))
		}
	}
	if ch.rx.Len() == 0 {
		return
	}

	if cb := inst.callbacks.dataAvailable; cb.fn != nil {
		h, conn := inst.handle, ch.conn
		n.add(func() { cb.fn(h, conn, cb.param) })
	}
}
