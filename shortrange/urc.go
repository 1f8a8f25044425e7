package shortrange

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
)

// urcPrefixes are the URCs an instance listens for.
var urcPrefixes = []string{
	at.UrcPeerConnected,
	at.UrcPeerDisconnected,
	at.UrcWifiLinkUp,
	at.UrcWifiLinkDown,
	at.UrcNetworkUp,
	at.UrcNetworkDown,
	at.UrcStartup,
}

// installHandlers hooks inst into its link. r.mu must be held.
func (r *Registry) installHandlers(inst *instance) {
	if inst.urcInstalled {
		return
	}
	h := inst.handle
	inst.at.Handle(at.UrcPeerConnected, func(line string) { r.onPeerConnected(h, line) })
	inst.at.Handle(at.UrcPeerDisconnected, func(line string) { r.onPeerDisconnected(h, line) })
	inst.at.Handle(at.UrcWifiLinkUp, func(line string) { r.onWiFiLink(h, line, Connected) })
	inst.at.Handle(at.UrcWifiLinkDown, func(line string) { r.onWiFiLink(h, line, Disconnected) })
	inst.at.Handle(at.UrcNetworkUp, func(line string) { r.onNetwork(h, line, true) })
	inst.at.Handle(at.UrcNetworkDown, func(line string) { r.onNetwork(h, line, false) })
	inst.at.Handle(at.UrcStartup, func(string) { r.onStartup(h) })
	if inst.stream != nil {
		inst.stream.SetEventHandler(func(ev edm.Event) { r.onEdmEvent(h, ev) })
	}
	inst.urcInstalled = true
}

// uninstallHandlers undoes installHandlers. r.mu must be held.
func (r *Registry) uninstallHandlers(inst *instance) {
	if !inst.urcInstalled {
		return
	}
	for _, p := range urcPrefixes {
		inst.at.Unhandle(p)
	}
	if inst.stream != nil {
		inst.stream.SetEventHandler(nil)
	}
	inst.urcInstalled = false
}

// event runs fn on h's instance under r.mu and then delivers the
// notifications fn collected.
func (r *Registry) event(h Handle, fn func(inst *instance, n *notifications)) {
	var n notifications
	r.mu.Lock()
	inst := r.lookup(h)
	if inst == nil {
		r.mu.Unlock()
		return
	}
	fn(inst, &n)
	disp := r.disp
	r.mu.Unlock()
	disp.run(n)
}

// peerURC is a parsed +UUDPC line.
type peerURC struct {
	conn     int
	typ      ConnType
	profile  edm.BTProfile
	protocol edm.IPProtocol
	address  string
	remote   netip.AddrPort
}

// parsePeerConnected parses
//
//	+UUDPC:<peer>,1,<profile>,<address>,<frame size>
//	+UUDPC:<peer>,2|3,<protocol>,<local address>,<local port>,<remote address>,<remote port>
func parsePeerConnected(line string) (peerURC, bool) {
	f := urcFields(line, at.UrcPeerConnected)
	if len(f) < 3 {
		return peerURC{}, false
	}
	conn, err1 := strconv.Atoi(f[0])
	typ, err2 := strconv.Atoi(f[1])
	sub, err3 := strconv.Atoi(f[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return peerURC{}, false
	}
	p := peerURC{conn: conn, typ: ConnType(typ)}
	switch p.typ {
	case ConnBluetooth:
		if len(f) < 4 {
			return peerURC{}, false
		}
		p.profile = edm.BTProfile(sub)
		p.address = normalizeAddress(f[3])
	case ConnIPv4, ConnIPv6:
		if len(f) < 7 {
			return peerURC{}, false
		}
		p.protocol = edm.IPProtocol(sub)
		addr, err := netip.ParseAddr(strings.Trim(f[5], "[]"))
		if err != nil {
			return peerURC{}, false
		}
		port, err := strconv.ParseUint(f[6], 10, 16)
		if err != nil {
			return peerURC{}, false
		}
		p.remote = netip.AddrPortFrom(addr, uint16(port))
	default:
		return peerURC{}, false
	}
	return p, true
}

// urcFields splits the parameters of a URC line.
func urcFields(line, prefix string) []string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if rest == "" {
		return nil
	}
	f := strings.Split(rest, ",")
	for i := range f {
		f[i] = strings.Trim(strings.TrimSpace(f[i]), `"`)
	}
	return f
}

func btKey(address string) string { return "bt:" + address }
func ipKey(remote netip.AddrPort) string { return "ip:" + remote.String() }

func (r *Registry) onPeerConnected(h Handle, line string) {
	p, ok := parsePeerConnected(line)
	if !ok {
		r.logger.Debug("malformed peer connect", "handle", h, "line", line)
		return
	}
	r.event(h, func(inst *instance, n *notifications) {
		c := connection{
			handle:   p.conn,
			typ:      p.typ,
			channel:  -1,
			profile:  p.profile,
			protocol: p.protocol,
			address:  p.address,
			remote:   p.remote,
		}
		if err := inst.conns.insert(c); err != nil {
			r.logger.Debug("peer connect not recorded", "handle", h, "conn", p.conn, "error", err)
			return
		}
		r.logger.Debug("peer connected", "handle", h, "conn", p.conn, "type", p.typ)

		key := btKey(p.address)
		if p.typ != ConnBluetooth {
			key = ipKey(p.remote)
		}
		if l, ok := inst.sps.early[key]; ok {
			delete(inst.sps.early, key)
			pc, _ := inst.conns.findPending(func(x connection) bool { return x.handle == p.conn })
			r.openSPS(inst, pc, l, n)
		}
		r.notifyConn(inst, c, Connected, n)
	})
}

func (r *Registry) onPeerDisconnected(h Handle, line string) {
	f := urcFields(line, at.UrcPeerDisconnected)
	if len(f) < 1 {
		return
	}
	conn, err := strconv.Atoi(f[0])
	if err != nil {
		return
	}
	r.event(h, func(inst *instance, n *notifications) {
		c, ok := inst.conns.remove(conn)
		if !ok {
			return
		}
		r.logger.Debug("peer disconnected", "handle", h, "conn", conn)
		r.closeSPS(inst, conn, n)
		r.notifyConn(inst, c, Disconnected, n)
	})
}

// notifyConn queues the connection callback of c's category. r.mu must be
// held.
func (r *Registry) notifyConn(inst *instance, c connection, status ConnStatus, n *notifications) {
	h := inst.handle
	switch c.category() {
	case categoryBT:
		if cb := inst.callbacks.bt; cb.fn != nil {
			n.add(func() { cb.fn(h, c.handle, status, c.address, cb.param) })
		}
	case categoryMQTT:
		if cb := inst.callbacks.mqtt; cb.fn != nil {
			ipc := IPConnection{Remote: c.remote, MQTT: true}
			n.add(func() { cb.fn(h, c.handle, status, ipc, cb.param) })
		}
	default:
		if cb := inst.callbacks.ip; cb.fn != nil {
			ipc := IPConnection{Remote: c.remote}
			n.add(func() { cb.fn(h, c.handle, status, ipc, cb.param) })
		}
	}
}

// onWiFiLink handles +UUWLE:<id>,<bssid>,<channel> and
// +UUWLD:<id>,<reason>.
func (r *Registry) onWiFiLink(h Handle, line string, status ConnStatus) {
	prefix := at.UrcWifiLinkUp
	if status == Disconnected {
		prefix = at.UrcWifiLinkDown
	}
	f := urcFields(line, prefix)
	if len(f) < 1 {
		return
	}
	id, err := strconv.Atoi(f[0])
	if err != nil {
		return
	}
	var (
		bssid   string
		channel int
		reason  int
	)
	if status == Connected && len(f) >= 3 {
		bssid = f[1]
		channel, _ = strconv.Atoi(f[2])
	}
	if status == Disconnected && len(f) >= 2 {
		reason, _ = strconv.Atoi(f[1])
	}
	r.event(h, func(inst *instance, n *notifications) {
		if cb := inst.callbacks.wifi; cb.fn != nil {
			n.add(func() { cb.fn(h, id, status, channel, bssid, reason, cb.param) })
		}
	})
}

func (r *Registry) onNetwork(h Handle, line string, up bool) {
	prefix := at.UrcNetworkUp
	if !up {
		prefix = at.UrcNetworkDown
	}
	f := urcFields(line, prefix)
	if len(f) < 1 {
		return
	}
	iface, err := strconv.Atoi(f[0])
	if err != nil {
		return
	}
	r.event(h, func(inst *instance, n *notifications) {
		if cb := inst.callbacks.network; cb.fn != nil {
			n.add(func() { cb.fn(h, iface, up, cb.param) })
		}
	})
}

// onStartup handles a module restart. Every connection the module knew
// about is gone.
func (r *Registry) onStartup(h Handle) {
	r.event(h, func(inst *instance, n *notifications) {
		r.logger.Debug("module restarted", "handle", h, "connections", inst.conns.len())
		inst.lastRestart = time.Now()
		for conn := range inst.sps.channels {
			r.closeSPS(inst, conn, n)
		}
		inst.sps.requested = make(map[string]bool)
		inst.sps.early = make(map[string]edmLink)
		inst.conns.clear()
	})
}

func (r *Registry) onEdmEvent(h Handle, ev edm.Event) {
	if ev.Kind == edm.EventStartup {
		r.onStartup(h)
		return
	}

	r.event(h, func(inst *instance, n *notifications) {
		switch ev.Kind {
		case edm.EventConnectBT:
			l := edmLink{channel: int(ev.Channel), mtu: int(ev.BT.FrameSize)}
			addr := ev.BT.AddressString()
			c, ok := inst.conns.findPending(func(x connection) bool {
				return x.typ == ConnBluetooth && x.address == addr
			})
			if !ok {
				inst.sps.early[btKey(addr)] = l
				return
			}
			r.openSPS(inst, c, l, n)

		case edm.EventConnectIPv4, edm.EventConnectIPv6:
			l := edmLink{channel: int(ev.Channel)}
			c, ok := inst.conns.findPending(func(x connection) bool {
				return x.typ != ConnBluetooth && x.remote == ev.IP.Remote
			})
			if !ok {
				inst.sps.early[ipKey(ev.IP.Remote)] = l
				return
			}
			c.channel = l.channel

		case edm.EventDisconnect:
			for key, l := range inst.sps.early {
				if l.channel == int(ev.Channel) {
					delete(inst.sps.early, key)
				}
			}
			if c, ok := inst.conns.byChannel(int(ev.Channel)); ok {
				r.closeSPS(inst, c.handle, n)
			}

		case edm.EventData:
			c, ok := inst.conns.byChannel(int(ev.Channel))
			if ok {
				if ch, ok := inst.sps.channels[c.handle]; ok {
					r.spsData(inst, ch, ev.Data, n)
					return
				}
			}
			if cb := inst.callbacks.data; cb.fn != nil {
				channel, data := int(ev.Channel), ev.Data
				n.add(func() { cb.fn(h, channel, data, cb.param) })
			}
		}
	})
}
