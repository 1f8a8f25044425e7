package shortrange

import (
	"fmt"
	"net/netip"

	"i4.energy/across/shortrange/edm"
)

// ConnType tags a peer connection with its link flavour.
type ConnType int

const (
	ConnBluetooth ConnType = iota + 1
	ConnIPv4
	ConnIPv6
)

func (t ConnType) String() string {
	switch t {
	case ConnBluetooth:
		return "bluetooth"
	case ConnIPv4:
		return "ipv4"
	case ConnIPv6:
		return "ipv6"
	}
	return "unknown"
}

// connection is one entry of an instance's connection table. The handle
// is assigned by the module firmware.
type connection struct {
	handle int
	typ    ConnType
	// channel is the EDM channel once the matching EDM connect event has
	// been seen, -1 before.
	channel  int
	profile  edm.BTProfile
	protocol edm.IPProtocol
	address  string
	remote   netip.AddrPort
}

// category selects the callback slot events on this connection go to.
func (c connection) category() eventCategory {
	switch {
	case c.typ == ConnBluetooth:
		return categoryBT
	case c.protocol == edm.ProtocolMQTT:
		return categoryMQTT
	default:
		return categoryIP
	}
}

type connTable struct {
	max     int
	entries []connection
}

func newConnTable(max int) *connTable {
	return &connTable{max: max, entries: make([]connection, 0, max)}
}

func (t *connTable) insert(c connection) error {
	if _, ok := t.find(c.handle); ok {
		return fmt.Errorf("%w: connection %d", ErrAlreadyExists, c.handle)
	}
	if len(t.entries) >= t.max {
		return ErrResourceExhausted
	}
	t.entries = append(t.entries, c)
	return nil
}

func (t *connTable) remove(handle int) (connection, bool) {
	for i, c := range t.entries {
		if c.handle == handle {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return c, true
		}
	}
	return connection{}, false
}

func (t *connTable) find(handle int) (connection, bool) {
	for _, c := range t.entries {
		if c.handle == handle {
			return c, true
		}
	}
	return connection{}, false
}

// findPending returns the first connection matching fn that has no EDM
// channel yet.
func (t *connTable) findPending(fn func(connection) bool) (*connection, bool) {
	for i := range t.entries {
		if t.entries[i].channel < 0 && fn(t.entries[i]) {
			return &t.entries[i], true
		}
	}
	return nil, false
}

func (t *connTable) byChannel(channel int) (connection, bool) {
	for _, c := range t.entries {
		if c.channel == channel {
			return c, true
		}
	}
	return connection{}, false
}

func (t *connTable) len() int { return len(t.entries) }

func (t *connTable) clear() { t.entries = t.entries[:0] }

// InsertConnection records connHandle of type typ on instance h. It fails
// with ErrResourceExhausted when the table is full and rejects a handle
// that is already present.
func (r *Registry) InsertConnection(h Handle, connHandle int, typ ConnType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return err
	}
	return inst.conns.insert(connection{handle: connHandle, typ: typ, channel: -1})
}

// RemoveConnection forgets connHandle. Removing an absent handle is a
// no-op.
func (r *Registry) RemoveConnection(h Handle, connHandle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return err
	}
	inst.conns.remove(connHandle)
	return nil
}

// FindConnection returns the type of connHandle.
func (r *Registry) FindConnection(h Handle, connHandle int) (ConnType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return 0, err
	}
	c, ok := inst.conns.find(connHandle)
	if !ok {
		return 0, ErrNotFound
	}
	return c.typ, nil
}

// Connections returns the number of open connections on h.
func (r *Registry) Connections(h Handle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return 0, err
	}
	return inst.conns.len(), nil
}
