package shortrange

import (
	"context"
	"io"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
)

//go:generate go tool mockgen -destination=mock_shortrange.go -package=shortrange . ATChannel

// ATChannel is the AT command link an instance is bound to. *at.Client
// implements it, over either a UART port or an EDM stream's AT port.
//
// Add recognises a channel it already knows by comparing values, so
// implementations should be pointers. Values of a non-comparable type
// always get a new instance.
type ATChannel interface {
	Exec(ctx context.Context, cmd string) (string, error)
	// ExecRaw sends cmd and, on OK, hands every later byte to sink.
	ExecRaw(ctx context.Context, cmd string, sink func([]byte)) (string, error)
	Handle(prefix string, h at.URCHandler)
	Unhandle(prefix string)
	SetRaw(sink func([]byte))
	WriteRaw(p []byte) (int, error)
	Port() io.ReadWriteCloser
}

var _ ATChannel = (*at.Client)(nil)

// Handle identifies an instance. It packs a slot index with the slot's
// generation so a handle kept past Remove never reaches a newer instance
// that reuses the slot.
type Handle int64

// maxGen keeps every handle non-negative. A slot whose generation reaches
// it is retired rather than wrapped.
const maxGen = math.MaxInt32

func makeHandle(index int, gen uint32) Handle {
	return Handle(int64(gen)<<32 | int64(uint32(index)))
}

func (h Handle) index() int  { return int(uint32(h)) }
func (h Handle) gen() uint32 { return uint32(h >> 32) }

// sameChannel reports whether a and b are the same AT channel. Values
// whose dynamic type cannot be compared are never the same.
func sameChannel(a, b ATChannel) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Mode is the interpretation currently applied to the link.
type Mode int

const (
	ModeCommand Mode = iota
	ModeData
	ModeEdm
)

func (m Mode) String() string {
	switch m {
	case ModeCommand:
		return "command"
	case ModeData:
		return "data"
	case ModeEdm:
		return "edm"
	}
	return "unknown"
}

// Registry owns the attached module instances. The zero value is not
// usable until Init is called.
//
// A single mutex guards the instance set and everything inside every
// instance. It is never held across a command round trip.
type Registry struct {
	mu     sync.Mutex
	ready  bool
	config Config
	logger *slog.Logger
	slots  []arenaSlot
	disp   *dispatcher
}

type arenaSlot struct {
	gen  uint32
	inst *instance
	// retired slots used up their generations and are never reused.
	retired bool
}

type instance struct {
	handle Handle
	refs   int
	module ModuleCharacteristics
	at     ATChannel
	// stream is set when the AT channel runs over EDM.
	stream *edm.Stream

	mode Mode
	// unknown is set when a command timed out and the module's real mode
	// must be probed before the link is used again.
	unknown bool
	// busy serializes mode changes and probes on this instance.
	busy bool

	lastRestart  time.Time
	urcInstalled bool
	conns        *connTable
	callbacks    callbackSet
	sps          spsState
}

// Init prepares the registry. Calling it again while initialised is a
// no-op that keeps the first configuration.
func (r *Registry) Init(cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	r.config = cfg
	r.logger = cfg.Logger.With("component", "shortrange")
	r.slots = nil
	r.disp = newDispatcher(cfg.DispatchQueue, r.logger)
	r.ready = true
	return nil
}

// Deinit removes every instance, whatever its reference count, and
// returns the registry to its uninitialised state. It must not race with
// Add.
func (r *Registry) Deinit() {
	r.mu.Lock()
	if !r.ready {
		r.mu.Unlock()
		return
	}
	var handles []Handle
	for _, s := range r.slots {
		if s.inst != nil {
			s.inst.refs = 1
			handles = append(handles, s.inst.handle)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Remove(h)
	}

	r.mu.Lock()
	disp := r.disp
	r.disp = nil
	r.slots = nil
	r.ready = false
	r.mu.Unlock()
	disp.stop()
}

// Add attaches a module of type module reachable through ch. If an
// instance already exists for ch its reference count is incremented and
// its handle returned. A new instance starts in command mode on a UART
// link and in EDM on an EDM link.
func (r *Registry) Add(module ModuleType, ch ATChannel) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return -1, ErrNotConfigured
	}
	chars, ok := LookupModule(module)
	if !ok {
		return -1, ErrNotFound
	}

	for _, s := range r.slots {
		if s.inst != nil && sameChannel(s.inst.at, ch) {
			s.inst.refs++
			return s.inst.handle, nil
		}
	}

	idx := -1
	for i, s := range r.slots {
		if s.inst == nil && !s.retired {
			idx = i
			break
		}
	}
	if idx < 0 {
		if len(r.slots) > 0xFFFF {
			return -1, ErrResourceExhausted
		}
		r.slots = append(r.slots, arenaSlot{})
		idx = len(r.slots) - 1
	}

	inst := &instance{
		handle: makeHandle(idx, r.slots[idx].gen),
		refs:   1,
		module: chars,
		at:     ch,
		mode:   ModeCommand,
		conns:  newConnTable(r.config.MaxConnections),
		sps:    newSPSState(),
	}
	if p, ok := ch.Port().(interface{ Stream() *edm.Stream }); ok {
		inst.stream = p.Stream()
		inst.mode = ModeEdm
	}
	r.slots[idx].inst = inst
	r.installHandlers(inst)

	r.logger.Debug("instance added", "handle", inst.handle, "module", chars.Name, "mode", inst.mode)
	return inst.handle, nil
}

// Remove drops one reference to h. The last reference uninstalls the URC
// handlers and frees the instance. Removing an unknown or already removed
// handle does nothing.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.lookup(h)
	if inst == nil {
		return
	}
	inst.refs--
	if inst.refs > 0 {
		return
	}

	r.uninstallHandlers(inst)
	for _, ch := range inst.sps.channels {
		ch.rx.Reset()
		ch.held = nil
		if ch.paused && inst.stream != nil {
			inst.stream.Resume(uint8(ch.channel))
		}
	}
	inst.sps = newSPSState()
	inst.conns.clear()

	s := &r.slots[h.index()]
	s.inst = nil
	if s.gen == maxGen {
		s.retired = true
	} else {
		s.gen++
	}
	r.logger.Debug("instance removed", "handle", h)
}

// lookup returns the live instance for h or nil. r.mu must be held for as
// long as the result is used.
func (r *Registry) lookup(h Handle) *instance {
	if !r.ready || h < 0 {
		return nil
	}
	i := h.index()
	if i >= len(r.slots) {
		return nil
	}
	s := r.slots[i]
	if s.inst == nil || s.gen != h.gen() {
		return nil
	}
	return s.inst
}

// get is lookup with the error kinds callers report.
func (r *Registry) get(h Handle) (*instance, error) {
	if !r.ready {
		return nil, ErrNotConfigured
	}
	inst := r.lookup(h)
	if inst == nil {
		return nil, ErrNotFound
	}
	return inst, nil
}

// ATClient returns the AT channel h is bound to.
func (r *Registry) ATClient(h Handle) (ATChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return nil, err
	}
	return inst.at, nil
}

// Characteristics returns the catalog entry of h's module.
func (r *Registry) Characteristics(h Handle) (ModuleCharacteristics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return ModuleCharacteristics{}, err
	}
	return inst.module, nil
}

// Mode returns the last known mode of h's link.
func (r *Registry) Mode(h Handle) (Mode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return 0, err
	}
	return inst.mode, nil
}

// LastRestart returns when the module last reported a restart, or the
// zero time if it has not since it was added.
func (r *Registry) LastRestart(h Handle) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return time.Time{}, err
	}
	return inst.lastRestart, nil
}
