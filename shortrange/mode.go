package shortrange

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
)

// link is a snapshot of what a blocking operation needs from an instance,
// taken under r.mu so the wire work can run without it.
type link struct {
	handle  Handle
	at      ATChannel
	stream  *edm.Stream
	module  ModuleCharacteristics
	mode    Mode
	unknown bool
}

// acquire marks h busy if its mode is one of allowed. Every successful
// acquire must be paired with release.
func (r *Registry) acquire(h Handle, allowed ...Mode) (link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, err := r.get(h)
	if err != nil {
		return link{}, err
	}
	if inst.busy {
		return link{}, ErrBusy
	}
	if !slices.Contains(allowed, inst.mode) {
		return link{}, fmt.Errorf("%w: %s", ErrInvalidMode, inst.mode)
	}
	inst.busy = true
	return link{
		handle:  h,
		at:      inst.at,
		stream:  inst.stream,
		module:  inst.module,
		mode:    inst.mode,
		unknown: inst.unknown,
	}, nil
}

// release clears busy and, when err is nil, records mode as the link's
// known mode. A timeout, a failed recovery or an abandoned context marks
// the mode unknown so the next operation probes first.
func (r *Registry) release(l link, mode Mode, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.lookup(l.handle)
	if inst == nil {
		return
	}
	inst.busy = false
	switch {
	case err == nil:
		if inst.mode != mode {
			r.logger.Debug("mode changed", "handle", l.handle, "from", inst.mode, "to", mode)
		}
		inst.mode = mode
		inst.unknown = false
	case errors.Is(err, at.ErrTimeout), errors.Is(err, ErrTemporaryFailure),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		inst.unknown = true
	}
}

// settle runs the recovery ladder if the link's mode is in doubt.
func (r *Registry) settle(ctx context.Context, l *link) error {
	if !l.unknown {
		return nil
	}
	mode, err := r.recoverLink(ctx, *l)
	if err != nil {
		return err
	}
	l.mode, l.unknown = mode, false
	return nil
}

// Attention probes the module with a plain AT and expects OK within the
// module's AT timeout. It is only valid in command mode or EDM; a probe in
// data mode would be sent to the peer as payload.
func (r *Registry) Attention(ctx context.Context, h Handle) error {
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
	_, err = l.at.Exec(ctx, at.CmdAttention)
	r.release(l, l.mode, err)
	if err != nil {
		return fmt.Errorf("attention: %w", err)
	}
	return nil
}

// EnterDataMode switches a command-mode link to transparent data. From
// then on every byte from the module goes to the data callback and
// WriteData sends raw bytes to the peer.
func (r *Registry) EnterDataMode(ctx context.Context, h Handle) error {
	l, err := r.acquire(h, ModeCommand)
	if err != nil {
		return err
	}
	if err := r.settle(ctx, &l); err != nil {
		r.release(l, l.mode, err)
		return err
	}
	if l.mode != ModeCommand {
		r.release(l, l.mode, nil)
		return fmt.Errorf("%w: %s", ErrInvalidMode, l.mode)
	}

	ctx, cancel := context.WithTimeout(ctx, l.module.ATTimeout)
	defer cancel()
	if _, err := l.at.ExecRaw(ctx, at.CmdDataMode, r.dataSink(h)); err != nil {
		r.release(l, ModeCommand, err)
		return fmt.Errorf("enter data mode: %w", err)
	}
	r.release(l, ModeData, nil)
	return nil
}

// EnterCommandMode returns the link to AT command parsing and hands back
// the AT channel to use from now on. From data mode it sends the escape
// sequence; if the module does not answer it falls back to the full
// recovery ladder. On a link already in command mode or EDM it only
// returns the channel.
func (r *Registry) EnterCommandMode(ctx context.Context, h Handle) (ATChannel, error) {
	l, err := r.acquire(h, ModeCommand, ModeData, ModeEdm)
	if err != nil {
		return nil, err
	}
	if l.mode != ModeData && !l.unknown {
		r.release(l, l.mode, nil)
		return l.at, nil
	}

	if l.mode == ModeData && l.stream == nil {
		if r.escape(ctx, l) && r.probeAT(ctx, l) {
			r.release(l, ModeCommand, nil)
			return l.at, nil
		}
	}

	mode, err := r.recoverLink(ctx, l)
	r.release(l, mode, err)
	if err != nil {
		return nil, err
	}
	return l.at, nil
}

// Recover runs the recovery ladder regardless of the recorded mode and
// returns the mode the link converged to.
func (r *Registry) Recover(ctx context.Context, h Handle) (Mode, error) {
	l, err := r.acquire(h, ModeCommand, ModeData, ModeEdm)
	if err != nil {
		return 0, err
	}
	mode, err := r.recoverLink(ctx, l)
	r.release(l, mode, err)
	return mode, err
}

// DetectModule brings the link to a known mode and asks the module for
// its model. It returns the catalog type matching the reply.
func (r *Registry) DetectModule(ctx context.Context, h Handle) (ModuleType, error) {
	l, err := r.acquire(h, ModeCommand, ModeData, ModeEdm)
	if err != nil {
		return ModuleNone, err
	}
	mode, err := r.recoverLink(ctx, l)
	if err != nil {
		r.release(l, mode, err)
		return ModuleNone, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.module.ATTimeout)
	defer cancel()
	resp, err := l.at.Exec(ctx, at.CmdModel)
	r.release(l, mode, err)
	if err != nil {
		return ModuleNone, fmt.Errorf("read model: %w", err)
	}

	for _, line := range splitLines(resp) {
		if t, ok := ParseModuleType(line); ok {
			if t != l.module.Type {
				r.logger.Debug("module differs from configured type", "handle", h, "configured", l.module.Name, "detected", t)
			}
			return t, nil
		}
	}
	return ModuleNone, fmt.Errorf("%w: model %q", ErrNotFound, resp)
}

// WriteData sends raw bytes to the peer while the link is in data mode.
func (r *Registry) WriteData(h Handle, p []byte) (int, error) {
	r.mu.Lock()
	inst, err := r.get(h)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if inst.mode != ModeData || inst.busy {
		mode := inst.mode
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	ch := inst.at
	r.mu.Unlock()
	return ch.WriteRaw(p)
}

// dataSink delivers data-mode bytes to h's data callback.
func (r *Registry) dataSink(h Handle) func([]byte) {
	return func(p []byte) {
		r.mu.Lock()
		inst := r.lookup(h)
		if inst == nil {
			r.mu.Unlock()
			return
		}
		cb := inst.callbacks.data
		disp := r.disp
		r.mu.Unlock()
		if cb.fn == nil {
			return
		}
		data := append([]byte(nil), p...)
		disp.run(notifications{func() { cb.fn(h, -1, data, cb.param) }})
	}
}
