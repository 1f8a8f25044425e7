package shortrange

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
)

// recoverLink walks the recovery ladder until the module answers or the
// configured attempts run out. Each pass tries, in order, an EDM probe, a
// plain AT probe and the data-mode escape, then waits. The wait doubles
// each pass and is capped by the module's reboot-command wait.
//
// A link built on an EDM stream converges to ModeEdm and a UART link to
// ModeCommand.
func (r *Registry) recoverLink(ctx context.Context, l link) (Mode, error) {
	cfg := r.config.Recovery
	wait := cfg.BaseWait
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if l.stream != nil {
			if r.probeAT(ctx, l) {
				return ModeEdm, nil
			}
			if r.probePlainOnStream(ctx, l) {
				return ModeEdm, nil
			}
		} else {
			if r.probeEdmOnUART(ctx, l) {
				return ModeCommand, nil
			}
			if r.probeAT(ctx, l) {
				return ModeCommand, nil
			}
		}
		if r.escape(ctx, l) {
			// The next pass finds the module in command mode.
			r.logger.Debug("escaped data mode", "handle", l.handle, "attempt", attempt)
		}

		r.logger.Debug("recovery pass failed", "handle", l.handle, "attempt", attempt, "wait", wait)
		if attempt == cfg.Attempts {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return l.mode, err
		}
		wait = min(wait*2, l.module.RebootCommandWait)
	}
	return l.mode, fmt.Errorf("%w: no answer after %d attempts", ErrTemporaryFailure, cfg.Attempts)
}

func (r *Registry) probeTimeout(l link) time.Duration {
	if d := r.config.Recovery.ProbeTimeout; d > 0 {
		return d
	}
	return l.module.ATTimeout
}

// probeAT sends AT through the link's own client, framed or not.
func (r *Registry) probeAT(ctx context.Context, l link) bool {
	l.at.SetRaw(nil)
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout(l))
	defer cancel()
	_, err := l.at.Exec(ctx, at.CmdAttention)
	return err == nil
}

// probeEdmOnUART checks whether a module on a plain UART link is actually
// in EDM. If it answers a framed AT, it is told to leave EDM so the plain
// client can be used again.
func (r *Registry) probeEdmOnUART(ctx context.Context, l link) bool {
	s := newSniffer(framedOK())
	l.at.SetRaw(s.feed)
	defer l.at.SetRaw(nil)

	frame, _ := edm.EncodeATRequest([]byte(at.CmdAttention + at.CR))
	if _, err := l.at.WriteRaw(frame); err != nil {
		return false
	}
	if !s.wait(ctx, r.probeTimeout(l)) {
		return false
	}

	s = newSniffer(framedOK())
	l.at.SetRaw(s.feed)
	frame, _ = edm.EncodeATRequest([]byte(at.CmdCommandMode + at.CR))
	if _, err := l.at.WriteRaw(frame); err != nil {
		return false
	}
	if !s.wait(ctx, r.probeTimeout(l)) {
		return false
	}
	r.logger.Debug("module was in EDM, returned to command mode", "handle", l.handle)
	return true
}

// probePlainOnStream checks whether a module on an EDM link has fallen
// back to plain AT and, if so, puts it back into EDM.
func (r *Registry) probePlainOnStream(ctx context.Context, l link) bool {
	s := newSniffer(plainOK())
	l.stream.SetRawSink(s.feed)
	defer l.stream.SetRawSink(nil)

	if err := l.stream.WriteRaw(ctx, []byte(at.CmdAttention+at.CR)); err != nil {
		return false
	}
	if !s.wait(ctx, r.probeTimeout(l)) {
		return false
	}

	s = newSniffer(plainOK())
	l.stream.SetRawSink(s.feed)
	if err := l.stream.WriteRaw(ctx, []byte(at.CmdEdmMode+at.CR)); err != nil {
		return false
	}
	if !s.wait(ctx, r.probeTimeout(l)) {
		return false
	}
	r.logger.Debug("module was in command mode, returned to EDM", "handle", l.handle)
	return r.probeAT(ctx, l)
}

// escape sends the data-mode escape sequence framed by the guard time and
// reports whether the module acknowledged it.
func (r *Registry) escape(ctx context.Context, l link) bool {
	guard := r.config.Recovery.GuardTime
	s := newSniffer(plainOK())
	if l.stream != nil {
		l.stream.SetRawSink(s.feed)
		defer l.stream.SetRawSink(nil)
	} else {
		l.at.SetRaw(s.feed)
		defer l.at.SetRaw(nil)
	}

	if err := sleep(ctx, guard); err != nil {
		return false
	}
	var err error
	if l.stream != nil {
		err = l.stream.WriteRaw(ctx, []byte(at.EscapeSequence))
	} else {
		_, err = l.at.WriteRaw([]byte(at.EscapeSequence))
	}
	if err != nil {
		return false
	}
	if err := sleep(ctx, guard); err != nil {
		return false
	}
	return s.wait(ctx, r.probeTimeout(l))
}

// sniffer watches raw bytes for a reply while the normal parser is
// bypassed.
type sniffer struct {
	match func([]byte) bool

	mu    sync.Mutex
	found bool
	hit   chan struct{}
}

func newSniffer(match func([]byte) bool) *sniffer {
	return &sniffer{match: match, hit: make(chan struct{})}
}

func (s *sniffer) feed(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.found || !s.match(p) {
		return
	}
	s.found = true
	close(s.hit)
}

func (s *sniffer) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.hit:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// plainOK returns a matcher for a text OK that may be split across reads.
func plainOK() func([]byte) bool {
	var buf []byte
	want := []byte(at.OK + at.CRLF)
	return func(b []byte) bool {
		buf = append(buf, b...)
		if bytes.Contains(buf, want) {
			return true
		}
		if n := len(buf); n > len(want) {
			buf = buf[n-len(want):]
		}
		return false
	}
}

// framedOK matches an EDM AT response frame containing OK.
func framedOK() func([]byte) bool {
	var p edm.Parser
	return func(b []byte) bool {
		events, _ := p.Feed(b)
		for _, ev := range events {
			if ev.Kind == edm.EventATResponse && bytes.Contains(ev.Data, []byte(at.OK)) {
				return true
			}
		}
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitLines(resp string) []string {
	return strings.Split(resp, "\n")
}
