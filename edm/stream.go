package edm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stream runs EDM over an open port. It exposes the AT traffic as an
// io.ReadWriteCloser (ATPort) so a text AT client can sit on top of it,
// and delivers connection and data events to a single handler.
type Stream struct {
	port   io.ReadWriteCloser
	logger *slog.Logger
	parser Parser

	// writes serializes every frame through the writer goroutine so a
	// caller can give up on a stalled port without corrupting a frame.
	writes chan writeRequest
	quit   chan struct{}

	at *ATPort

	mu      sync.Mutex
	handler func(Event)
	sink    func([]byte)
	paused  map[uint8]struct{}
	closed  bool

	loopRunning atomic.Bool
}

type writeRequest struct {
	frame []byte
	done  chan error
}

// rtsSetter is implemented by serial ports that can drive RTS, such as
// go.bug.st/serial ports and uart.TestPort.
type rtsSetter interface {
	SetRTS(rts bool) error
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger used for debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// NewStream wraps port, which must already be in EDM (or about to be
// switched to it). Loop must be started to receive anything.
func NewStream(port io.ReadWriteCloser, opts ...Option) *Stream {
	s := &Stream{
		port:   port,
		logger: slog.Default(),
		writes: make(chan writeRequest),
		quit:   make(chan struct{}),
		paused: make(map[uint8]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.at = &ATPort{stream: s, frames: make(chan []byte, 64)}
	go s.writer()
	return s
}

func (s *Stream) writer() {
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.writes:
			_, err := s.port.Write(req.frame)
			req.done <- err
		}
	}
}

func (s *Stream) write(ctx context.Context, frame []byte) error {
	select {
	case <-s.quit:
		return ErrClosed
	default:
	}
	req := writeRequest{frame: frame, done: make(chan error, 1)}
	select {
	case s.writes <- req:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loop reads the port, reassembles frames and dispatches them until ctx
// is cancelled or the port is closed. It must be started exactly once.
// When Loop returns, reads on the ATPort return io.EOF.
func (s *Stream) Loop(ctx context.Context) error {
	if !s.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer s.at.shutdown()

	chunks := make(chan []byte, 16)
	readErrs := make(chan error, 1)
	go func() {
		defer close(chunks)
		buf := make([]byte, 1024)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErrs <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErrs:
					return err
				default:
					return io.EOF
				}
			}
			events, stray := s.parser.Feed(chunk)
			if len(stray) > 0 {
				s.deliverStray(stray)
			}
			for _, ev := range events {
				if !s.deliver(ctx, ev) {
					return ctx.Err()
				}
			}
		}
	}
}

func (s *Stream) deliver(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventATResponse, EventATEvent:
		select {
		case s.at.frames <- ev.Data:
			return true
		case <-ctx.Done():
			return false
		}
	}

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		s.logger.Debug("dropping event without handler", "kind", ev.Kind, "channel", ev.Channel)
		return true
	}
	h(ev)
	return true
}

func (s *Stream) deliverStray(b []byte) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		s.logger.Debug("discarding bytes outside frames", "bytes", len(b))
		return
	}
	sink(b)
}

// SetEventHandler installs h to receive every non-AT event. h runs on the
// Loop goroutine and must not block.
func (s *Stream) SetEventHandler(h func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetRawSink installs sink to receive bytes that arrive outside frames.
// A module that has fallen back to plain AT answers this way.
func (s *Stream) SetRawSink(sink func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// WriteRaw writes p to the port without framing.
func (s *Stream) WriteRaw(ctx context.Context, p []byte) error {
	return s.write(ctx, append([]byte(nil), p...))
}

// WriteData sends p to the peer on channel, split into chunks of at most
// chunkSize bytes (MaxPayloadSize-1 when chunkSize is not positive). It
// returns the number of bytes whose frames were fully written. When ctx
// expires part way, the count so far is returned with ctx's error.
func (s *Stream) WriteData(ctx context.Context, channel uint8, p []byte, chunkSize int) (int, error) {
	if chunkSize <= 0 || chunkSize > MaxPayloadSize-1 {
		chunkSize = MaxPayloadSize - 1
	}
	sent := 0
	for sent < len(p) {
		end := min(sent+chunkSize, len(p))
		frame, err := EncodeData(channel, p[sent:end])
		if err != nil {
			return sent, err
		}
		if err := s.write(ctx, frame); err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}

// Pause marks channel as unable to accept more data. While any channel is
// paused, RTS is deasserted on ports that support it so the module stops
// transmitting until the application catches up.
func (s *Stream) Pause(channel uint8) {
	s.mu.Lock()
	_, already := s.paused[channel]
	s.paused[channel] = struct{}{}
	first := !already && len(s.paused) == 1
	s.mu.Unlock()
	if first {
		s.setRTS(false)
	}
}

// Resume undoes Pause for channel.
func (s *Stream) Resume(channel uint8) {
	s.mu.Lock()
	_, was := s.paused[channel]
	delete(s.paused, channel)
	last := was && len(s.paused) == 0
	s.mu.Unlock()
	if last {
		s.setRTS(true)
	}
}

// Paused reports whether channel is paused.
func (s *Stream) Paused(channel uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paused[channel]
	return ok
}

func (s *Stream) setRTS(on bool) {
	r, ok := s.port.(rtsSetter)
	if !ok {
		return
	}
	if err := r.SetRTS(on); err != nil {
		s.logger.Debug("set RTS failed", "rts", on, "error", err)
	}
}

// ATPort returns the AT side of the stream.
func (s *Stream) ATPort() *ATPort {
	return s.at
}

// Close stops the writer and closes the port. Closing twice is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	return s.port.Close()
}

// ATPort carries AT text through EDM. Writes are framed as AT requests
// (one frame per Write); reads return the text of AT response and AT
// event frames in arrival order.
type ATPort struct {
	stream  *Stream
	frames  chan []byte
	pending []byte
	once    sync.Once
}

func (p *ATPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		data, ok := <-p.frames
		if !ok {
			return 0, io.EOF
		}
		p.pending = data
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *ATPort) Write(b []byte) (int, error) {
	frame, err := EncodeATRequest(b)
	if err != nil {
		return 0, err
	}
	if err := p.stream.write(context.Background(), frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the whole stream.
func (p *ATPort) Close() error {
	return p.stream.Close()
}

// Stream returns the EDM stream the port belongs to.
func (p *ATPort) Stream() *Stream {
	return p.stream
}

func (p *ATPort) shutdown() {
	p.once.Do(func() { close(p.frames) })
}
