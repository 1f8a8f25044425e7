package at

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// maxLineLength bounds a line held while waiting for its CRLF. Anything
// longer is noise (usually binary data read while the parser was active)
// and is discarded.
const maxLineLength = 4096

// URCHandler receives one unsolicited result line, prefix included.
//
// Handlers run on the Client's Loop goroutine. They must not block and
// must not call Exec, which would wait on the very loop that is running
// the handler.
type URCHandler func(line string)

// Client exchanges AT commands with a module over an established byte
// stream. All reads happen on the goroutine running Loop; commands are
// queued to it by Exec and answered in order.
type Client struct {
	// port is the physical or EDM-framed stream to the module
	port io.ReadWriteCloser
	// timeout is applied to commands whose context has no deadline
	timeout time.Duration
	// delay is the minimum gap between two consecutive commands
	delay  time.Duration
	logger *slog.Logger

	// commands queues AT command requests for the Loop to process
	commands chan *commandRequest
	writeMu  sync.Mutex
	lastSent time.Time

	mu       sync.Mutex
	handlers map[string]URCHandler
	raw      func([]byte)
	closed   bool
	cancel   context.CancelFunc

	loopRunning atomic.Bool
}

// commandRequest is an AT command queued for the Loop.
type commandRequest struct {
	cmd string
	// sink, when set, is installed as the raw sink the moment the command
	// completes with OK, before any later byte is parsed.
	sink     func([]byte)
	respChan chan commandResponse
	ctx      context.Context
}

type commandResponse struct {
	response string
	err      error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCommandDelay enforces a minimum gap between commands. Some modules
// drop a command that arrives too soon after the previous response.
func WithCommandDelay(d time.Duration) Option {
	return func(c *Client) { c.delay = d }
}

// WithLogger sets the logger used for debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps port. Loop must be started before Exec is used.
func NewClient(port io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		port:     port,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
		commands: make(chan *commandRequest),
		handlers: make(map[string]URCHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Port returns the stream the client was built on.
func (c *Client) Port() io.ReadWriteCloser {
	return c.port
}

// Loop is the event loop that owns all reads from the port. It must be
// started exactly once, typically in its own goroutine, and runs until ctx
// is cancelled, the client is closed or the port fails.
//
// The loop:
//
// 1. Writes queued commands to the port, one at a time
// 2. Splits incoming bytes into lines and classifies them
// 3. Dispatches URCs to the registered handlers
// 4. Returns each command's response to its waiting Exec call
// 5. Hands bytes straight to the raw sink while one is installed
func (c *Client) Loop(ctx context.Context) error {
	if !c.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer c.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	chunks := make(chan []byte, 16)
	readErrs := make(chan error, 1)

	go func() {
		defer close(chunks)
		buf := make([]byte, 512)
		for {
			n, err := c.port.Read(buf)
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

	var st loopState
	for {
		var queue chan *commandRequest
		var cmdDone <-chan struct{}
		if st.cmd == nil {
			queue = c.commands
		} else {
			cmdDone = st.cmd.ctx.Done()
		}

		select {
		case <-ctx.Done():
			st.finish(commandResponse{err: ctx.Err()})
			return ctx.Err()

		case req := <-queue:
			c.pace()
			wire := strings.TrimSpace(req.cmd) + CR
			if _, err := c.write([]byte(wire)); err != nil {
				req.respChan <- commandResponse{err: fmt.Errorf("write command %q: %w", req.cmd, err)}
				continue
			}
			st.cmd, st.lines = req, nil

		case <-cmdDone:
			st.finish(commandResponse{
				response: strings.Join(st.lines, "\n"),
				err:      fmt.Errorf("%w: %q: %w", ErrTimeout, st.cmd.cmd, st.cmd.ctx.Err()),
			})

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErrs:
					st.finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
					return fmt.Errorf("read error: %w", err)
				default:
				}
				st.finish(commandResponse{err: io.EOF})
				return io.EOF
			}
			if sink := c.rawSink(); sink != nil {
				sink(chunk)
				continue
			}
			st.pending = append(st.pending, chunk...)
			c.consume(&st)
		}
	}
}

// loopState is the parser state owned by the Loop goroutine.
type loopState struct {
	cmd     *commandRequest
	lines   []string
	pending []byte
}

func (st *loopState) finish(resp commandResponse) {
	if st.cmd == nil {
		return
	}
	st.cmd.respChan <- resp
	st.cmd = nil
	st.lines = nil
}

// consume parses every complete line in st.pending.
func (c *Client) consume(st *loopState) {
	for {
		advance, token, _ := Splitter(st.pending, false)
		if advance == 0 {
			break
		}
		st.pending = st.pending[advance:]
		line := string(token)
		if line == "" {
			continue
		}

		switch Classify(line) {
		case TypeURC:
			// URCs can arrive at any time, even during command execution
			c.dispatch(line)

		case TypeFinal:
			if st.cmd == nil {
				// orphaned final result
				continue
			}
			st.lines = append(st.lines, line)
			response := strings.Join(st.lines, "\n")
			if line != OK {
				st.finish(commandResponse{response: response, err: fmt.Errorf("%w: %s", ErrCommandFailed, line)})
				continue
			}
			if sink := st.cmd.sink; sink != nil {
				c.SetRaw(sink)
				rest := st.pending
				st.pending = nil
				st.finish(commandResponse{response: response})
				if len(rest) > 0 {
					sink(rest)
				}
				return
			}
			st.finish(commandResponse{response: response})

		case TypeData:
			if st.cmd != nil {
				st.lines = append(st.lines, line)
			}
		}
	}

	if len(st.pending) > maxLineLength {
		c.logger.Debug("discarding unterminated line", "bytes", len(st.pending))
		st.pending = nil
	}
	st.pending = append([]byte(nil), st.pending...)
}

func (c *Client) dispatch(line string) {
	c.mu.Lock()
	var (
		handler URCHandler
		best    int
	)
	for prefix, h := range c.handlers {
		if len(prefix) > best && strings.HasPrefix(line, prefix) {
			handler, best = h, len(prefix)
		}
	}
	c.mu.Unlock()

	if handler == nil {
		c.logger.Debug("unhandled URC", "line", line)
		return
	}
	handler(line)
}

// Handle registers h for URC lines starting with prefix, replacing any
// previous handler for the same prefix. The longest matching prefix wins.
func (c *Client) Handle(prefix string, h URCHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[prefix] = h
}

// Unhandle removes the handler for prefix.
func (c *Client) Unhandle(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, prefix)
}

// SetRaw installs sink to receive every byte read from the port instead of
// the line parser. A nil sink returns the client to parsing.
func (c *Client) SetRaw(sink func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = sink
}

// Raw reports whether a raw sink is installed.
func (c *Client) Raw() bool {
	return c.rawSink() != nil
}

func (c *Client) rawSink() func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

// Exec sends cmd and waits for its final result. The response holds every
// intermediate line plus the final one, joined by newlines. A context
// without a deadline gets the client's default timeout.
func (c *Client) Exec(ctx context.Context, cmd string) (string, error) {
	return c.exec(ctx, &commandRequest{cmd: cmd})
}

// ExecRaw sends cmd and, if the module answers OK, switches the client to
// raw mode with sink installed. Bytes following the OK in the same read
// are delivered to sink, so nothing sent by the module after the switch is
// parsed as text.
func (c *Client) ExecRaw(ctx context.Context, cmd string, sink func([]byte)) (string, error) {
	return c.exec(ctx, &commandRequest{cmd: cmd, sink: sink})
}

func (c *Client) exec(ctx context.Context, req *commandRequest) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrAlreadyClosed
	}

	// Apply per-command timeout if context has none
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req.ctx = ctx
	req.respChan = make(chan commandResponse, 1)

	select {
	case c.commands <- req:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %q not sent: %w", ErrTimeout, req.cmd, ctx.Err())
	}

	select {
	case resp := <-req.respChan:
		return resp.response, resp.err
	case <-ctx.Done():
		// The loop answers on the buffered respChan once it notices.
		return "", fmt.Errorf("%w: %q: %w", ErrTimeout, req.cmd, ctx.Err())
	}
}

// WriteRaw writes p to the port without any framing. It is used for the
// data-mode escape sequence and for raw payload while in data mode.
func (c *Client) WriteRaw(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrAlreadyClosed
	}
	return c.write(p)
}

func (c *Client) write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.port.Write(p)
	c.lastSent = time.Now()
	return n, err
}

// pace sleeps until the configured command delay has passed since the
// last write.
func (c *Client) pace() {
	if c.delay <= 0 {
		return
	}
	c.writeMu.Lock()
	wait := c.delay - time.Since(c.lastSent)
	c.writeMu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

// Close stops the loop and closes the port. A closed client cannot be
// reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return c.port.Close()
}
