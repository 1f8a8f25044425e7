package uart

import (
	"io"
	"sync"
)

// TestPort is an in-memory Port for tests. Reads block until data is
// queued with Feed or SendData (like a real serial port would), and every
// write is passed to the optional OnWrite hook so a test can play the
// module's side of the conversation.
type TestPort struct {
	mu       sync.Mutex
	readChan chan []byte
	pending  []byte
	closed   bool
	written  []byte
	onWrite  func(p []byte)
	rts      bool
}

// NewTestPort creates an open TestPort.
func NewTestPort() *TestPort {
	return &TestPort{
		readChan: make(chan []byte, 256),
		rts:      true,
	}
}

// OnWrite installs fn to be called with a copy of every chunk written to
// the port. fn runs on the writer's goroutine.
func (t *TestPort) OnWrite(fn func(p []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = fn
}

func (t *TestPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.written = append(t.written, p...)
	hook := t.onWrite
	t.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return len(p), nil
}

func (t *TestPort) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// Feed queues raw bytes to be read from the port.
func (t *TestPort) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed && len(data) > 0 {
		t.readChan <- append([]byte(nil), data...)
	}
}

// SendData queues text to be read from the port.
func (t *TestPort) SendData(data string) {
	t.Feed([]byte(data))
}

// Written returns everything written to the port so far.
func (t *TestPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.written...)
}

// SetRTS records the requested RTS line state.
func (t *TestPort) SetRTS(rts bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rts = rts
	return nil
}

// RTS reports the last RTS state set. A new port starts asserted.
func (t *TestPort) RTS() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rts
}
