package shortrange_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
	"i4.energy/across/shortrange/shortrange"
	"i4.energy/across/shortrange/uart"
)

type simMode int

const (
	simCommand simMode = iota
	simData
	simEDM
)

// simModule plays the module's side of a TestPort. It understands plain
// AT lines, the data-mode escape and EDM request frames, and answers the
// way a u-blox short-range module does.
type simModule struct {
	port *uart.TestPort

	mu       sync.Mutex
	mode     simMode
	line     []byte
	silent   bool
	replies  map[string]string
	commands []string
	data     []byte
	channels map[uint8][]byte
	nextPeer int
	// stallAfter, when positive, blocks every data frame after that many
	// until release is closed.
	stallAfter int
	dataFrames int
	release    chan struct{}
}

func newSimModule(t *testing.T, port *uart.TestPort, mode simMode) *simModule {
	t.Helper()
	s := &simModule{
		port:     port,
		mode:     mode,
		replies:  make(map[string]string),
		channels: make(map[uint8][]byte),
		release:  make(chan struct{}),
	}
	t.Cleanup(func() { close(s.release) })
	port.OnWrite(s.receive)
	return s
}

func (s *simModule) setMode(m simMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.line = nil
}

func (s *simModule) currentMode() simMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *simModule) setSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// reply makes cmd answer with body before the final OK.
func (s *simModule) reply(cmd, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[cmd] = body
}

func (s *simModule) stall(after int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallAfter = after
}

func (s *simModule) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *simModule) dataReceived() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

func (s *simModule) channelData(ch uint8) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.channels[ch]...)
}

func (s *simModule) receive(p []byte) {
	s.mu.Lock()
	if s.silent {
		s.mu.Unlock()
		return
	}

	switch s.mode {
	case simData:
		if string(p) == at.EscapeSequence {
			s.mode = simCommand
			s.mu.Unlock()
			s.port.SendData("\r\nOK\r\n")
			return
		}
		s.data = append(s.data, p...)
		s.mu.Unlock()

	case simEDM:
		t, body, ok := decodeRequest(p)
		if !ok {
			// plain bytes are noise to a module in EDM
			s.mu.Unlock()
			return
		}
		switch t {
		case edm.TypeATRequest:
			cmd := strings.TrimSpace(string(body))
			s.commands = append(s.commands, cmd)
			resp, next := s.answer(cmd)
			s.mode = next
			s.mu.Unlock()
			s.port.Feed(mustEncode(edm.TypeATResponse, []byte(resp)))
		case edm.TypeDataCommand:
			s.dataFrames++
			stall := s.stallAfter > 0 && s.dataFrames > s.stallAfter
			release := s.release
			if !stall && len(body) > 0 {
				s.channels[body[0]] = append(s.channels[body[0]], body[1:]...)
			}
			s.mu.Unlock()
			if stall {
				<-release
			}
		default:
			s.mu.Unlock()
		}

	default:
		var replies []string
		for _, b := range p {
			if b != '\r' {
				s.line = append(s.line, b)
				continue
			}
			line := string(s.line)
			s.line = nil
			i := strings.LastIndex(line, "AT")
			if i < 0 {
				continue
			}
			cmd := line[i:]
			s.commands = append(s.commands, cmd)
			resp, next := s.answer(cmd)
			replies = append(replies, resp)
			s.mode = next
			if next != simCommand {
				break
			}
		}
		s.mu.Unlock()
		for _, r := range replies {
			s.port.SendData(r)
		}
	}
}

// answer returns the response text to cmd and the mode that follows it.
// s.mu must be held.
func (s *simModule) answer(cmd string) (string, simMode) {
	if body, ok := s.replies[cmd]; ok {
		if body == at.ERROR {
			return "\r\nERROR\r\n", s.mode
		}
		return "\r\n" + body + "\r\nOK\r\n", s.mode
	}
	switch {
	case cmd == at.CmdAttention, cmd == at.CmdEchoOff:
		return "\r\nOK\r\n", s.mode
	case cmd == at.CmdCommandMode:
		return "\r\nOK\r\n", simCommand
	case cmd == at.CmdDataMode:
		return "\r\nOK\r\n", simData
	case cmd == at.CmdEdmMode:
		return "\r\nOK\r\n", simEDM
	case cmd == at.CmdModel:
		return "\r\nNINA-B112\r\nOK\r\n", s.mode
	case strings.HasPrefix(cmd, at.CmdConnectPeer):
		s.nextPeer++
		return fmt.Sprintf("\r\n%s%d\r\nOK\r\n", at.RespConnectPeer, s.nextPeer), s.mode
	case strings.HasPrefix(cmd, at.CmdClosePeer):
		return "\r\nOK\r\n", s.mode
	}
	return "\r\nERROR\r\n", s.mode
}

// urc emits an unsolicited line the way the current mode carries it.
func (s *simModule) urc(line string) {
	if s.currentMode() == simEDM {
		s.port.Feed(mustEncode(edm.TypeATEvent, []byte("\r\n"+line+"\r\n")))
		return
	}
	s.port.SendData("\r\n" + line + "\r\n")
}

func (s *simModule) edmConnectBT(channel uint8, addr [6]byte, frameSize uint16) {
	body := []byte{channel, 0x01, byte(edm.ProfileSPS)}
	body = append(body, addr[:]...)
	body = binary.BigEndian.AppendUint16(body, frameSize)
	s.port.Feed(mustEncode(edm.TypeConnectEvent, body))
}

func (s *simModule) edmDisconnect(channel uint8) {
	s.port.Feed(mustEncode(edm.TypeDisconnectEvent, []byte{channel}))
}

func (s *simModule) edmData(channel uint8, data []byte) {
	s.port.Feed(mustEncode(edm.TypeDataEvent, append([]byte{channel}, data...)))
}

func (s *simModule) edmStartup() {
	s.port.Feed(mustEncode(edm.TypeStartEvent, nil))
}

func mustEncode(t edm.PayloadType, body []byte) []byte {
	frame, err := edm.Encode(t, body)
	if err != nil {
		panic(err)
	}
	return frame
}

// decodeRequest unpacks one host-to-module frame. Every frame the host
// writes arrives in a single Write.
func decodeRequest(p []byte) (edm.PayloadType, []byte, bool) {
	if len(p) < 6 || p[0] != 0xAA || p[len(p)-1] != 0x55 {
		return 0, nil, false
	}
	n := int(binary.BigEndian.Uint16(p[1:3]) & 0x0FFF)
	if n+4 != len(p) || n < 2 {
		return 0, nil, false
	}
	t := edm.PayloadType(binary.BigEndian.Uint16(p[3:5]) & 0x0FFF)
	return t, bytes.Clone(p[5 : len(p)-1]), true
}

// testLink is a module attached to a registry for a test.
type testLink struct {
	reg    *shortrange.Registry
	handle shortrange.Handle
	sim    *simModule
	port   *uart.TestPort
	client *at.Client
	stream *edm.Stream
}

// testBuilder returns a builder with recovery timings short enough for
// tests. Callers may override any of them.
func testBuilder() *shortrange.ConfigBuilder {
	return shortrange.NewConfigBuilder().
		WithRecovery(2, 5*time.Millisecond).
		WithProbeTimeout(100 * time.Millisecond).
		WithGuardTime(5 * time.Millisecond)
}

func newRegistry(t *testing.T, b *shortrange.ConfigBuilder) *shortrange.Registry {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	reg := &shortrange.Registry{}
	if err := reg.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(reg.Deinit)
	return reg
}

// attachUART wires a module starting in simMode start over a plain UART
// link.
func attachUART(t *testing.T, reg *shortrange.Registry, start simMode) *testLink {
	t.Helper()
	port := uart.NewTestPort()
	sim := newSimModule(t, port, start)
	client := at.NewClient(port, at.WithTimeout(time.Second))
	runLoop(t, client.Loop)
	t.Cleanup(func() { client.Close() })

	h, err := reg.Add(shortrange.ModuleNinaB1, client)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return &testLink{reg: reg, handle: h, sim: sim, port: port, client: client}
}

// attachEDM wires a module starting in simMode start over an EDM stream.
func attachEDM(t *testing.T, reg *shortrange.Registry, start simMode) *testLink {
	t.Helper()
	port := uart.NewTestPort()
	sim := newSimModule(t, port, start)
	stream := edm.NewStream(port)
	runLoop(t, stream.Loop)
	client := at.NewClient(stream.ATPort(), at.WithTimeout(time.Second))
	runLoop(t, client.Loop)
	t.Cleanup(func() { client.Close() })

	h, err := reg.Add(shortrange.ModuleNinaB1, client)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return &testLink{reg: reg, handle: h, sim: sim, port: port, client: client, stream: stream}
}

func runLoop(t *testing.T, loop func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
