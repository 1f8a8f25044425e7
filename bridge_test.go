package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"
	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/shortrange"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic string
	event Event
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var ev Event
	json.Unmarshal(payload.([]byte), &ev)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, ev})
	return newDoneToken(f.err)
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return f.msgs[len(f.msgs)-1]
}

// attachBridge adds a module whose URC handlers the test can call
// directly and registers a bridge on it.
func attachBridge(t *testing.T, pub publisher) map[string]at.URCHandler {
	t.Helper()
	ctrl := gomock.NewController(t)
	handlers := make(map[string]at.URCHandler)
	ch := shortrange.NewMockATChannel(ctrl)
	ch.EXPECT().Port().Return(nil).AnyTimes()
	ch.EXPECT().Handle(gomock.Any(), gomock.Any()).Do(func(prefix string, h at.URCHandler) {
		handlers[prefix] = h
	}).AnyTimes()
	ch.EXPECT().Unhandle(gomock.Any()).AnyTimes()

	reg := &shortrange.Registry{}
	cfg, err := shortrange.NewConfigBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Init(cfg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(reg.Deinit)
	h, err := reg.Add(shortrange.ModuleNinaW15, ch)
	if err != nil {
		t.Fatal(err)
	}

	b := &Bridge{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Topic: "site"}
	if pub != nil {
		b.client = pub
	}
	if err := b.Register(reg, h); err != nil {
		t.Fatal(err)
	}
	return handlers
}

func TestBridgePublishesEvents(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		line      string
		wantTopic string
		want      Event
	}{
		{"Bluetooth", at.UrcPeerConnected, "+UUDPC:1,1,0,D4CA6EAABBCCp,1000", "site/bt", Event{Kind: "bt", Conn: 1, Status: "connected", Address: "D4CA6EAABBCC"}},
		{"MQTT", at.UrcPeerConnected, "+UUDPC:3,2,2,192.168.1.20,49153,10.0.0.5,1883", "site/mqtt", Event{Kind: "mqtt", Conn: 3, Status: "connected", Address: "10.0.0.5:1883"}},
		{"Network down", at.UrcNetworkDown, "+UUND:0", "site/network", Event{Kind: "network", Status: "disconnected"}},
		{"Wi-Fi reason", at.UrcWifiLinkDown, "+UUWLD:0,3", "site/wifi", Event{Kind: "wifi", Status: "disconnected", Reason: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			handlers := attachBridge(t, pub)
			handlers[tt.prefix](tt.line)

			got := pub.last(t)
			if got.topic != tt.wantTopic {
				t.Errorf("expected topic %s, got %s", tt.wantTopic, got.topic)
			}
			ev := got.event
			if ev.Time.IsZero() {
				t.Error("expected a timestamp")
			}
			ev.Time, ev.Channel = time.Time{}, nil
			if ev != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, ev)
			}
		})
	}
}

func TestBridgeCountsConnections(t *testing.T) {
	handlers := attachBridge(t, nil)
	counter := connectionEvents.WithLabelValues("ip", "connected")
	before := testutil.ToFloat64(counter)

	handlers[at.UrcPeerConnected]("+UUDPC:2,2,0,192.168.1.20,49152,192.168.1.1,8080")
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected the counter to move by one, got %v -> %v", before, got)
	}
}

func TestBridgePublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	handlers := attachBridge(t, pub)
	handlers[at.UrcNetworkUp]("+UUNU:0")
	if got := pub.last(t).event.Kind; got != "network" {
		t.Errorf("expected a network event, got %s", got)
	}
}

func TestObserveError(t *testing.T) {
	counter := commandErrors.WithLabelValues("test", "-20")
	before := testutil.ToFloat64(counter)
	observeError("test", nil)
	observeError("test", shortrange.ErrBusy)
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("expected one invalid-mode error, got %v -> %v", before, got)
	}
}
