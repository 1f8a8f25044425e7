package shortrange_test

import (
	"errors"
	"testing"

	"go.uber.org/mock/gomock"
	"i4.energy/across/shortrange/shortrange"
)

// quietChannel is a mock AT channel that accepts handler registration.
func quietChannel(ctrl *gomock.Controller) *shortrange.MockATChannel {
	ch := shortrange.NewMockATChannel(ctrl)
	ch.EXPECT().Port().Return(nil).AnyTimes()
	ch.EXPECT().Handle(gomock.Any(), gomock.Any()).AnyTimes()
	ch.EXPECT().Unhandle(gomock.Any()).AnyTimes()
	return ch
}

// taggedChannel is an AT channel whose type cannot be compared.
type taggedChannel struct {
	*shortrange.MockATChannel
	tags []string
}

func TestRegistryReferenceCounting(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := newRegistry(t, testBuilder())
	ch := quietChannel(ctrl)

	h1, err := reg.Add(shortrange.ModuleNinaB1, ch)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if h1 != 0 {
		t.Errorf("expected first handle 0, got %d", h1)
	}
	h2, err := reg.Add(shortrange.ModuleNinaB1, ch)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if h2 != h1 {
		t.Errorf("expected the same handle %d, got %d", h1, h2)
	}

	reg.Remove(h1)
	if _, err := reg.Mode(h1); err != nil {
		t.Errorf("instance should survive the first remove: %v", err)
	}
	reg.Remove(h1)
	if _, err := reg.Mode(h1); !errors.Is(err, shortrange.ErrNotFound) {
		t.Errorf("expected ErrNotFound after the last remove, got %v", err)
	}
	// A third remove of a dead handle is a no-op.
	reg.Remove(h1)

	h3, err := reg.Add(shortrange.ModuleNinaB1, ch)
	if err != nil {
		t.Fatalf("add after remove: %v", err)
	}
	if h3 == h1 {
		t.Errorf("a reused slot must not hand out the stale handle %d", h1)
	}
	if _, err := reg.Mode(h1); !errors.Is(err, shortrange.ErrNotFound) {
		t.Errorf("stale handle must not reach the new instance, got %v", err)
	}
}

func TestRegistryAdd(t *testing.T) {
	t.Run("Not initialised", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		var reg shortrange.Registry
		_, err := reg.Add(shortrange.ModuleNinaB1, shortrange.NewMockATChannel(ctrl))
		if !errors.Is(err, shortrange.ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("Unknown module type", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reg := newRegistry(t, testBuilder())
		_, err := reg.Add(shortrange.ModuleNone, shortrange.NewMockATChannel(ctrl))
		if !errors.Is(err, shortrange.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Distinct channels get distinct instances", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reg := newRegistry(t, testBuilder())
		a, err := reg.Add(shortrange.ModuleNinaB1, quietChannel(ctrl))
		if err != nil {
			t.Fatal(err)
		}
		b, err := reg.Add(shortrange.ModuleNinaW15, quietChannel(ctrl))
		if err != nil {
			t.Fatal(err)
		}
		if a == b {
			t.Fatalf("expected distinct handles, got %d twice", a)
		}
		chars, err := reg.Characteristics(b)
		if err != nil {
			t.Fatal(err)
		}
		if chars.Name != "NINA-W15" {
			t.Errorf("expected NINA-W15, got %s", chars.Name)
		}
	})

	t.Run("Non-comparable channels are never merged", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reg := newRegistry(t, testBuilder())
		ch := taggedChannel{MockATChannel: quietChannel(ctrl), tags: []string{"uart0"}}
		a, err := reg.Add(shortrange.ModuleNinaB1, ch)
		if err != nil {
			t.Fatal(err)
		}
		b, err := reg.Add(shortrange.ModuleNinaB1, ch)
		if err != nil {
			t.Fatal(err)
		}
		if a == b {
			t.Errorf("expected a new instance, got handle %d twice", a)
		}
	})

	t.Run("New UART instance starts in command mode", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		reg := newRegistry(t, testBuilder())
		h, _ := reg.Add(shortrange.ModuleNinaB1, quietChannel(ctrl))
		mode, err := reg.Mode(h)
		if err != nil {
			t.Fatal(err)
		}
		if mode != shortrange.ModeCommand {
			t.Errorf("expected command mode, got %s", mode)
		}
	})

	t.Run("EDM instance starts in EDM", func(t *testing.T) {
		reg := newRegistry(t, testBuilder())
		l := attachEDM(t, reg, simEDM)
		mode, err := reg.Mode(l.handle)
		if err != nil {
			t.Fatal(err)
		}
		if mode != shortrange.ModeEdm {
			t.Errorf("expected edm mode, got %s", mode)
		}
	})
}

func TestRegistryLifecycle(t *testing.T) {
	t.Run("Init twice keeps the first configuration", func(t *testing.T) {
		var reg shortrange.Registry
		first, _ := shortrange.NewConfigBuilder().WithMaxConnections(2).Build()
		second, _ := shortrange.NewConfigBuilder().WithMaxConnections(5).Build()
		if err := reg.Init(first); err != nil {
			t.Fatal(err)
		}
		defer reg.Deinit()
		if err := reg.Init(second); err != nil {
			t.Fatalf("second init should be a no-op, got %v", err)
		}

		ctrl := gomock.NewController(t)
		h, _ := reg.Add(shortrange.ModuleNinaB1, quietChannel(ctrl))
		for i := range 2 {
			if err := reg.InsertConnection(h, i, shortrange.ConnBluetooth); err != nil {
				t.Fatal(err)
			}
		}
		if err := reg.InsertConnection(h, 2, shortrange.ConnBluetooth); !errors.Is(err, shortrange.ErrResourceExhausted) {
			t.Errorf("expected the first configuration's table size, got %v", err)
		}
	})

	t.Run("Deinit removes every instance", func(t *testing.T) {
		var reg shortrange.Registry
		cfg, _ := shortrange.NewConfigBuilder().Build()
		if err := reg.Init(cfg); err != nil {
			t.Fatal(err)
		}
		ctrl := gomock.NewController(t)
		ch := quietChannel(ctrl)
		h, _ := reg.Add(shortrange.ModuleNinaB1, ch)
		reg.Add(shortrange.ModuleNinaB1, ch)

		reg.Deinit()
		if _, err := reg.Mode(h); !errors.Is(err, shortrange.ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured after deinit, got %v", err)
		}
		// Remove after deinit is harmless.
		reg.Remove(h)
		reg.Deinit()
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		var reg shortrange.Registry
		err := reg.Init(shortrange.Config{MaxConnections: -1})
		if !errors.Is(err, shortrange.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestRegistryATClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := newRegistry(t, testBuilder())
	ch := quietChannel(ctrl)
	h, _ := reg.Add(shortrange.ModuleAnnaB1, ch)

	got, err := reg.ATClient(h)
	if err != nil {
		t.Fatal(err)
	}
	if got != ch {
		t.Errorf("expected the bound channel back")
	}
	if _, err := reg.ATClient(h + 1); !errors.Is(err, shortrange.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown handle, got %v", err)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, shortrange.CodeSuccess},
		{shortrange.ErrNotFound, shortrange.CodeNotFound},
		{shortrange.ErrBusy, shortrange.CodeInvalidMode},
		{shortrange.ErrInvalidMode, shortrange.CodeInvalidMode},
		{shortrange.ErrNotConfigured, shortrange.CodeNotConfigured},
		{shortrange.ErrResourceExhausted, shortrange.CodeResourceExhausted},
		{shortrange.ErrTemporaryFailure, shortrange.CodeTemporaryFailure},
		{shortrange.ErrInvalidConfig, shortrange.CodeInvalidParameter},
		{errors.New("boom"), shortrange.CodeUnknown},
	}
	for _, tt := range tests {
		if got := shortrange.Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
