package shortrange_test

import (
	"errors"
	"testing"
	"time"

	"i4.energy/across/shortrange/shortrange"
)

func TestConfigBuilder(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := shortrange.NewConfigBuilder().Build()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.MaxConnections != 9 {
			t.Errorf("expected 9 connections, got %d", cfg.MaxConnections)
		}
		if cfg.SPSBufferSize != 1024 {
			t.Errorf("expected a 1024 byte buffer, got %d", cfg.SPSBufferSize)
		}
		if cfg.DefaultSendTimeout != 100*time.Millisecond {
			t.Errorf("expected a 100ms send timeout, got %v", cfg.DefaultSendTimeout)
		}
		if cfg.SPSHoldLimit != 8*1024 {
			t.Errorf("expected the hold limit to follow the buffer size, got %d", cfg.SPSHoldLimit)
		}
		if cfg.Recovery.Attempts != shortrange.DefaultRecoveryRetries {
			t.Errorf("expected %d attempts, got %d", shortrange.DefaultRecoveryRetries, cfg.Recovery.Attempts)
		}
		if cfg.Logger == nil {
			t.Error("expected a logger")
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		cfg, err := shortrange.NewConfigBuilder().
			WithMaxConnections(4).
			WithSPSBufferSize(256).
			WithSendTimeout(time.Second).
			WithDispatchQueue(32).
			WithRecovery(5, time.Millisecond).
			Build()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.MaxConnections != 4 || cfg.SPSBufferSize != 256 || cfg.DefaultSendTimeout != time.Second {
			t.Errorf("overrides not applied: %+v", cfg)
		}
		if cfg.DispatchQueue != 32 || cfg.Recovery.Attempts != 5 || cfg.Recovery.BaseWait != time.Millisecond {
			t.Errorf("overrides not applied: %+v", cfg)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			b    *shortrange.ConfigBuilder
		}{
			{"Negative table", shortrange.NewConfigBuilder().WithMaxConnections(-1)},
			{"Negative buffer", shortrange.NewConfigBuilder().WithSPSBufferSize(-8)},
			{"Negative send timeout", shortrange.NewConfigBuilder().WithSendTimeout(-time.Second)},
			{"Negative queue", shortrange.NewConfigBuilder().WithDispatchQueue(-1)},
			{"Negative attempts", shortrange.NewConfigBuilder().WithRecovery(-1, time.Second)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := tt.b.Build()
				if !errors.Is(err, shortrange.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})
}

func TestParseModuleType(t *testing.T) {
	tests := []struct {
		model string
		want  shortrange.ModuleType
		ok    bool
	}{
		{"NINA-B112", shortrange.ModuleNinaB1, true},
		{"nina-w156", shortrange.ModuleNinaW15, true},
		{"NINA-W132", shortrange.ModuleNinaW13, true},
		{" ANNA-B112 ", shortrange.ModuleAnnaB1, true},
		{"ODIN-W262", shortrange.ModuleOdinW2, true},
		{"SARA-R410", shortrange.ModuleNone, false},
	}
	for _, tt := range tests {
		got, ok := shortrange.ParseModuleType(tt.model)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseModuleType(%q) = %s, %v; want %s, %v", tt.model, got, ok, tt.want, tt.ok)
		}
	}
}
