package shortrange

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Default limits, sized to the module's own buffers.
const (
	DefaultMaxConnections  = 9
	DefaultSPSBufferSize   = 1024
	DefaultSPSSendTimeout  = 100 * time.Millisecond
	DefaultRecoveryRetries = 3
)

// RecoveryConfig bounds the ladder that finds the module's real mode.
type RecoveryConfig struct {
	// Attempts is the number of passes over the ladder.
	Attempts int
	// ProbeTimeout bounds each probe. Zero uses the module's AT timeout.
	ProbeTimeout time.Duration
	// BaseWait is the pause after the first failed pass. It doubles each
	// pass and is capped by the module's reboot-command wait.
	BaseWait time.Duration
	// GuardTime is the silence required before and after the data-mode
	// escape sequence.
	GuardTime time.Duration
}

// Config holds the Registry settings.
type Config struct {
	// MaxConnections is the capacity of each instance's connection table.
	MaxConnections int
	// SPSBufferSize is the receive buffer of each SPS channel.
	SPSBufferSize int
	// SPSHoldLimit bounds the bytes held back for a flow-controlled
	// channel whose buffer is full. Zero means eight buffers.
	SPSHoldLimit int
	// DefaultSendTimeout is the initial send timeout of an SPS channel.
	DefaultSendTimeout time.Duration
	// DispatchQueue, when positive, runs callbacks on a dedicated
	// goroutine fed by a queue of this size instead of on the link reader.
	DispatchQueue int
	Recovery      RecoveryConfig
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.SPSBufferSize == 0 {
		c.SPSBufferSize = DefaultSPSBufferSize
	}
	if c.SPSHoldLimit == 0 {
		c.SPSHoldLimit = 8 * c.SPSBufferSize
	}
	if c.DefaultSendTimeout == 0 {
		c.DefaultSendTimeout = DefaultSPSSendTimeout
	}
	if c.Recovery.Attempts == 0 {
		c.Recovery.Attempts = DefaultRecoveryRetries
	}
	if c.Recovery.BaseWait == 0 {
		c.Recovery.BaseWait = 250 * time.Millisecond
	}
	if c.Recovery.GuardTime == 0 {
		c.Recovery.GuardTime = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func (c *Config) validate() error {
	switch {
	case c.MaxConnections < 1:
		return fmt.Errorf("%w: max connections %d", ErrInvalidConfig, c.MaxConnections)
	case c.SPSBufferSize < 1:
		return fmt.Errorf("%w: SPS buffer size %d", ErrInvalidConfig, c.SPSBufferSize)
	case c.SPSHoldLimit < 0:
		return fmt.Errorf("%w: SPS hold limit %d", ErrInvalidConfig, c.SPSHoldLimit)
	case c.DefaultSendTimeout < 0:
		return fmt.Errorf("%w: send timeout %v", ErrInvalidConfig, c.DefaultSendTimeout)
	case c.DispatchQueue < 0:
		return fmt.Errorf("%w: dispatch queue %d", ErrInvalidConfig, c.DispatchQueue)
	case c.Recovery.Attempts < 1:
		return fmt.Errorf("%w: recovery attempts %d", ErrInvalidConfig, c.Recovery.Attempts)
	}
	return nil
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithMaxConnections(n int) *ConfigBuilder {
	b.config.MaxConnections = n
	return b
}

func (b *ConfigBuilder) WithSPSBufferSize(n int) *ConfigBuilder {
	b.config.SPSBufferSize = n
	return b
}

func (b *ConfigBuilder) WithSPSHoldLimit(n int) *ConfigBuilder {
	b.config.SPSHoldLimit = n
	return b
}

func (b *ConfigBuilder) WithSendTimeout(d time.Duration) *ConfigBuilder {
	b.config.DefaultSendTimeout = d
	return b
}

func (b *ConfigBuilder) WithDispatchQueue(n int) *ConfigBuilder {
	b.config.DispatchQueue = n
	return b
}

// WithRecovery sets the number of ladder passes and the first wait.
func (b *ConfigBuilder) WithRecovery(attempts int, baseWait time.Duration) *ConfigBuilder {
	b.config.Recovery.Attempts = attempts
	b.config.Recovery.BaseWait = baseWait
	return b
}

func (b *ConfigBuilder) WithProbeTimeout(d time.Duration) *ConfigBuilder {
	b.config.Recovery.ProbeTimeout = d
	return b
}

func (b *ConfigBuilder) WithGuardTime(d time.Duration) *ConfigBuilder {
	b.config.Recovery.GuardTime = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// Build applies defaults and validates the result.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
