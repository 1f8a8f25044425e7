package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"i4.energy/across/shortrange/at"
	"i4.energy/across/shortrange/edm"
	"i4.energy/across/shortrange/shortrange"
	"i4.energy/across/shortrange/uart"
)

// Status is what /healthz reports about the attached module.
type Status struct {
	Module      string    `json:"module"`
	Mode        string    `json:"mode"`
	Connections int       `json:"connections"`
	SPSChannels []int     `json:"sps_channels"`
	LastRestart time.Time `json:"last_restart,omitzero"`
}

// device is one module attached to the registry, with the loops that
// feed it.
type device struct {
	logger *slog.Logger
	reg    *shortrange.Registry
	handle shortrange.Handle
	client *at.Client
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

func dialerFor(cfg *Config) uart.Dialer {
	if cfg.SerialDriver == "tarm" {
		return uart.TarmDialer{PortName: cfg.SerialPort, BaudRate: cfg.BaudRate}
	}
	return uart.SerialDialer{PortName: cfg.SerialPort, BaudRate: cfg.BaudRate, AssertRTS: cfg.FlowControl}
}

// openDevice dials the module, starts the link loops and attaches it to
// a fresh registry. With Module "auto" the catalog entry comes from the
// module's own model string.
func openDevice(ctx context.Context, cfg *Config, dialer uart.Dialer, logger *slog.Logger) (*device, error) {
	port, err := dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.SerialPort, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d := &device{logger: logger, reg: &shortrange.Registry{}, cancel: cancel}

	var link io.ReadWriteCloser = port
	if cfg.StreamType == "edm" {
		stream := edm.NewStream(port, edm.WithLogger(logger.With("component", "edm")))
		d.run("edm", func() error { return stream.Loop(loopCtx) })
		link = stream.ATPort()
	}
	d.client = at.NewClient(link, at.WithTimeout(cfg.ATTimeout()), at.WithLogger(logger.With("component", "at")))
	d.run("at", func() error { return d.client.Loop(loopCtx) })

	regCfg, err := shortrange.NewConfigBuilder().
		WithDispatchQueue(cfg.DispatchQueue).
		WithLogger(logger).
		Build()
	if err != nil {
		d.Close()
		return nil, err
	}
	if err := d.reg.Init(regCfg); err != nil {
		d.Close()
		return nil, err
	}

	if err := d.attach(ctx, cfg.Module); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *device) run(name string, loop func() error) {
	d.loops.Add(1)
	go func() {
		defer d.loops.Done()
		if err := loop(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("Link loop stopped", "loop", name, "error", err)
		}
	}()
}

func (d *device) attach(ctx context.Context, module string) error {
	want := shortrange.ModuleNinaB1
	if module != "auto" {
		t, ok := shortrange.ParseModuleType(module)
		if !ok {
			return fmt.Errorf("unknown module %q", module)
		}
		want = t
	}

	h, err := d.reg.Add(want, d.client)
	if err != nil {
		return err
	}
	got, err := d.reg.DetectModule(ctx, h)
	if err != nil {
		observeError("detect", err)
		d.reg.Remove(h)
		return fmt.Errorf("detect module: %w", err)
	}
	if module == "auto" && got != want {
		d.reg.Remove(h)
		if h, err = d.reg.Add(got, d.client); err != nil {
			return err
		}
	} else if got != want {
		d.logger.Warn("Module differs from configuration", "configured", want, "detected", got)
	}
	d.handle = h
	d.logger.Info("Module attached", "module", got, "handle", h)
	return nil
}

// Close detaches the module and stops the link.
func (d *device) Close() error {
	d.reg.Deinit()
	d.cancel()
	err := d.client.Close()
	d.loops.Wait()
	if errors.Is(err, at.ErrAlreadyClosed) {
		return nil
	}
	return err
}

func (d *device) Status() (Status, error) {
	var s Status
	c, err := d.reg.Characteristics(d.handle)
	if err != nil {
		return s, err
	}
	s.Module = c.Name
	mode, err := d.reg.Mode(d.handle)
	if err != nil {
		return s, err
	}
	s.Mode = mode.String()
	if s.Connections, err = d.reg.Connections(d.handle); err != nil {
		return s, err
	}
	if s.SPSChannels, err = d.reg.SPSChannels(d.handle); err != nil {
		return s, err
	}
	s.LastRestart, err = d.reg.LastRestart(d.handle)
	return s, err
}

func (d *device) Attention(ctx context.Context) error {
	err := d.reg.Attention(ctx, d.handle)
	observeError("attention", err)
	return err
}

func (d *device) Connect(ctx context.Context, address string) (int, error) {
	conn, err := d.reg.Connect(ctx, d.handle, address)
	observeError("connect", err)
	return conn, err
}

func (d *device) Disconnect(ctx context.Context, conn int) error {
	err := d.reg.Disconnect(ctx, d.handle, conn)
	observeError("disconnect", err)
	return err
}

func (d *device) Send(conn int, data []byte) (int, error) {
	n, err := d.reg.Send(d.handle, conn, data)
	observeError("send", err)
	spsBytes.WithLabelValues("tx").Add(float64(n))
	return n, err
}

func (d *device) Receive(conn int, p []byte) (int, error) {
	n, err := d.reg.Receive(d.handle, conn, p)
	observeError("receive", err)
	spsBytes.WithLabelValues("rx").Add(float64(n))
	return n, err
}

func (d *device) SetSendTimeout(conn int, timeout time.Duration) error {
	return d.reg.SetSendTimeout(d.handle, conn, timeout)
}

func (d *device) ServerHandles(ctx context.Context, conn int) (shortrange.ServerHandles, error) {
	hs, err := d.reg.ServerHandles(ctx, d.handle, conn)
	observeError("server_handles", err)
	return hs, err
}
