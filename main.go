package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML or TOML config file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the module")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("serial-driver", "bugst", "Serial library (bugst, tarm)")
	flag.Bool("flow-control", false, "Assert RTS on open for hardware flow control")
	flag.String("stream", "edm", "Link framing (edm, uart)")
	flag.String("module", "auto", "Module family (e.g. NINA-B1), or auto to detect")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Int("at-timeout-ms", 5000, "AT command timeout in milliseconds")
	flag.Int("dispatch-queue", 0, "Callback queue depth, 0 runs callbacks inline")
	flag.Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	flag.String("mqtt-broker", "", "MQTT broker URL, empty disables event publishing")
	flag.String("mqtt-topic", "shortrange", "MQTT topic prefix for module events")
	flag.String("mqtt-client-id", "shortranged", "MQTT client ID")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	dev, err := openDevice(startCtx, config, dialerFor(config), logger.With("component", "shortrange"))
	cancelStart()
	if err != nil {
		logger.Error("Failed to open module", "error", err)
		os.Exit(1)
	}

	bridge := &Bridge{Logger: logger.With("component", "bridge"), Topic: config.MQTTTopic}
	var mqttClient mqtt.Client
	if config.MQTTBroker != "" {
		mqttClient = connectMQTT(config, bridge.Logger)
		bridge.client = mqttClient
	}
	if err := bridge.Register(dev.reg, dev.handle); err != nil {
		logger.Error("Failed to register callbacks", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting short-range gateway", "port", config.SerialPort, "stream", config.StreamType, "mqtt", config.MQTTBroker != "")

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Gateway: dev,
			Metrics: config.Metrics,
		},
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	if mqttClient != nil {
		mqttClient.Disconnect(500)
	}

	logger.Info("Closing module connection")
	if err := dev.Close(); err != nil {
		logger.Error("Failed to close module", "error", err)
		os.Exit(1)
	}
}
