package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address" toml:"bind_address"`
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port" toml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int `yaml:"baud_rate" toml:"baud_rate"`
	// SerialDriver selects the serial library: "bugst" or "tarm"
	SerialDriver string `yaml:"serial_driver" toml:"serial_driver"`
	// FlowControl asserts RTS on open for modules wired for hardware flow control
	FlowControl bool `yaml:"flow_control" toml:"flow_control"`
	// StreamType is "edm" to run the link framed, or "uart" for plain AT
	StreamType string `yaml:"stream_type" toml:"stream_type"`
	// Module is the expected module family (e.g. "NINA-B1"), or "auto" to detect it
	Module string `yaml:"module" toml:"module"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level" toml:"log_level"`
	// ATTimeoutMS bounds a single AT command round trip in milliseconds
	ATTimeoutMS int `yaml:"at_timeout_ms" toml:"at_timeout_ms"`
	// DispatchQueue is the callback queue depth; 0 runs callbacks inline
	DispatchQueue int `yaml:"dispatch_queue" toml:"dispatch_queue"`
	// Metrics enables the /metrics endpoint
	Metrics bool `yaml:"metrics" toml:"metrics"`
	// MQTTBroker is the broker URL (e.g. "tcp://localhost:1883"); empty disables the bridge
	MQTTBroker string `yaml:"mqtt_broker" toml:"mqtt_broker"`
	// MQTTTopic is the prefix events are published under
	MQTTTopic string `yaml:"mqtt_topic" toml:"mqtt_topic"`
	// MQTTClientID identifies the bridge to the broker
	MQTTClientID string `yaml:"mqtt_client_id" toml:"mqtt_client_id"`
	MQTTUsername string `yaml:"mqtt_username" toml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password" toml:"mqtt_password"`
}

// ATTimeout returns ATTimeoutMS as a duration.
func (c *Config) ATTimeout() time.Duration {
	return time.Duration(c.ATTimeoutMS) * time.Millisecond
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.SerialDriver {
	case "bugst", "tarm":
	default:
		return fmt.Errorf("unknown serial driver %q", c.SerialDriver)
	}
	switch c.StreamType {
	case "edm", "uart":
	default:
		return fmt.Errorf("unknown stream type %q", c.StreamType)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.ATTimeoutMS <= 0 {
		return fmt.Errorf("invalid AT timeout %dms", c.ATTimeoutMS)
	}
	if c.DispatchQueue < 0 {
		return fmt.Errorf("invalid dispatch queue %d", c.DispatchQueue)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.SerialDriver = "bugst"
		c.StreamType = "edm"
		c.Module = "auto"
		c.LogLevel = "info"
		c.ATTimeoutMS = 5000
		c.Metrics = true
		c.MQTTTopic = "shortrange"
		c.MQTTClientID = "shortranged"
		return nil
	}
}

// WithFile loads configuration from a YAML or TOML file. Keys missing
// from the file keep their current values.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(b, c)
		case ".toml":
			err = toml.Unmarshal(b, c)
		default:
			return fmt.Errorf("unsupported config extension: %s", ext)
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if driver := os.Getenv("SERIAL_DRIVER"); driver != "" {
			c.SerialDriver = driver
		}

		if fc := os.Getenv("FLOW_CONTROL"); fc != "" {
			if b, err := strconv.ParseBool(fc); err == nil {
				c.FlowControl = b
			}
		}

		if st := os.Getenv("STREAM_TYPE"); st != "" {
			c.StreamType = st
		}

		if module := os.Getenv("MODULE"); module != "" {
			c.Module = module
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}

		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.MQTTTopic = topic
		}

		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTTUsername = user
			c.MQTTPassword = os.Getenv("MQTT_PASSWORD")
		}

		if m := os.Getenv("METRICS"); m != "" {
			if b, err := strconv.ParseBool(m); err == nil {
				c.Metrics = b
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			v := f.Value.String()
			switch f.Name {
			case "bind-address":
				c.BindAddress = v
			case "serial-port":
				c.SerialPort = v
			case "baud-rate":
				if b, e := strconv.Atoi(v); e == nil {
					c.BaudRate = b
				}
			case "serial-driver":
				c.SerialDriver = v
			case "flow-control":
				c.FlowControl = v == "true"
			case "stream":
				c.StreamType = v
			case "module":
				c.Module = v
			case "log-level":
				c.LogLevel = v
			case "at-timeout-ms":
				if n, e := strconv.Atoi(v); e == nil {
					c.ATTimeoutMS = n
				} else {
					err = fmt.Errorf("at-timeout-ms: %w", e)
				}
			case "dispatch-queue":
				if n, e := strconv.Atoi(v); e == nil {
					c.DispatchQueue = n
				}
			case "metrics":
				c.Metrics = v == "true"
			case "mqtt-broker":
				c.MQTTBroker = v
			case "mqtt-topic":
				c.MQTTTopic = v
			case "mqtt-client-id":
				c.MQTTClientID = v
			}
		})
		return err
	}
}
