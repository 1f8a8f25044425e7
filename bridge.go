package main

import (
	"encoding/json"
	"log/slog"
	"net/netip"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"i4.energy/across/shortrange/shortrange"
)

// publisher is the part of mqtt.Client the bridge uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge forwards module events to an MQTT broker and the metrics
// counters. A Bridge without a publisher only feeds metrics.
type Bridge struct {
	Logger *slog.Logger
	Topic  string
	client publisher
}

// Event is the JSON payload published for every module event.
type Event struct {
	Kind    string    `json:"kind"`
	Conn    int       `json:"conn"`
	Status  string    `json:"status"`
	Address string    `json:"address,omitempty"`
	Channel *int      `json:"channel,omitempty"`
	MTU     int       `json:"mtu,omitempty"`
	Reason  int       `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

// connectMQTT dials the broker. The returned client reconnects on its own;
// a failed first connect is logged and retried in the background.
func connectMQTT(cfg *Config, logger *slog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", "broker", cfg.MQTTBroker)
	})

	cli := mqtt.NewClient(opts)
	t := cli.Connect()
	if t.WaitTimeout(5*time.Second) && t.Error() != nil {
		logger.Error("MQTT connect failed", "error", t.Error())
	}
	return cli
}

func (b *Bridge) publish(ev Event) {
	if b.client == nil {
		return
	}
	ev.Time = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		b.Logger.Error("Failed to encode event", "error", err)
		return
	}
	topic := b.Topic + "/" + ev.Kind
	t := b.client.Publish(topic, 0, false, payload)
	go func() {
		if t.WaitTimeout(5*time.Second) && t.Error() != nil {
			b.Logger.Warn("MQTT publish failed", "topic", topic, "error", t.Error())
		}
	}()
}

func (b *Bridge) record(ev Event, status shortrange.ConnStatus) {
	ev.Status = status.String()
	observeConnection(ev.Kind, status)
	b.Logger.Info("Module event", "kind", ev.Kind, "conn", ev.Conn, "status", ev.Status, "address", ev.Address)
	b.publish(ev)
}

func remote(c shortrange.IPConnection) string {
	if c.Remote == (netip.AddrPort{}) {
		return ""
	}
	return c.Remote.String()
}

// Register installs the bridge as every event callback of h.
func (b *Bridge) Register(reg *shortrange.Registry, h shortrange.Handle) error {
	errs := []error{
		reg.SetBTConnectionCallback(h, func(_ shortrange.Handle, conn int, status shortrange.ConnStatus, address string, _ any) {
			b.record(Event{Kind: "bt", Conn: conn, Address: address}, status)
		}, nil),
		reg.SetIPConnectionCallback(h, func(_ shortrange.Handle, conn int, status shortrange.ConnStatus, c shortrange.IPConnection, _ any) {
			b.record(Event{Kind: "ip", Conn: conn, Address: remote(c)}, status)
		}, nil),
		reg.SetMQTTConnectionCallback(h, func(_ shortrange.Handle, conn int, status shortrange.ConnStatus, c shortrange.IPConnection, _ any) {
			b.record(Event{Kind: "mqtt", Conn: conn, Address: remote(c)}, status)
		}, nil),
		reg.SetWiFiConnectionCallback(h, func(_ shortrange.Handle, id int, status shortrange.ConnStatus, channel int, bssid string, reason int, _ any) {
			b.record(Event{Kind: "wifi", Conn: id, Address: bssid, Channel: &channel, Reason: reason}, status)
		}, nil),
		reg.SetNetworkStatusCallback(h, func(_ shortrange.Handle, iface int, up bool, _ any) {
			status := shortrange.Disconnected
			if up {
				status = shortrange.Connected
			}
			b.record(Event{Kind: "network", Conn: iface}, status)
		}, nil),
		reg.SetSPSConnectionCallback(h, func(_ shortrange.Handle, conn int, status shortrange.ConnStatus, address string, channel int, mtu int, _ any) {
			b.record(Event{Kind: "sps", Conn: conn, Address: address, Channel: &channel, MTU: mtu}, status)
		}, nil),
		reg.SetDataAvailableCallback(h, func(_ shortrange.Handle, conn int, _ any) {
			b.publish(Event{Kind: "data", Conn: conn, Status: "available"})
		}, nil),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
