package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every event as JSON to "<topic>/<event name>".
type MQTTSink struct {
	pub     Publisher
	topic   string
	qos     byte
	timeout time.Duration
	client  mqtt.Client
}

// NewMQTTSink wraps an existing publisher.
func NewMQTTSink(pub Publisher, topic string, qos byte, timeout time.Duration) *MQTTSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSink{
		pub:     pub,
		topic:   strings.TrimSuffix(topic, "/"),
		qos:     qos,
		timeout: timeout,
	}
}

// DialMQTT connects to the broker and returns a sink that owns the client.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	s := NewMQTTSink(client, cfg.Topic, cfg.QoS, timeout)
	s.client = client
	return s, nil
}

// Topic returns the topic an event is published to.
func (s *MQTTSink) Topic(ev Event) string {
	if s.topic == "" {
		return ev.Name
	}
	return s.topic + "/" + ev.Name
}

// Publish implements Sink.
func (s *MQTTSink) Publish(ctx context.Context, ev Event) error {
	js, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mqtt publish %s: %w", ev.Name, err)
	}
	tok := s.pub.Publish(s.Topic(ev), s.qos, false, js)

	wait := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < wait {
			wait = d
		}
	}
	if !tok.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish %s: timed out", ev.Name)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", ev.Name, err)
	}
	return nil
}

// Close disconnects a client created by DialMQTT.
func (s *MQTTSink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
