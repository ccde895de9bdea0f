package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"cobsdaq/pkg/protocol"
)

const mqttAppID = "cobsdaq"

// MQTTConfig configures the record publisher.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every record as JSON and waits for the broker to accept it.
type MQTT struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
}

// DialMQTT connects to cfg.Broker. Without a client id, one is derived from the machine id.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return newMQTT(client, cfg), nil
}

func newMQTT(client publisher, cfg MQTTConfig) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = "cobsdaq/records"
	}
	return &MQTT{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
	}
}

// DefaultClientID derives a stable client id from the host machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID(mqttAppID)
	if err != nil || len(id) < 12 {
		return fmt.Sprintf("%s-%d", mqttAppID, time.Now().UnixNano())
	}
	return mqttAppID + "-" + id[:12]
}

func (m *MQTT) WriteRecord(rec protocol.SampleRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tok := m.client.Publish(m.topic, m.qos, false, payload)
	if !tok.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt: publish record %d timed out", rec.Seq)
	}
	return tok.Error()
}

// Flush is a no-op: WriteRecord already waits for the publish to complete.
func (m *MQTT) Flush() error { return nil }

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
