package events

import (
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// disconnectQuiesceMillis is how long Close waits for in-flight work.
	disconnectQuiesceMillis = 1000
)

// Config configures a RealPublisher.
type Config struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`

	// Topic overrides TopicAllocations; payment events go to TopicPayments.
	Topic string `yaml:"topic"`
}

// RealPublisher publishes to an MQTT broker.
type RealPublisher struct {
	client paho.Client
	topic  string
}

// NewRealPublisher connects to cfg.Broker.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "footprintd"
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicAllocations
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client, topic: cfg.Topic}, nil
}

// PublishAllocation sends an allocation report. QoS 1: every pass moves
// balances and downstream consumers should see it at least once.
func (p *RealPublisher) PublishAllocation(event AllocationEvent) error {
	payload, err := FormatAllocationPayload(event)
	if err != nil {
		return fmt.Errorf("format allocation payload: %w", err)
	}
	return p.publish(p.topic, 1, payload)
}

// PublishPayment sends a registered payment.
func (p *RealPublisher) PublishPayment(event PaymentEvent) error {
	payload, err := FormatPaymentPayload(event)
	if err != nil {
		return fmt.Errorf("format payment payload: %w", err)
	}
	return p.publish(TopicPayments, 1, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesceMillis)
	return nil
}
