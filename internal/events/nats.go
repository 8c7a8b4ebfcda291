package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes NATS subjects: <prefix>.allocations and
// <prefix>.payments.
const DefaultSubjectPrefix = "footprint.offsets"

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// NATSPublisher publishes events on core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to cfg.URL. It keeps reconnecting for as long
// as the publisher lives.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "footprintd"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// AllocationSubject returns the subject allocation events go to.
func (p *NATSPublisher) AllocationSubject() string { return p.prefix + ".allocations" }

// PaymentSubject returns the subject payment events go to.
func (p *NATSPublisher) PaymentSubject() string { return p.prefix + ".payments" }

// PublishAllocation implements Publisher.
func (p *NATSPublisher) PublishAllocation(event AllocationEvent) error {
	payload, err := FormatAllocationPayload(event)
	if err != nil {
		return fmt.Errorf("format allocation payload: %w", err)
	}
	return p.publish(p.AllocationSubject(), payload)
}

// PublishPayment implements Publisher.
func (p *NATSPublisher) PublishPayment(event PaymentEvent) error {
	payload, err := FormatPaymentPayload(event)
	if err != nil {
		return fmt.Errorf("format payment payload: %w", err)
	}
	return p.publish(p.PaymentSubject(), payload)
}

func (p *NATSPublisher) publish(subject string, payload []byte) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
