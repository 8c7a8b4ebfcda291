// Package events publishes allocation and payment events to MQTT, NATS and
// in-process subscribers, with a fake implementation for tests.
package events

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
	"github.com/IC-Footprint/IC-Footprint-Main/internal/payments"
)

// Default topics.
const (
	TopicAllocations = "footprint/offsets/allocations"
	TopicPayments    = "footprint/offsets/payments"
)

// Publisher publishes engine events.
type Publisher interface {
	// PublishAllocation sends the outcome of an allocation pass. Errors are
	// reported to the caller and must not abort the pass.
	PublishAllocation(event AllocationEvent) error

	// PublishPayment sends a registered payment.
	PublishPayment(event PaymentEvent) error

	// Close disconnects from the broker.
	Close() error
}

// AllocationEvent is one completed allocation pass.
type AllocationEvent struct {
	Timestamp time.Time
	TraceID   string
	Client    string
	Report    offset.Report
}

// PaymentEvent is one registered payment.
type PaymentEvent struct {
	Timestamp time.Time
	Payment   payments.Payment
}

type allocationPayload struct {
	Allocation allocationInner `json:"allocation"`
}

type allocationInner struct {
	Timestamp string         `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Client    string         `json:"client,omitempty"`
	Policy    offset.Policy  `json:"policy"`
	Budget    float64        `json:"budget"`
	Consumed  float64        `json:"consumed"`
	Entries   []offset.Entry `json:"entries"`
}

// FormatAllocationPayload creates the JSON payload for an allocation event.
func FormatAllocationPayload(event AllocationEvent) ([]byte, error) {
	entries := event.Report.Entries
	if entries == nil {
		entries = []offset.Entry{}
	}
	return json.Marshal(allocationPayload{
		Allocation: allocationInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			TraceID:   event.TraceID,
			Client:    event.Client,
			Policy:    event.Report.Policy,
			Budget:    event.Report.Budget,
			Consumed:  event.Report.Consumed,
			Entries:   entries,
		},
	})
}

type paymentPayload struct {
	Payment paymentInner `json:"payment"`
}

type paymentInner struct {
	Timestamp string `json:"timestamp"`
	payments.Payment
}

// FormatPaymentPayload creates the JSON payload for a payment event.
func FormatPaymentPayload(event PaymentEvent) ([]byte, error) {
	return json.Marshal(paymentPayload{
		Payment: paymentInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Payment:   event.Payment,
		},
	})
}

// NopPublisher discards every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishAllocation(AllocationEvent) error { return nil }
func (NopPublisher) PublishPayment(PaymentEvent) error       { return nil }
func (NopPublisher) Close() error                            { return nil }
