package events

import "sync"

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Allocations contains every allocation event that was published.
	Allocations []AllocationEvent

	// Payments contains every payment event that was published.
	Payments []PaymentEvent

	// Payloads contains the JSON payloads in publish order.
	Payloads [][]byte

	// PublishError, if set, is returned by both publish methods.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishAllocation records the allocation event.
func (f *FakePublisher) PublishAllocation(event AllocationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatAllocationPayload(event)
	if err != nil {
		return err
	}
	f.Allocations = append(f.Allocations, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishPayment records the payment event.
func (f *FakePublisher) PublishPayment(event PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPaymentPayload(event)
	if err != nil {
		return err
	}
	f.Payments = append(f.Payments, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// AllocationCount returns the number of recorded allocation events.
func (f *FakePublisher) AllocationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Allocations)
}
