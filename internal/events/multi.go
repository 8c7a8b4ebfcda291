package events

import "errors"

// Multi publishes every event to each of publishers in order. All are
// attempted; their errors are joined.
type Multi []Publisher

func (m Multi) PublishAllocation(event AllocationEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAllocation(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishPayment(event PaymentEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishPayment(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
