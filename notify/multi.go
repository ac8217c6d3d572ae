package notify

import (
	"context"
	"errors"
)

// Multi sends to each gateway in order and stops at the first failure.
// Delivery is all-or-nothing from the caller's point of view: an error
// means the change is reported again on the next run, possibly to
// gateways that already received it.
type Multi []Gateway

func (m Multi) Send(ctx context.Context, e Event) error {
	for _, g := range m {
		if err := g.Send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every gateway that has a Close method.
func (m Multi) Close() error {
	var errs []error
	for _, g := range m {
		if c, ok := g.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
