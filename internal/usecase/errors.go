package usecase

import (
	"context"
	"errors"
	"time"

	"drinkshop-backend/internal/domain"
)

// DuplicateCheckoutError is returned when an idempotency key is replayed
// inside the checkout window. OrderID is empty while the first attempt is
// still in flight.
type DuplicateCheckoutError struct {
	OrderID string
}

func (e *DuplicateCheckoutError) Error() string {
	if e.OrderID == "" {
		return "checkout already in progress"
	}
	return "checkout already submitted as order " + e.OrderID
}

func (e *DuplicateCheckoutError) Unwrap() error { return domain.ErrDuplicateCheckout }

var errNoChange = errors.New("no change")

const maxMutateAttempts = 3

// mutateOrder runs fn against the freshest copy of the order and persists it
// with a version check. Stale writes are retried a few times so fn always
// validates against current state. fn returning errNoChange skips the write.
func mutateOrder(ctx context.Context, repo OrderRepo, id string, fn func(o *domain.Order) error) (*domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		o, ok, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NotFound("order")
		}
		if err := fn(o); err != nil {
			if errors.Is(err, errNoChange) {
				return o, nil
			}
			return nil, err
		}
		err = repo.Update(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrStaleWrite) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func nowFunc(f func() time.Time) time.Time {
	if f != nil {
		return f().UTC()
	}
	return time.Now().UTC()
}
