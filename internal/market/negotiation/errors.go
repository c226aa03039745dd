package negotiation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidMaxEvents is returned when a caller asks for a negative
	// number of events.
	ErrInvalidMaxEvents = errors.New("maxEvents must not be negative")

	// ErrUnsubscribed is returned when the subscription was removed, whether
	// before the call or while the caller was waiting.
	ErrUnsubscribed = errors.New("subscription has been unsubscribed")

	// ErrNotFound is returned when the subscription was never registered here.
	ErrNotFound = errors.New("subscription not found")

	// ErrForbidden is returned when a caller operates on a subscription it
	// does not own.
	ErrForbidden = errors.New("caller does not own this subscription")
)

// InvalidMaxEventsError carries the rejected maxEvents value. It matches
// ErrInvalidMaxEvents under errors.Is.
type InvalidMaxEventsError struct {
	Value int
}

func (e *InvalidMaxEventsError) Error() string {
	return fmt.Sprintf("maxEvents must not be negative, got %d", e.Value)
}

func (e *InvalidMaxEventsError) Is(target error) bool {
	return target == ErrInvalidMaxEvents
}

// UnsubscribedError carries the id of the removed subscription. It matches
// ErrUnsubscribed under errors.Is.
type UnsubscribedError struct {
	SubscriptionID uuid.UUID
}

func (e *UnsubscribedError) Error() string {
	return fmt.Sprintf("subscription %s has been unsubscribed", e.SubscriptionID)
}

func (e *UnsubscribedError) Is(target error) bool {
	return target == ErrUnsubscribed
}
