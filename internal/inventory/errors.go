package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNoFetcher        = errors.New("inventory: no snapshot fetcher")
	ErrNoRequester      = errors.New("inventory: no container requester")
	ErrNotContainer     = errors.New("inventory: object is not a container")
	ErrAlreadyContained = errors.New("inventory: object already in a container")
	ErrNotInContainer   = errors.New("inventory: object not in this container")
	ErrUnresolved       = errors.New("inventory: container contents unresolved")
	ErrCleared          = errors.New("inventory: cleared")
)

// UnknownObjectError reports an event for an object the mirror does not hold.
type UnknownObjectError struct {
	ID uint64
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("inventory: unknown object id=%d", e.ID)
}
