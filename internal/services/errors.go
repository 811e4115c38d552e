package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrStalePresence    = errors.New("stale presence update")
	ErrStoreUnavailable = errors.New("account store unavailable")
)

const (
	SideOwner   = "owner"
	SidePrinter = "printer"
)

// PartialFailureError reports that a two-sided ownership mutation could not
// be completed on one side after retrying. Side names the half that failed
// so the caller knows what to reconcile.
type PartialFailureError struct {
	Side string
	Err  error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: %s side: %v", e.Side, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
