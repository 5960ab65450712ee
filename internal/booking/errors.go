package booking

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks lookups for unknown staff/service/appointment IDs.
// Store implementations wrap their "no rows" errors with it.
var ErrNotFound = errors.New("not found")

// ErrSlotConflict marks an overlap rejected by storage. The database
// exclusion constraint is the authoritative check; stores translate its
// violation into this sentinel.
var ErrSlotConflict = errors.New("time slot already booked")

// SlotConflictError is the pre-flight form of a conflict: it carries the
// blocking appointment's time range for a user-facing message.
type SlotConflictError struct {
	Start time.Time
	End   time.Time
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("time slot already booked from %s to %s",
		e.Start.Format("15:04"), e.End.Format("15:04"))
}

// Is lets errors.Is(err, ErrSlotConflict) match both forms of conflict.
func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// InvalidArgumentError covers malformed dates, past start times, inactive
// services and other caller mistakes that are not "missing entity".
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return e.Reason
}

func invalidArgf(format string, args ...any) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

func IsInvalidArgument(err error) bool {
	var ia *InvalidArgumentError
	return errors.As(err, &ia)
}
