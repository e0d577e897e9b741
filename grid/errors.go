package grid

import (
	"errors"
	"fmt"
)

// ConfigurationError marks invalid geometry or window inputs. It is a
// programmer error: callers are expected to validate via ComputeWindow
// before handing a window to the recycler.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "grid: invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// FetchError wraps a failed image or data fetch for one index. Per-item
// failures stay inside the loader; only systemic provider failures reach
// the host through Grid.OnError.
type FetchError struct {
	Index int
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("grid: fetch for index %d: %v", e.Index, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrCancelled is reported to deliver callbacks whose request was cancelled
// before completing. Slots treat it as "do nothing".
var ErrCancelled = errors.New("grid: load cancelled")

// errItemUnavailable marks an index whose page fetch succeeded but returned
// no item for it, typically a provider whose count and contents disagree.
var errItemUnavailable = errors.New("grid: item not materialized")
