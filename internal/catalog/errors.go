package catalog

import (
	"errors"
	"fmt"
)

// ErrNoScenes means the search window produced nothing usable in any
// collection. Callers record the gap and move on; this is not a failure of
// the pipeline.
var ErrNoScenes = errors.New("no scenes matched the search window")

// TransientError wraps a failure worth retrying: network faults, 5xx
// responses and rate-limit rejections. Anything else from the catalog is
// permanent and surfaces as-is.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
