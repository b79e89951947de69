package inference

import (
	"errors"
	"fmt"
)

// InputShapeError means a tensor does not match the model contract. The
// pipeline treats this as permanent: retrying the same input cannot help.
type InputShapeError struct {
	Got  string
	Want string
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("model input shape %s, want %s", e.Got, e.Want)
}

// IsInputShape reports whether err is a model contract violation.
func IsInputShape(err error) bool {
	var se *InputShapeError
	return errors.As(err, &se)
}

// ModelUnavailableError means the model service cannot be reached or is not
// serving the expected model version. Raised by the startup health probe and
// by inference calls that fail to connect.
type ModelUnavailableError struct {
	URL string
	Err error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model service %s unavailable: %v", e.URL, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the model service is down.
func IsUnavailable(err error) bool {
	var ue *ModelUnavailableError
	return errors.As(err, &ue)
}
