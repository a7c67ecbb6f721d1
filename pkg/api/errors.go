package api

import (
	"errors"
	"fmt"
	"net/http"
)

// RestError is returned by every engine call that gets an unexpected HTTP
// status. Err, when set, is the transport error that prevented a response.
type RestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine request failed: %v", e.Err)
	}
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Body)
}

func (e *RestError) Unwrap() error { return e.Err }

// NewRestError builds a RestError from a status code and response body.
func NewRestError(code int, body string) *RestError {
	return &RestError{StatusCode: code, Body: body}
}

// IsNotFound reports whether err carries an engine 404.
func IsNotFound(err error) bool {
	var re *RestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// IsRestError reports whether err originates from an engine call.
func IsRestError(err error) bool {
	var re *RestError
	return errors.As(err, &re)
}
