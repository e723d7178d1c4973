package dispatch

import (
	"fmt"
	"net/http"
)

// Result is the uniform handler outcome. Exactly one of Redirect, JSON, or
// Status (with optional Body) should be set; a nil Result or an empty one
// yields an empty 200 response.
type Result struct {
	// Redirect, when non-empty, produces a 302 redirect to this URL.
	Redirect string

	// JSON, when non-nil, is encoded as an application/json body.
	JSON interface{}

	// Status, when non-zero, is written as the response code together
	// with the optional raw Body.
	Status int
	Body   []byte
}

// ClientError is an error caused by the request itself: missing or invalid
// parameters, or a lookup that legitimately has no result. The dispatcher
// maps it to its status code with the short message as the body; it is the
// only error content that ever reaches the client verbatim.
type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Status, e.Message)
}

// BadRequestf builds a 400 ClientError with a formatted message.
func BadRequestf(format string, args ...interface{}) *ClientError {
	return &ClientError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a 404 ClientError with a formatted message.
func NotFoundf(format string, args ...interface{}) *ClientError {
	return &ClientError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}
