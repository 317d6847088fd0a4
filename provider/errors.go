package provider

import "fmt"

// ErrorKind categorizes an adapter failure.
type ErrorKind string

const (
	// ErrorKindTimeout indicates the upstream call exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindHTTP indicates the upstream returned a non-2xx status.
	ErrorKindHTTP ErrorKind = "http_error"
	// ErrorKindMalformed indicates the response body could not be parsed
	// into the expected shape.
	ErrorKindMalformed ErrorKind = "malformed_payload"
	// ErrorKindRateLimited indicates the upstream rejected the call with 429.
	ErrorKindRateLimited ErrorKind = "rate_limited"
)

// Error is a structured adapter failure. Retryable distinguishes transient
// failures (timeout, 5xx, rate limit) from ones that will not succeed on a
// retry of the same call (4xx, malformed payload).
type Error struct {
	Kind      ErrorKind
	Status    int
	Retryable bool
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewTimeoutError(cause error) *Error {
	return &Error{Kind: ErrorKindTimeout, Retryable: true, Message: "request timed out", Cause: cause}
}

func NewMalformedError(message string) *Error {
	return &Error{Kind: ErrorKindMalformed, Retryable: false, Message: message}
}

func NewRateLimitedError(status int) *Error {
	return &Error{Kind: ErrorKindRateLimited, Status: status, Retryable: true, Message: "rate limit exceeded"}
}

func NewHTTPError(status int, message string) *Error {
	return &Error{Kind: ErrorKindHTTP, Status: status, Retryable: status >= 500, Message: message}
}

// ClassifyHTTPStatus maps a non-2xx status code to the matching Error.
func ClassifyHTTPStatus(status int) *Error {
	switch {
	case status == 429:
		return NewRateLimitedError(status)
	case status >= 500:
		return NewHTTPError(status, "server returned an error")
	default:
		return NewHTTPError(status, fmt.Sprintf("unexpected status code %d", status))
	}
}
