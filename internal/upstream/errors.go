package upstream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

// Explanation is the sentence handed to the voice consumer instead of an answer.
func (e *StatusError) Explanation() string {
	if e.Body == "" {
		return fmt.Sprintf("I encountered an error from the external service (status %d).", e.StatusCode)
	}
	return fmt.Sprintf("I encountered an error from the external service (status %d): %s", e.StatusCode, e.Body)
}

type TransportClass string

const (
	ClassConnectionRefused TransportClass = "connection_refused"
	ClassConnectionReset   TransportClass = "connection_reset"
	ClassTimeout           TransportClass = "timeout"
	ClassDNS               TransportClass = "dns"
	ClassOther             TransportClass = "other"
)

// TransportError is a failure to reach or keep talking to the upstream.
type TransportError struct {
	Class TransportClass
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport %s: %v", e.Class, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Retryable() bool {
	return e.Class != ClassDNS
}

func (e *TransportError) Explanation() string {
	return "I encountered an error connecting to the external service: " + strings.ReplaceAll(string(e.Class), "_", " ")
}

func newTransportError(err error) *TransportError {
	return &TransportError{Class: classifyTransport(err), Err: err}
}

func classifyTransport(err error) TransportClass {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return ClassConnectionReset
	case errors.As(err, &dnsErr):
		return ClassDNS
	case errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	default:
		return ClassOther
	}
}
