package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrTransient marks a synthesis failure that may succeed when retried.
var ErrTransient = errors.New("tts: transient failure")

// ErrEmptyAudio is returned when a backend answers successfully but without
// any audio. It is treated as transient.
var ErrEmptyAudio = fmt.Errorf("%w: provider returned no audio", ErrTransient)

// transientError attaches ErrTransient to an underlying cause.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

// Transient wraps err so that [IsTransient] reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying. Context cancellation and
// deadline expiry of the caller's own context are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: unexpected status %d", e.Provider, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap reports ErrTransient for rate limiting, timeouts, and server errors.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500 {
		return ErrTransient
	}
	return nil
}

// CheckResponse returns a *StatusError for any non-2xx response, including
// up to 512 bytes of the body for diagnostics.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// ClassifyNetError wraps connection-level failures (dial errors, resets,
// timeouts, truncated bodies) as transient and returns other errors
// unchanged.
func ClassifyNetError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}
