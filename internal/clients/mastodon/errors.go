package mastodon

import (
	"errors"
	"fmt"
)

// The client surfaces a discriminated result: ok, *UpstreamError,
// *TransportError, or ErrGone. Callers branch with errors.As / errors.Is and
// decide retry; the client itself only retries what the rate contract allows.

// ErrGone marks an upstream 410. Distinct from 404: the account existed and
// was removed, and the scanner flags it instead of retrying.
var ErrGone = errors.New("upstream resource gone")

// UpstreamError is a non-2xx upstream response other than 410.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream http %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// RateLimited reports whether the error is an upstream 429.
func (e *UpstreamError) RateLimited() bool { return e != nil && e.StatusCode == 429 }

// TransportError wraps dial/timeout/read failures and retry exhaustion.
type TransportError struct {
	Kind string // "timeout" | "refused" | "dns" | "exhausted" | "io"
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports 404 specifically; the scanner treats it as a skip, not
// a flag.
func IsNotFound(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.StatusCode == 404
}

func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.RateLimited()
}
