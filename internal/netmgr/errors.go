package netmgr

import (
	"errors"
	"fmt"
	"time"
)

// UsageError reports invalid use of the API: a bad argument, a second
// interception action on the same request, or an action while interception
// is disabled. It is raised locally, before anything is sent to the browser.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// IsUsageError reports whether err is a UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// TimeoutError reports that a wait expired before its condition occurred.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout %s exceeded", e.Op, e.Timeout)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

var errRedirectResponseBody = errors.New("response body is unavailable for redirect responses")
