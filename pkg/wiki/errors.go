package wiki

import (
	"errors"
	"fmt"
)

// ErrPageMissing is returned when the requested page does not exist.
var ErrPageMissing = errors.New("page does not exist")

// LoginError is a login the server answered with a non-success result.
type LoginError struct {
	Result string
	Reason string
}

func (e *LoginError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("login failed: %s: %s", e.Result, e.Reason)
	}
	return fmt.Sprintf("login failed: %s", e.Result)
}

// ResultError is a write action that returned without a Success result,
// e.g. an edit stopped by a captcha or an upload with warnings.
type ResultError struct {
	Action string
	Result string
	Detail map[string]any
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s returned %s", e.Action, e.Result)
}
