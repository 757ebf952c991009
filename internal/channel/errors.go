package channel

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when no live connection exists.
// The channel does not buffer across a disconnect; the caller re-issues
// the triggering fetch after reconnect.
var ErrNotConnected = errors.New("channel: not connected")

// AuthError indicates the realtime service rejected the account's
// credentials. It is fatal for the session: the manager stops retrying
// and surfaces it once. All other transport errors are retryable.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
