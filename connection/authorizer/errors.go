package authorizer

import "fmt"

// The AuthorizationFailedError is used when the authorizer refused, or failed
// to reach, the deciding party for a protected channel. The subscription that
// triggered it is abandoned, never surfaced to the caller.
type AuthorizationFailedError struct {
	ChannelName string
	Err         error
}

func (e *AuthorizationFailedError) Error() string {
	return fmt.Sprintf("authorization failed for channel %s: %s", e.ChannelName, e.Err)
}

func (e *AuthorizationFailedError) Unwrap() error { return e.Err }
