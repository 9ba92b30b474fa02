package session

import "fmt"

// RemoteAPIError reports a failed call to the remote Unmanic API.
// The local session never contacts the remote API, so it never returns one.
type RemoteAPIError struct {
	Message    string
	StatusCode int
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api: %s (status %d)", e.Message, e.StatusCode)
}
