package transcribe

import "errors"

var (
	// ErrConnectionTimeout reports that the streaming service did not
	// acknowledge the session within the open timeout. No resources remain
	// allocated when this is returned.
	ErrConnectionTimeout = errors.New("transcribe: timed out waiting for session acknowledgement")

	// ErrAlreadyClosed reports a stop on a session that is already closed
	// and has no cached transcript to return.
	ErrAlreadyClosed = errors.New("transcribe: session already closed")

	// ErrNotConnected reports an operation on a session that never reached
	// the active state.
	ErrNotConnected = errors.New("transcribe: session not connected")
)
