package recording

import "errors"

var (
	// ErrAlreadyRecording reports a start while another recording session is
	// active. Only one recording may run per process.
	ErrAlreadyRecording = errors.New("recording: a session is already active")

	// ErrSessionNotFound reports an operation naming a session id that is
	// not registered.
	ErrSessionNotFound = errors.New("recording: session not found")

	// ErrSessionNotActive reports a participant mutation against a session
	// that is winding down.
	ErrSessionNotActive = errors.New("recording: session not active")

	// ErrNoSpeech flags the expected empty-meeting outcome: the session
	// closed cleanly but no speech was recognized. Callers get the result
	// alongside this sentinel and must treat it as an outcome, not a fault.
	ErrNoSpeech = errors.New("recording: no speech captured")
)
