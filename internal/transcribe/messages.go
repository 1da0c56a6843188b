package transcribe

// Inbound messages from the streaming endpoint are JSON objects routed by
// their "type" field. Outbound traffic is raw binary PCM plus one Terminate
// control message at shutdown.

const (
	msgTypeBegin       = "Begin"
	msgTypeTurn        = "Turn"
	msgTypeTermination = "Termination"
	msgTypeTerminate   = "Terminate"
)

// envelope carries just enough of an inbound message to route it.
type envelope struct {
	Type string `json:"type"`
}

// Begin acknowledges a new streaming session and carries the service's own
// session id plus its expiry as unix seconds.
type Begin struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	ExpiresAt float64 `json:"expires_at"`
}

// Turn is one recognized-speech message. The service re-sends a growing
// transcript for the same turn_order until the turn finalizes, so
// turn_is_formatted (or end_of_turn when formatting is off) decides which
// revision is worth keeping. Confidence and speaker may be absent.
type Turn struct {
	Type                string   `json:"type"`
	TurnOrder           int      `json:"turn_order"`
	Transcript          string   `json:"transcript"`
	EndOfTurn           bool     `json:"end_of_turn"`
	TurnIsFormatted     bool     `json:"turn_is_formatted"`
	EndOfTurnConfidence *float64 `json:"end_of_turn_confidence"`
	Speaker             string   `json:"speaker,omitempty"`
	Words               []Word   `json:"words,omitempty"`
}

// SpeakerLabel resolves the turn's speaker: the turn-level field when the
// service set one, otherwise the first word-level label. Empty means the
// service supplied no attribution for this turn.
func (t Turn) SpeakerLabel() string {
	if t.Speaker != "" {
		return t.Speaker
	}
	for _, w := range t.Words {
		if w.Speaker != "" {
			return w.Speaker
		}
	}
	return ""
}

// Word is the word-level breakdown inside a Turn. Speaker is present only
// when diarization is enabled on the session.
type Word struct {
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Confidence  float64 `json:"confidence"`
	WordIsFinal bool    `json:"word_is_final"`
	Speaker     string  `json:"speaker,omitempty"`
}

// Termination closes the protocol exchange with usage totals.
type Termination struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type terminateMessage struct {
	Type string `json:"type"`
}
