package transcribe

import (
	"strings"
	"time"
)

// TurnRecord is one finalized transcript turn kept by the session, in
// receipt order.
type TurnRecord struct {
	Order      int
	Text       string
	ReceivedAt time.Time
	Formatted  bool
	// Confidence is the service's end-of-turn confidence; nil when the
	// message carried none.
	Confidence *float64
	// Speaker is empty when the service supplies no attribution.
	Speaker string
	Words   []Word
}

// WordCount returns the length of the word breakdown, falling back to a
// whitespace split of the text when the service sent none.
func (t TurnRecord) WordCount() int {
	if len(t.Words) > 0 {
		return len(t.Words)
	}
	return len(strings.Fields(t.Text))
}

// FinalTranscript is the artifact assembled exactly once when a session
// closes. It is an independent value: it holds copies and never changes
// after assembly, even if assembled early by a transport failure.
type FinalTranscript struct {
	SessionID     string
	ServiceID     string
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	Turns         []TurnRecord
	CombinedText  string
	AudioSeconds  float64
	AbnormalClose bool
}

// Empty reports whether no speech was recognized at all.
func (f *FinalTranscript) Empty() bool {
	return f == nil || strings.TrimSpace(f.CombinedText) == ""
}

// TotalWords sums the word counts of all recorded turns.
func (f *FinalTranscript) TotalWords() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, t := range f.Turns {
		n += t.WordCount()
	}
	return n
}

// AverageConfidence returns the mean of turn confidences where present, and
// 0 when no turn carried one.
func (f *FinalTranscript) AverageConfidence() float64 {
	if f == nil {
		return 0
	}
	sum, n := 0.0, 0
	for _, t := range f.Turns {
		if t.Confidence != nil {
			sum += *t.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Speakers returns the distinct attributed speaker ids in first-seen order;
// empty when the service attributed nothing.
func (f *FinalTranscript) Speakers() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range f.Turns {
		if t.Speaker == "" || seen[t.Speaker] {
			continue
		}
		seen[t.Speaker] = true
		out = append(out, t.Speaker)
	}
	return out
}
