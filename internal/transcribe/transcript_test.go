package transcribe

import (
	"reflect"
	"testing"
)

// TestWordCountPrefersBreakdown verifies the word breakdown wins over the
// text when the service sent one.
func TestWordCountPrefersBreakdown(t *testing.T) {
	rec := TurnRecord{
		Text:  "one two three four",
		Words: []Word{{Text: "one"}, {Text: "two"}},
	}
	if got := rec.WordCount(); got != 2 {
		t.Fatalf("word count = %d, want 2", got)
	}
}

// TestWordCountFallsBackToText verifies the whitespace split covers turns
// that arrived without a word breakdown.
func TestWordCountFallsBackToText(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"hello world", 2},
		{"  spaced\tout \n tokens ", 3},
		{"single", 1},
		{"", 0},
		{"   ", 0},
	}
	for _, tc := range cases {
		rec := TurnRecord{Text: tc.text}
		if got := rec.WordCount(); got != tc.want {
			t.Errorf("WordCount(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

// TestSpeakersFirstSeenOrder verifies speaker ids come back deduplicated in
// the order they first appeared, skipping unattributed turns.
func TestSpeakersFirstSeenOrder(t *testing.T) {
	f := &FinalTranscript{Turns: []TurnRecord{
		{Speaker: "B"},
		{Speaker: ""},
		{Speaker: "A"},
		{Speaker: "B"},
	}}
	if got, want := f.Speakers(), []string{"B", "A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("speakers = %v, want %v", got, want)
	}

	none := &FinalTranscript{Turns: []TurnRecord{{Speaker: ""}, {Speaker: ""}}}
	if got := none.Speakers(); len(got) != 0 {
		t.Fatalf("expected no speakers for unattributed turns, got %v", got)
	}
}

// TestTranscriptNilReceivers verifies the read helpers tolerate a nil
// transcript so callers can skip the guard.
func TestTranscriptNilReceivers(t *testing.T) {
	var f *FinalTranscript
	if !f.Empty() {
		t.Errorf("nil transcript should report empty")
	}
	if got := f.TotalWords(); got != 0 {
		t.Errorf("nil TotalWords = %d, want 0", got)
	}
	if got := f.AverageConfidence(); got != 0 {
		t.Errorf("nil AverageConfidence = %v, want 0", got)
	}
	if got := f.Speakers(); got != nil {
		t.Errorf("nil Speakers = %v, want nil", got)
	}
}

// TestEmptyIgnoresWhitespace verifies a transcript whose combined text is
// only whitespace still counts as no speech.
func TestEmptyIgnoresWhitespace(t *testing.T) {
	f := &FinalTranscript{CombinedText: " \n\t "}
	if !f.Empty() {
		t.Errorf("whitespace-only transcript should report empty")
	}
	f.CombinedText = "hello"
	if f.Empty() {
		t.Errorf("transcript with text should not report empty")
	}
}

// TestAverageConfidenceSkipsMissing verifies turns without a confidence are
// excluded from the mean rather than dragging it to zero.
func TestAverageConfidenceSkipsMissing(t *testing.T) {
	hi, lo := 0.75, 0.25
	f := &FinalTranscript{Turns: []TurnRecord{
		{Confidence: &hi},
		{Confidence: nil},
		{Confidence: &lo},
	}}
	if got, want := f.AverageConfidence(), 0.5; got != want {
		t.Fatalf("average confidence = %v, want %v", got, want)
	}

	bare := &FinalTranscript{Turns: []TurnRecord{{}, {}}}
	if got := bare.AverageConfidence(); got != 0 {
		t.Fatalf("confidence with no data = %v, want 0", got)
	}
}
