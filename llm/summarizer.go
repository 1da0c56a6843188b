package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxTranscriptChars bounds the prompt; longer transcripts are cut at a
// word boundary with a truncation note.
const maxTranscriptChars = 24000

const systemPrompt = "You summarize meeting transcripts. Respond with a concise summary: " +
	"an overview paragraph, then bullet lists for key discussion points, decisions, " +
	"and action items. Use only information from the transcript."

// Meeting is the summarizer's input, assembled from a finished recording.
type Meeting struct {
	Transcript   string
	Participants []string
	Duration     time.Duration
	TotalWords   int
}

// Summarizer turns a finished meeting into prose via the chat client. The
// prompt and response stay opaque: the model's text passes through as-is.
type Summarizer struct {
	client *Client
}

func NewSummarizer(client *Client) *Summarizer { return &Summarizer{client: client} }

// Summarize asks the model for a summary. Callers fall back to
// FallbackSummary when it errors.
func (s *Summarizer) Summarize(ctx context.Context, m Meeting) (string, error) {
	transcript := strings.TrimSpace(m.Transcript)
	if transcript == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrPermanent)
	}
	if len(transcript) > maxTranscriptChars {
		cut := transcript[:maxTranscriptChars]
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		transcript = cut + "\n\n(transcript truncated)"
	}

	resp, err := s.client.CreateChatCompletion(ctx, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(m, transcript)},
		},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty summary", ErrTransient)
	}
	return text, nil
}

func buildPrompt(m Meeting, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting duration: %s. Words spoken: %d.\n",
		m.Duration.Round(time.Second), m.TotalWords)
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s.\n", strings.Join(m.Participants, ", "))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

// FallbackSummary builds a minimal stats-only summary for when the model is
// unavailable. The transcript itself is still posted alongside it.
func FallbackSummary(m Meeting) string {
	noun := "participants"
	if len(m.Participants) == 1 {
		noun = "participant"
	}
	return fmt.Sprintf("Summary unavailable. The meeting ran %s with %d %s and %d words captured.",
		m.Duration.Round(time.Second), len(m.Participants), noun, m.TotalWords)
}
