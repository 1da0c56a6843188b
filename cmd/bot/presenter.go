package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/recording"
)

// discordMessageLimit is the hard per-message character cap.
const discordMessageLimit = 2000

// presenter posts the end-of-meeting material as plain chunked messages.
type presenter struct {
	post      poster
	channelID string
}

func newPresenter(post poster, channelID string) *presenter {
	return &presenter{post: post, channelID: channelID}
}

// deliver posts the result header, summary, and transcript. Posting is
// best-effort per chunk so one failed message does not swallow the rest.
func (p *presenter) deliver(res *recording.Result, summary string, noSpeech bool) {
	if p.channelID == "" {
		logging.Infow("no text channel configured, skipping meeting post")
		return
	}
	for _, chunk := range chunkMessage(buildMeetingPost(res, summary, noSpeech), discordMessageLimit) {
		if err := p.post(p.channelID, chunk); err != nil {
			logging.Warnw("meeting post failed", "channel_id", p.channelID, "err", err)
		}
	}
}

func buildMeetingPost(res *recording.Result, summary string, noSpeech bool) string {
	var b strings.Builder
	if noSpeech {
		b.WriteString("Recording finished: no speech captured.\n")
	} else {
		fmt.Fprintf(&b, "Recording finished: %s, %d participant(s), %d words, avg confidence %.2f.\n",
			res.Stats.Duration.Round(time.Second), res.Stats.ParticipantCount,
			res.Stats.TotalWords, res.Stats.AverageConfidence)
	}
	if res.Transcript != nil && res.Transcript.AbnormalClose {
		b.WriteString("Note: the transcription connection dropped mid-meeting; the transcript below is partial.\n")
	}
	if res.WavPath != "" {
		fmt.Fprintf(&b, "Audio saved: %s\n", res.WavPath)
	}
	if summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if !noSpeech && res.Transcript != nil && res.Transcript.CombinedText != "" {
		b.WriteString("\nTranscript:\n")
		b.WriteString(res.Transcript.CombinedText)
	}
	return b.String()
}

// chunkMessage splits body on line boundaries into pieces of at most limit
// characters, hard-splitting single lines longer than the limit.
func chunkMessage(body string, limit int) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if len(body) <= limit {
		return []string{body}
	}
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		need := len(line)
		if cur.Len() > 0 {
			need += cur.Len() + 1
		}
		if need > limit && cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
