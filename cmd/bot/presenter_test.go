package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/recording"
	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
)

func sampleResult() *recording.Result {
	conf := 0.9
	return &recording.Result{
		Transcript: &transcribe.FinalTranscript{
			SessionID:    "c1-20240101-120000",
			CombinedText: "hello there yes exactly",
			Duration:     95 * time.Second,
			Turns: []transcribe.TurnRecord{
				{Order: 0, Text: "hello there", Confidence: &conf, Speaker: "u1"},
				{Order: 1, Text: "yes exactly", Confidence: &conf, Speaker: "u2"},
			},
		},
		Participants: []recording.ParticipantSummary{
			{ID: "u1", DisplayName: "alice", Words: 2, Turns: 1},
			{ID: "u2", Words: 2, Turns: 1},
		},
		Stats: recording.Stats{
			TotalWords:        4,
			ParticipantCount:  2,
			AverageConfidence: 0.9,
			Duration:          95 * time.Second,
		},
	}
}

func TestBuildMeetingPost(t *testing.T) {
	body := buildMeetingPost(sampleResult(), "Everyone agreed.", false)

	for _, want := range []string{
		"Recording finished: 1m35s, 2 participant(s), 4 words, avg confidence 0.90.",
		"Summary:\nEveryone agreed.",
		"Transcript:\nhello there yes exactly",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("post missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "partial") {
		t.Fatalf("abnormal-close note on a clean meeting:\n%s", body)
	}
}

func TestBuildMeetingPostNoSpeech(t *testing.T) {
	res := sampleResult()
	res.Transcript.CombinedText = ""
	body := buildMeetingPost(res, "", true)

	if !strings.Contains(body, "no speech captured") {
		t.Fatalf("missing no-speech line:\n%s", body)
	}
	if strings.Contains(body, "Transcript:") || strings.Contains(body, "Summary:") {
		t.Fatalf("no-speech post carries transcript or summary:\n%s", body)
	}
}

func TestBuildMeetingPostAbnormalClose(t *testing.T) {
	res := sampleResult()
	res.Transcript.AbnormalClose = true
	res.WavPath = "/tmp/rec/c1.wav"
	body := buildMeetingPost(res, "", false)

	if !strings.Contains(body, "transcript below is partial") {
		t.Fatalf("missing abnormal-close note:\n%s", body)
	}
	if !strings.Contains(body, "Audio saved: /tmp/rec/c1.wav") {
		t.Fatalf("missing wav path:\n%s", body)
	}
}

func TestChunkMessage(t *testing.T) {
	if got := chunkMessage("", 10); got != nil {
		t.Fatalf("empty body chunked: %v", got)
	}
	if got := chunkMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short body: %v", got)
	}

	// Lines regroup under the limit without splitting mid-line.
	body := "aaaa\nbbbb\ncccc"
	got := chunkMessage(body, 9)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("line chunking: %v", got)
	}

	// A single oversized line is hard-split.
	got = chunkMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 {
		t.Fatalf("hard split: %v", got)
	}
	for _, c := range got {
		if len(c) > 10 {
			t.Fatalf("chunk over limit: %q", c)
		}
	}
	if strings.Join(got, "") != strings.Repeat("x", 25) {
		t.Fatalf("hard split lost bytes: %v", got)
	}
}

func TestDeliverSkipsWithoutChannel(t *testing.T) {
	rec := &postRecorder{}
	p := newPresenter(rec.post, "")
	p.deliver(sampleResult(), "sum", false)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("posted without a channel: %v", got)
	}
}

func TestDeliverContinuesPastPostFailure(t *testing.T) {
	rec := &postRecorder{fail: errors.New("rate limited")}
	p := newPresenter(rec.post, "chan-1")
	// Must not panic or abort; errors are logged per chunk.
	p.deliver(sampleResult(), "sum", false)
}

func TestMeetingFromResult(t *testing.T) {
	m := meetingFromResult(sampleResult())
	if m.Transcript != "hello there yes exactly" {
		t.Fatalf("transcript: %q", m.Transcript)
	}
	if len(m.Participants) != 2 || m.Participants[0] != "alice" || m.Participants[1] != "u2" {
		t.Fatalf("participants: %v", m.Participants)
	}
	if m.TotalWords != 4 || m.Duration != 95*time.Second {
		t.Fatalf("stats: words=%d duration=%s", m.TotalWords, m.Duration)
	}
}

func TestMeetingFromResultNilTranscript(t *testing.T) {
	res := sampleResult()
	res.Transcript = nil
	m := meetingFromResult(res)
	if m.Transcript != "" {
		t.Fatalf("transcript from nil: %q", m.Transcript)
	}
}
