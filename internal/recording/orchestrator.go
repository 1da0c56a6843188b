package recording

import (
	"context"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
)

// Stats summarize a finished meeting for presentation.
type Stats struct {
	TotalWords        int
	ParticipantCount  int
	AverageConfidence float64
	Duration          time.Duration
	// AttributionFallback marks ParticipantCount as the subscribed-user
	// count because the service attributed no speakers.
	AttributionFallback bool
}

// Result is everything the presentation layer needs after a recording ends.
type Result struct {
	Transcript   *transcribe.FinalTranscript
	Participants []ParticipantSummary
	Stats        Stats
	WavPath      string
	SidecarPath  string
}

// Orchestrator sequences a meeting's capture, transcription, and
// bookkeeping through the registry and reduces the outcome to
// presentation-ready material.
type Orchestrator struct {
	registry *Registry
}

func NewOrchestrator(registry *Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// Begin starts a recording for the given voice channel.
func (o *Orchestrator) Begin(ctx context.Context, req StartRequest) (*Status, error) {
	return o.registry.Start(ctx, req)
}

// End stops the session and computes the meeting statistics. When the
// meeting captured no speech, End still returns the assembled Result, with
// ErrNoSpeech alongside it, so callers can present that distinct outcome.
func (o *Orchestrator) End(ctx context.Context, sessionID string) (*Result, error) {
	stop, err := o.registry.Stop(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Transcript:   stop.Transcript,
		Participants: stop.Participants,
		Stats:        computeStats(stop.Transcript, stop.Participants),
		WavPath:      stop.WavPath,
		SidecarPath:  stop.SidecarPath,
	}
	if stop.Transcript.Empty() {
		return res, ErrNoSpeech
	}
	return res, nil
}

// Status snapshots the in-flight recording, or nil when idle.
func (o *Orchestrator) Status() *Status {
	return o.registry.CurrentStatus()
}

// Transcript returns the turns recorded so far by the in-flight session.
func (o *Orchestrator) Transcript(sessionID string) ([]transcribe.TurnRecord, error) {
	return o.registry.LiveTranscript(sessionID)
}

// AddParticipant and RemoveParticipant pass voice-state changes through to
// the live session.
func (o *Orchestrator) AddParticipant(sessionID, userID string) error {
	return o.registry.AddParticipant(sessionID, userID)
}

func (o *Orchestrator) RemoveParticipant(sessionID, userID string) error {
	return o.registry.RemoveParticipant(sessionID, userID)
}

func computeStats(f *transcribe.FinalTranscript, parts []ParticipantSummary) Stats {
	var st Stats
	if f == nil {
		st.ParticipantCount = len(parts)
		st.AttributionFallback = len(parts) > 0
		return st
	}
	st.TotalWords = f.TotalWords()
	st.AverageConfidence = f.AverageConfidence()
	st.Duration = f.Duration
	if speakers := f.Speakers(); len(speakers) > 0 {
		st.ParticipantCount = len(speakers)
	} else {
		st.ParticipantCount = len(parts)
		st.AttributionFallback = true
	}
	return st
}
