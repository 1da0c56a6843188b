package recording

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
	"github.com/Vdarak/discord-bot-transcord/internal/voice"
)

const (
	defaultVADThreshold = 0.02
	defaultVADIdle      = 5 * time.Second
)

// AudioSource is the capture surface participants are subscribed on.
// Implemented by voice.Capture.
type AudioSource interface {
	Subscribe(userID string, sink func(frame []byte)) error
	Unsubscribe(userID string)
	DisplayName(userID string) string
}

// TranscriptSession is the slice of the streaming session the registry
// drives. Implemented by transcribe.Session.
type TranscriptSession interface {
	ID() string
	State() transcribe.State
	StartedAt() time.Time
	SendAudioFrame(frame []byte)
	TurnsSnapshot() []transcribe.TurnRecord
	Stop(ctx context.Context) (*transcribe.FinalTranscript, error)
	Done() <-chan struct{}
}

// OpenFunc opens the streaming transcription session for a new recording.
type OpenFunc func(ctx context.Context, sessionID string) (TranscriptSession, error)

// Options wire the registry's collaborators. SaveDir empty disables WAV
// artifacts; Sidecar nil disables metadata documents.
type Options struct {
	Source       AudioSource
	Open         OpenFunc
	SampleRate   int
	VADThreshold float64
	VADIdle      time.Duration
	SaveDir      string
	Sidecar      *voice.SidecarManager
	Mets         *metrics.Metrics
}

// Participant tracks one audio source inside a session. LeftAt is zero
// while the participant is still subscribed; they stay listed for the final
// summary after leaving.
type Participant struct {
	ID           string
	DisplayName  string
	SubscribedAt time.Time
	LeftAt       time.Time
}

// Session binds one voice-channel recording: the transcription socket, the
// subscribed participants, the activity estimator, and optional disk
// artifacts. Entries are owned exclusively by the Registry; callers reach
// them only through its operations.
type Session struct {
	ID            string
	CorrelationID string
	GuildID       string
	ChannelID     string
	CreatedAt     time.Time

	ts  TranscriptSession
	vad *voice.Estimator
	rec *voice.Recorder

	mu           sync.Mutex
	active       bool
	participants map[string]*Participant
	lastActivity time.Time
	sidecarPath  string

	vadCancel context.CancelFunc
	vadWG     sync.WaitGroup
}

// observeFrame is the per-participant sink: spool to disk, fold into the
// activity estimator, forward to the transcription socket. The capture
// worker calls it with one frame at a time per participant, in order.
func (s *Session) observeFrame(userID string, frame []byte) {
	s.rec.Append(frame)
	s.vad.Observe(userID, frame)
	s.ts.SendAudioFrame(frame)
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Status is a point-in-time view of the in-flight session.
type Status struct {
	SessionID        string
	Active           bool
	GuildID          string
	ChannelID        string
	StartedAt        time.Time
	Elapsed          time.Duration
	ParticipantCount int
	Participants     []string
	Speaking         []string
}

func (s *Session) status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var present []string
	for uid, p := range s.participants {
		if p.LeftAt.IsZero() {
			present = append(present, uid)
		}
	}
	sort.Strings(present)
	return &Status{
		SessionID:        s.ID,
		Active:           s.active,
		GuildID:          s.GuildID,
		ChannelID:        s.ChannelID,
		StartedAt:        s.CreatedAt,
		Elapsed:          time.Since(s.CreatedAt),
		ParticipantCount: len(present),
		Participants:     present,
		Speaking:         s.vad.Snapshot(),
	}
}

// ParticipantSummary is the per-participant slice of the final result.
// Words and Turns stay zero when the service attributes no speakers.
type ParticipantSummary struct {
	ID          string
	DisplayName string
	Words       int
	Turns       int
}

// participantSummaries lists everyone who took part, in join order, with
// per-speaker word counts when the transcript carries attribution.
func (s *Session) participantSummaries(final *transcribe.FinalTranscript) []ParticipantSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].SubscribedAt.Equal(parts[j].SubscribedAt) {
			return parts[i].ID < parts[j].ID
		}
		return parts[i].SubscribedAt.Before(parts[j].SubscribedAt)
	})
	out := make([]ParticipantSummary, len(parts))
	index := make(map[string]*ParticipantSummary, len(parts))
	for i, p := range parts {
		out[i] = ParticipantSummary{ID: p.ID, DisplayName: p.DisplayName}
		index[p.ID] = &out[i]
	}
	if final != nil {
		for _, t := range final.Turns {
			if t.Speaker == "" {
				continue
			}
			if ps, ok := index[t.Speaker]; ok {
				ps.Words += t.WordCount()
				ps.Turns++
			}
		}
	}
	return out
}

// StopResult carries the Final Transcript together with the session's
// participants and disk artifacts.
type StopResult struct {
	Transcript   *transcribe.FinalTranscript
	Participants []ParticipantSummary
	WavPath      string
	SidecarPath  string
}

// Registry is the process-wide session table. At most one session is
// active at a time; that is a documented simplification, enforced here.
type Registry struct {
	opts Options

	mu       sync.Mutex
	current  *Session
	starting bool
}

func NewRegistry(opts Options) *Registry {
	if opts.VADThreshold <= 0 {
		opts.VADThreshold = defaultVADThreshold
	}
	if opts.VADIdle <= 0 {
		opts.VADIdle = defaultVADIdle
	}
	return &Registry{opts: opts}
}

// StartRequest names the voice-channel context a recording binds to.
type StartRequest struct {
	GuildID      string
	ChannelID    string
	Participants []string
}

// Start opens a transcription session, subscribes each participant, and
// registers the session. It fails with ErrAlreadyRecording while any
// session is active, and a failed open leaves nothing registered.
func (r *Registry) Start(ctx context.Context, req StartRequest) (*Status, error) {
	r.mu.Lock()
	if r.current != nil || r.starting {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	r.starting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}()

	sessionID := fmt.Sprintf("%s-%s", req.ChannelID, time.Now().UTC().Format("20060102-150405"))
	correlationID := uuid.NewString()
	logging.Infow("starting recording session",
		"session_id", sessionID, "correlation_id", correlationID,
		"guild_id", req.GuildID, "channel_id", req.ChannelID,
		"participants", len(req.Participants))

	ts, err := r.opts.Open(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open transcription session: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:            sessionID,
		CorrelationID: correlationID,
		GuildID:       req.GuildID,
		ChannelID:     req.ChannelID,
		CreatedAt:     now,
		ts:            ts,
		vad:           voice.NewEstimator(r.opts.VADThreshold, r.opts.VADIdle),
		active:        true,
		participants:  make(map[string]*Participant),
		lastActivity:  now,
	}

	if r.opts.SaveDir != "" {
		rec, rerr := voice.NewRecorder(r.opts.SaveDir, sessionID, r.opts.SampleRate)
		if rerr != nil {
			// the audio artifact is a side-output; the meeting continues
			logging.Errorw("wav recorder unavailable", "session_id", sessionID, "err", rerr)
		} else {
			sess.rec = rec
		}
	}

	vadCtx, cancel := context.WithCancel(context.Background())
	sess.vadCancel = cancel
	sess.vadWG.Add(1)
	sess.vad.Run(vadCtx, &sess.vadWG)

	for _, uid := range req.Participants {
		if serr := r.subscribeParticipant(sess, uid); serr != nil {
			logging.Warnw("participant subscription failed, continuing without them",
				"session_id", sessionID, "user_id", uid, "err", serr)
		}
	}

	if r.opts.Sidecar != nil {
		path, serr := r.opts.Sidecar.Write(sessionID, voice.Sidecar{
			SessionID:     sessionID,
			CorrelationID: correlationID,
			GuildID:       req.GuildID,
			ChannelID:     req.ChannelID,
			StartedAt:     now.UTC(),
			Participants:  req.Participants,
		})
		if serr != nil {
			logging.Warnw("sidecar write failed", "session_id", sessionID, "err", serr)
		} else {
			sess.sidecarPath = path
		}
	}

	r.mu.Lock()
	r.current = sess
	r.mu.Unlock()
	r.opts.Mets.SessionStarted()
	logging.Infow("recording session active", logging.SessionFields(sessionID)...)
	return sess.status(), nil
}

func (r *Registry) subscribeParticipant(sess *Session, userID string) error {
	sink := func(frame []byte) { sess.observeFrame(userID, frame) }
	if err := r.opts.Source.Subscribe(userID, sink); err != nil {
		return err
	}
	name := r.opts.Source.DisplayName(userID)
	now := time.Now()
	sess.mu.Lock()
	if p, ok := sess.participants[userID]; ok {
		p.LeftAt = time.Time{}
	} else {
		sess.participants[userID] = &Participant{ID: userID, DisplayName: name, SubscribedAt: now}
	}
	sess.mu.Unlock()
	return nil
}

// lookup returns the registered session for sessionID.
func (r *Registry) lookup(sessionID string) (*Session, error) {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()
	if sess == nil || sess.ID != sessionID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// AddParticipant subscribes a new (or returning) participant on a live
// session.
func (r *Registry) AddParticipant(sessionID, userID string) error {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	active := sess.active
	p, exists := sess.participants[userID]
	present := exists && p.LeftAt.IsZero()
	sess.mu.Unlock()
	if !active {
		return ErrSessionNotActive
	}
	if present {
		return nil
	}
	if err := r.subscribeParticipant(sess, userID); err != nil {
		return fmt.Errorf("subscribe participant: %w", err)
	}
	logging.Infow("participant joined recording", "session_id", sessionID, "user_id", userID)
	return nil
}

// RemoveParticipant unsubscribes a participant's audio; they remain in the
// final summary.
func (r *Registry) RemoveParticipant(sessionID, userID string) error {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	active := sess.active
	p, exists := sess.participants[userID]
	if exists && active {
		p.LeftAt = time.Now()
	}
	sess.mu.Unlock()
	if !active {
		return ErrSessionNotActive
	}
	if !exists {
		return nil
	}
	r.opts.Source.Unsubscribe(userID)
	logging.Infow("participant left recording", "session_id", sessionID, "user_id", userID)
	return nil
}

// Stop winds the session down: participant tails are flushed while the
// socket still accepts audio, the transcription session stops with its
// grace window, artifacts are finalized, and the registry entry is removed.
func (r *Registry) Stop(ctx context.Context, sessionID string) (*StopResult, error) {
	sess, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	wasActive := sess.active
	sess.active = false
	var present []string
	for uid, p := range sess.participants {
		if p.LeftAt.IsZero() {
			present = append(present, uid)
		}
	}
	sess.mu.Unlock()
	if !wasActive {
		return nil, ErrSessionNotActive
	}

	logging.Infow("stopping recording session", "session_id", sess.ID, "participants", len(present))

	for _, uid := range present {
		r.opts.Source.Unsubscribe(uid)
	}

	sess.vadCancel()
	sess.vadWG.Wait()

	final, serr := sess.ts.Stop(ctx)
	if serr != nil && final == nil {
		logging.Errorw("transcription stop failed", "session_id", sess.ID, "err", serr)
	}

	wavPath := ""
	if sess.rec != nil {
		if p, ferr := sess.rec.Finalize(); ferr != nil {
			logging.Errorw("wav finalize failed", "session_id", sess.ID, "err", ferr)
		} else {
			wavPath = p
		}
	}

	summaries := sess.participantSummaries(final)

	if sess.sidecarPath != "" && r.opts.Sidecar != nil {
		updates := map[string]interface{}{
			"ended_at": time.Now().UTC(),
		}
		if wavPath != "" {
			updates["wav_path"] = wavPath
		}
		if final != nil {
			updates["audio_seconds"] = final.AudioSeconds
			updates["total_words"] = final.TotalWords()
			updates["avg_confidence"] = final.AverageConfidence()
		}
		if merr := r.opts.Sidecar.MergeUpdates(sess.sidecarPath, updates); merr != nil {
			logging.Warnw("sidecar update failed", "session_id", sess.ID, "err", merr)
		}
	}

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	r.opts.Mets.SessionStopped()

	if serr != nil && final == nil {
		return nil, fmt.Errorf("stop transcription session: %w", serr)
	}
	logging.Infow("recording session stopped",
		"session_id", sess.ID, "turns", len(final.Turns), "wav_path", wavPath)
	return &StopResult{
		Transcript:   final,
		Participants: summaries,
		WavPath:      wavPath,
		SidecarPath:  sess.sidecarPath,
	}, nil
}

// CurrentStatus snapshots the single in-flight session, or nil when none is
// registered.
func (r *Registry) CurrentStatus() *Status {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.status()
}

// LiveTranscript returns the turns recorded so far by the in-flight
// session. An empty sessionID matches whatever session is current.
func (r *Registry) LiveTranscript(sessionID string) ([]transcribe.TurnRecord, error) {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()
	if sess == nil || (sessionID != "" && sess.ID != sessionID) {
		return nil, ErrSessionNotFound
	}
	return sess.ts.TurnsSnapshot(), nil
}
