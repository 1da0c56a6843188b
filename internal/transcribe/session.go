package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
)

// State is the lifecycle position of a Session. There is no transition out
// of StateClosed.
type State string

const (
	StateConnecting  State = "connecting"
	StateActive      State = "active"
	StateTerminating State = "terminating"
	StateClosed      State = "closed"
)

const (
	defaultOpenTimeout = 10 * time.Second
	defaultStopGrace   = time.Second
	writeTimeout       = 10 * time.Second
)

// Options configure one streaming session.
type Options struct {
	URL         string
	APIKey      string
	SampleRate  int
	FormatTurns bool
	// OpenTimeout bounds dial plus acknowledgement; StopGrace bounds the
	// wait for trailing messages after Terminate is sent. Zero values take
	// the defaults.
	OpenTimeout time.Duration
	StopGrace   time.Duration
	// OnTurn, when set, is invoked from the read loop for every inbound
	// Turn in arrival order, finalized or not. It must return quickly.
	OnTurn func(Turn)
	Mets   *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	return o
}

// Session owns one persistent websocket to the streaming transcription
// service and reconstructs the transcript from its message stream. Audio
// frames go out as binary messages the moment they arrive; inbound turns are
// appended strictly in receipt order.
type Session struct {
	id   string
	opts Options

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla permits one concurrent writer

	mu           sync.Mutex
	state        State
	turns        []TurnRecord
	startedAt    time.Time
	lastActivity time.Time
	serviceID    string
	expiresAt    time.Time
	audioSeconds float64
	abnormal     bool
	lastReadErr  error
	final        *FinalTranscript

	beginOnce sync.Once
	beginCh   chan struct{}
	termOnce  sync.Once
	termCh    chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// Open dials the streaming endpoint and blocks until the service
// acknowledges the session or the open timeout elapses. On timeout it
// returns ErrConnectionTimeout with the socket already torn down, so the
// caller must not assume any resources were registered.
func Open(ctx context.Context, sessionID string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if opts.URL == "" {
		return nil, fmt.Errorf("transcribe: url required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("transcribe: api key required")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("transcribe: sample rate must be positive")
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("transcribe: parse url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(opts.FormatTurns))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", opts.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, opts.OpenTimeout)
	defer cancel()

	s := &Session{
		id:       sessionID,
		opts:     opts,
		state:    StateConnecting,
		beginCh:  make(chan struct{}),
		termCh:   make(chan struct{}),
		readDone: make(chan struct{}),
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, ErrConnectionTimeout
		}
		return nil, fmt.Errorf("transcribe: dial: %w", err)
	}
	s.conn = conn
	logging.Infow("transcription session connecting", logging.SessionFields(sessionID)...)

	go s.readLoop()

	select {
	case <-s.beginCh:
		now := time.Now()
		s.mu.Lock()
		if s.state != StateConnecting {
			// The transport dropped right after the acknowledgement and the
			// read loop already closed the session; closed is final.
			rerr := s.lastReadErr
			s.mu.Unlock()
			s.closeConn()
			<-s.readDone
			return nil, fmt.Errorf("transcribe: handshake failed: %w", rerr)
		}
		s.state = StateActive
		s.startedAt = now
		s.lastActivity = now
		sid := s.serviceID
		s.mu.Unlock()
		logging.Infow("transcription session active",
			"session_id", sessionID, "service_session_id", sid, "sample_rate", opts.SampleRate)
		return s, nil
	case <-s.readDone:
		s.closeConn()
		s.mu.Lock()
		rerr := s.lastReadErr
		s.mu.Unlock()
		return nil, fmt.Errorf("transcribe: handshake failed: %w", rerr)
	case <-dialCtx.Done():
		s.closeConn()
		<-s.readDone
		return nil, ErrConnectionTimeout
	}
}

// ID returns the caller-assigned session identifier.
func (s *Session) ID() string { return s.id }

// ServiceID returns the service-assigned session id from the
// acknowledgement message.
func (s *Session) ServiceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the session became active.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// ExpiresAt returns the service-announced session expiry.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// TurnsSnapshot copies the turns recorded so far, for live status queries
// against a session that has not stopped yet.
func (s *Session) TurnsSnapshot() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnRecord, len(s.turns))
	copy(out, s.turns)
	return out
}

// LastActivity returns the time of the most recent outbound frame or
// inbound turn.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Done is closed once the read loop has exited, which happens on any path
// into StateClosed.
func (s *Session) Done() <-chan struct{} { return s.readDone }

// SendAudioFrame forwards one PCM frame to the service immediately. Frames
// arriving while the session is not active are dropped with a warning
// rather than queued or raised, so a terminating socket never crashes the
// audio pipeline.
func (s *Session) SendAudioFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.mu.Lock()
	st := s.state
	if st == StateActive {
		s.lastActivity = time.Now()
	}
	s.mu.Unlock()
	if st != StateActive {
		s.opts.Mets.FrameDiscarded()
		logging.Warnw("dropping audio frame, session not active",
			"session_id", s.id, "state", string(st), "bytes", len(frame))
		return
	}

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		s.opts.Mets.FrameDiscarded()
		logging.Errorw("audio frame write failed", "session_id", s.id, "err", err)
		// let the read loop observe the broken transport and transition
		s.closeConn()
	}
}

// Stop transitions active → terminating → closed: it sends the Terminate
// control message, waits up to the stop grace for trailing messages, forces
// the socket closed, and assembles the Final Transcript. A second Stop
// returns the cached transcript, or ErrAlreadyClosed when none was built.
func (s *Session) Stop(ctx context.Context) (*FinalTranscript, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		f := s.final
		s.mu.Unlock()
		if f != nil {
			return f, nil
		}
		return nil, ErrAlreadyClosed
	case StateTerminating:
		s.mu.Unlock()
		return nil, ErrAlreadyClosed
	case StateConnecting:
		s.mu.Unlock()
		s.closeConn()
		return nil, ErrNotConnected
	}
	s.state = StateTerminating
	grace := s.opts.StopGrace
	s.mu.Unlock()

	logging.Infow("stopping transcription session", logging.SessionFields(s.id)...)
	if err := s.writeJSON(terminateMessage{Type: msgTypeTerminate}); err != nil {
		logging.Warnw("terminate message failed, forcing close", "session_id", s.id, "err", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.termCh:
	case <-s.readDone:
	case <-timer.C:
		logging.Debugw("stop grace elapsed, forcing socket closed", "session_id", s.id)
	case <-ctx.Done():
	}

	s.closeConn()
	<-s.readDone

	now := time.Now()
	s.mu.Lock()
	s.state = StateClosed
	if s.final == nil {
		s.final = s.assembleLocked(now)
	}
	f := s.final
	s.mu.Unlock()
	logging.Infow("transcription session closed",
		"session_id", s.id, "turns", len(f.Turns), "duration", f.Duration.String())
	return f, nil
}

func (s *Session) readLoop() {
	defer close(s.readDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleTransportClose(err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logging.Debugw("undecodable message from transcription service", "session_id", s.id, "err", err)
		return
	}
	switch env.Type {
	case msgTypeBegin:
		var b Begin
		if err := json.Unmarshal(data, &b); err != nil {
			logging.Debugw("bad begin message", "session_id", s.id, "err", err)
			return
		}
		s.mu.Lock()
		s.serviceID = b.ID
		s.expiresAt = time.Unix(int64(b.ExpiresAt), 0)
		s.mu.Unlock()
		s.beginOnce.Do(func() { close(s.beginCh) })
	case msgTypeTurn:
		var t Turn
		if err := json.Unmarshal(data, &t); err != nil {
			logging.Debugw("bad turn message", "session_id", s.id, "err", err)
			return
		}
		s.handleTurn(t)
	case msgTypeTermination:
		var tm Termination
		if err := json.Unmarshal(data, &tm); err != nil {
			logging.Debugw("bad termination message", "session_id", s.id, "err", err)
			return
		}
		s.mu.Lock()
		s.audioSeconds = tm.AudioDurationSeconds
		s.mu.Unlock()
		logging.Infow("transcription service terminated session",
			"session_id", s.id, "audio_seconds", tm.AudioDurationSeconds,
			"session_seconds", tm.SessionDurationSeconds)
		s.termOnce.Do(func() { close(s.termCh) })
	default:
		logging.Debugw("ignoring unknown message type from transcription service",
			"session_id", s.id, "type", env.Type)
	}
}

// handleTurn appends finalized turns to the session's record and relays
// every turn, finalized or not, to the registered handler in arrival order.
func (s *Session) handleTurn(t Turn) {
	s.opts.Mets.TurnReceived()
	now := time.Now()
	s.mu.Lock()
	s.lastActivity = now
	record := s.recordable(t)
	if record {
		s.turns = append(s.turns, TurnRecord{
			Order:      t.TurnOrder,
			Text:       strings.TrimSpace(t.Transcript),
			ReceivedAt: now,
			Formatted:  t.TurnIsFormatted,
			Confidence: t.EndOfTurnConfidence,
			Speaker:    t.SpeakerLabel(),
			Words:      t.Words,
		})
	}
	s.mu.Unlock()
	if record {
		logging.Debugw("turn recorded", "session_id", s.id, "turn_order", t.TurnOrder, "chars", len(t.Transcript))
	}
	if s.opts.OnTurn != nil {
		s.opts.OnTurn(t)
	}
}

// recordable decides whether this revision of a turn belongs in the final
// transcript: the formatted revision when formatting is on, the end-of-turn
// revision otherwise, and never an empty transcript (the service emits
// empty turns as keepalives during silence).
func (s *Session) recordable(t Turn) bool {
	if strings.TrimSpace(t.Transcript) == "" {
		return false
	}
	if s.opts.FormatTurns {
		return t.TurnIsFormatted
	}
	return t.EndOfTurn
}

// handleTransportClose runs when the read loop exits. A failure while
// active skips terminating and goes straight to closed, assembling the
// transcript from whatever arrived; an outage degrades completeness, it
// does not invalidate partial results.
func (s *Session) handleTransportClose(err error) {
	now := time.Now()
	s.mu.Lock()
	prev := s.state
	s.lastReadErr = err
	if prev == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if prev == StateActive {
		s.abnormal = true
		if s.final == nil {
			s.final = s.assembleLocked(now)
		}
	}
	s.mu.Unlock()
	s.closeConn()

	switch prev {
	case StateActive:
		logging.Errorw("transcription transport failed while active, keeping partial transcript",
			"session_id", s.id, "err", err)
	case StateTerminating:
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logging.Debugw("transport closed during termination", "session_id", s.id, "err", err)
		}
	default:
		logging.Warnw("transport closed before session became active", "session_id", s.id, "err", err)
	}
}

// assembleLocked builds the Final Transcript exactly once. Caller holds
// s.mu.
func (s *Session) assembleLocked(endedAt time.Time) *FinalTranscript {
	turns := make([]TurnRecord, len(s.turns))
	copy(turns, s.turns)
	texts := make([]string, 0, len(turns))
	for _, t := range turns {
		texts = append(texts, t.Text)
	}
	return &FinalTranscript{
		SessionID:     s.id,
		ServiceID:     s.serviceID,
		StartedAt:     s.startedAt,
		EndedAt:       endedAt,
		Duration:      endedAt.Sub(s.startedAt),
		Turns:         turns,
		CombinedText:  strings.Join(texts, " "),
		AudioSeconds:  s.audioSeconds,
		AbnormalClose: s.abnormal,
	}
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}
