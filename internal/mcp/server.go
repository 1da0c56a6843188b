package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/recording"
	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
)

const serverVersion = "1.0.0"

// Controller is the recording surface the tools operate on. The bot wires
// its orchestrator in behind an adapter that knows the bound voice channel.
type Controller interface {
	StartRecording(ctx context.Context) (*recording.Status, error)
	StopRecording(ctx context.Context, sessionID string) (*recording.Result, error)
	RecordingStatus() *recording.Status
	Transcript(sessionID string) ([]transcribe.TurnRecord, error)
}

// Server exposes recording control tools over MCP, bridged across
// WebSocket connections, and hosts the prometheus scrape endpoint on the
// same listener.
type Server struct {
	ctrl     Controller
	mcp      *sdk.Server
	upgrader websocket.Upgrader
}

func NewServer(ctrl Controller) *Server {
	s := &Server{ctrl: ctrl}
	srv := sdk.NewServer(&sdk.Implementation{Name: "discord-bot-transcord", Version: serverVersion}, nil)
	sdk.AddTool(srv, &sdk.Tool{
		Name:        "recording_status",
		Description: "Report the in-flight recording session, if any",
	}, s.handleStatus)
	sdk.AddTool(srv, &sdk.Tool{
		Name:        "start_recording",
		Description: "Start recording the bot's voice channel",
	}, s.handleStart)
	sdk.AddTool(srv, &sdk.Tool{
		Name:        "stop_recording",
		Description: "Stop the recording and return the meeting result",
	}, s.handleStop)
	sdk.AddTool(srv, &sdk.Tool{
		Name:        "get_transcript",
		Description: "Fetch the turns recorded so far by the in-flight session",
	}, s.handleTranscript)
	s.mcp = srv
	return s
}

type emptyArgs struct{}

type sessionArgs struct {
	SessionID string `json:"session_id,omitempty"`
}

// stopPayload is the tool-facing reduction of a finished meeting.
type stopPayload struct {
	SessionID         string  `json:"session_id"`
	Text              string  `json:"text"`
	TotalWords        int     `json:"total_words"`
	ParticipantCount  int     `json:"participant_count"`
	AverageConfidence float64 `json:"avg_confidence"`
	DurationSeconds   float64 `json:"duration_seconds"`
	WavPath           string  `json:"wav_path,omitempty"`
	NoSpeech          bool    `json:"no_speech,omitempty"`
	AbnormalClose     bool    `json:"abnormal_close,omitempty"`
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func jsonResult(v interface{}) (*sdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode tool result: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, any, error) {
	st := s.ctrl.RecordingStatus()
	if st == nil {
		return textResult("no active recording"), nil, nil
	}
	return jsonResult(st)
}

func (s *Server) handleStart(ctx context.Context, req *sdk.CallToolRequest, _ emptyArgs) (*sdk.CallToolResult, any, error) {
	st, err := s.ctrl.StartRecording(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("start recording: %w", err)
	}
	logging.Infow("recording started via mcp", "session_id", st.SessionID)
	return jsonResult(st)
}

func (s *Server) handleStop(ctx context.Context, req *sdk.CallToolRequest, args sessionArgs) (*sdk.CallToolResult, any, error) {
	res, err := s.ctrl.StopRecording(ctx, args.SessionID)
	if err != nil && !errors.Is(err, recording.ErrNoSpeech) {
		return nil, nil, fmt.Errorf("stop recording: %w", err)
	}
	if res == nil {
		return nil, nil, fmt.Errorf("stop recording: %w", err)
	}
	payload := stopPayload{
		TotalWords:        res.Stats.TotalWords,
		ParticipantCount:  res.Stats.ParticipantCount,
		AverageConfidence: res.Stats.AverageConfidence,
		DurationSeconds:   res.Stats.Duration.Seconds(),
		WavPath:           res.WavPath,
		NoSpeech:          errors.Is(err, recording.ErrNoSpeech),
	}
	if res.Transcript != nil {
		payload.SessionID = res.Transcript.SessionID
		payload.Text = res.Transcript.CombinedText
		payload.AbnormalClose = res.Transcript.AbnormalClose
	}
	logging.Infow("recording stopped via mcp",
		"session_id", payload.SessionID, "no_speech", payload.NoSpeech)
	return jsonResult(payload)
}

func (s *Server) handleTranscript(ctx context.Context, req *sdk.CallToolRequest, args sessionArgs) (*sdk.CallToolResult, any, error) {
	turns, err := s.ctrl.Transcript(args.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get transcript: %w", err)
	}
	if len(turns) == 0 {
		return textResult("no turns recorded yet"), nil, nil
	}
	return jsonResult(turns)
}

// handleWS upgrades one operator connection and binds it to the MCP server.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	go func() {
		sess, err := s.mcp.Connect(context.Background(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Errorw("mcp connect failed", "err", err)
			_ = conn.Close()
			return
		}
		logging.Debugw("mcp session started", "remote", r.RemoteAddr)
		if err := sess.Wait(); err != nil {
			logging.Debugw("mcp session ended", "err", err)
			return
		}
		logging.Debugw("mcp session ended")
	}()
}

// Handler returns the listener mux: the MCP WebSocket endpoint plus the
// prometheus scrape surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve blocks on addr until ctx is cancelled, then shuts the listener
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Infow("mcp listener started", "addr", addr)
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
