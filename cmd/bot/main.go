package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Vdarak/discord-bot-transcord/internal/config"
	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/mcp"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
	"github.com/Vdarak/discord-bot-transcord/internal/recording"
	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
	"github.com/Vdarak/discord-bot-transcord/internal/voice"
	"github.com/Vdarak/discord-bot-transcord/llm"
	"github.com/bwmarrin/discordgo"
)

const (
	// summarizeTimeout bounds the LLM call after a meeting ends; past it the
	// fallback summary is posted instead.
	summarizeTimeout = 60 * time.Second
	// stopTimeout bounds the shutdown-path session stop.
	stopTimeout = 30 * time.Second
	// cleanerInterval is how often the retention cleaner sweeps the
	// recordings directory.
	cleanerInterval = 10 * time.Minute
)

// controller adapts the orchestrator to the MCP tool surface. Start seeds
// the participant list from whoever is in the voice channel right now; Stop
// runs the same concluding tail as shutdown so both paths post the meeting.
type controller struct {
	orch      *recording.Orchestrator
	capture   *voice.Capture
	dg        *discordgo.Session
	guildID   string
	channelID string
	conclude  func(res *recording.Result, noSpeech bool)
}

func (c *controller) StartRecording(ctx context.Context) (*recording.Status, error) {
	participants := c.capture.SeedVoiceChannelMembers(c.dg, c.guildID, c.channelID)
	return c.orch.Begin(ctx, recording.StartRequest{
		GuildID:      c.guildID,
		ChannelID:    c.channelID,
		Participants: participants,
	})
}

func (c *controller) StopRecording(ctx context.Context, sessionID string) (*recording.Result, error) {
	res, err := c.orch.End(ctx, sessionID)
	if err != nil && !errors.Is(err, recording.ErrNoSpeech) {
		return nil, err
	}
	c.conclude(res, errors.Is(err, recording.ErrNoSpeech))
	return res, err
}

func (c *controller) RecordingStatus() *recording.Status { return c.orch.Status() }

func (c *controller) Transcript(sessionID string) ([]transcribe.TurnRecord, error) {
	return c.orch.Transcript(sessionID)
}

// concludeMeeting summarizes the finished meeting and posts everything to
// the text channel. Summarization failures degrade to the fallback summary;
// they never withhold the transcript.
func concludeMeeting(present *presenter, summarizer *llm.Summarizer, sidecars *voice.SidecarManager, res *recording.Result, noSpeech bool) {
	if res == nil {
		return
	}
	summary := ""
	if !noSpeech {
		m := meetingFromResult(res)
		ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
		s, err := summarizer.Summarize(ctx, m)
		cancel()
		if err != nil {
			logging.Warnw("summarization failed, posting fallback", "err", err)
			s = llm.FallbackSummary(m)
		}
		summary = s
	}
	if sidecars != nil && summary != "" && res.SidecarPath != "" {
		if err := sidecars.MergeUpdates(res.SidecarPath, map[string]interface{}{"summary": summary}); err != nil {
			logging.Warnw("sidecar summary merge failed", "path", res.SidecarPath, "err", err)
		}
	}
	present.deliver(res, summary, noSpeech)
}

func meetingFromResult(res *recording.Result) llm.Meeting {
	names := make([]string, 0, len(res.Participants))
	for _, p := range res.Participants {
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		names = append(names, name)
	}
	m := llm.Meeting{
		Participants: names,
		Duration:     res.Stats.Duration,
		TotalWords:   res.Stats.TotalWords,
	}
	if res.Transcript != nil {
		m.Transcript = res.Transcript.CombinedText
	}
	return m
}

func main() {
	sugar := logging.Init()
	if sugar == nil {
		// fallback to a basic zap logger if initialization failed
		l, _ := zap.NewProduction()
		defer l.Sync()
		sugar = l.Sugar()
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		sugar.Fatalf("configuration invalid: %v", err)
	}
	sugar.Infow("configuration loaded", cfg.Summary()...)

	mets := metrics.New()

	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		sugar.Fatalf("discordgo.New: %v", err)
	}

	// Guilds + GuildVoiceStates are enough to track who is in the captured
	// channel. Anything privileged is the operator's explicit choice.
	defaultIntents := discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if dg.Identify.Intents == 0 {
		dg.Identify = discordgo.Identify{Intents: defaultIntents}
	}
	privileged := discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences
	if dg.Identify.Intents&privileged != 0 {
		sugar.Warnw("bot is requesting privileged gateway intents; ensure these are enabled in the Discord Developer Portal", "intents", dg.Identify.Intents)
	}
	sugar.Infow("using gateway intents", "intents", dg.Identify.Intents)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	resolver := voice.NewDiscordResolver(dg)
	capture := voice.NewCapture(resolver,
		voice.NewReframerFactory(cfg.Transcribe.SampleRate, cfg.Transcribe.ChunkMs, mets),
		mets, cfg.WarmupTimeout)

	post := func(channelID, content string) error {
		_, err := dg.ChannelMessageSend(channelID, content)
		return err
	}
	relay := newTurnRelay(post, cfg.Discord.TextChannelID, capture, mets,
		cfg.Transcribe.FormatTurns, cfg.Discord.LiveTurnRelay)
	wg.Add(1)
	relay.start(rootCtx, &wg)

	saveDir := ""
	if cfg.Save.Enabled {
		saveDir = cfg.Save.Dir
	}
	sidecars := voice.NewSidecarManager(saveDir)
	registry := recording.NewRegistry(recording.Options{
		Source: capture,
		Open: func(ctx context.Context, sessionID string) (recording.TranscriptSession, error) {
			ts, err := transcribe.Open(ctx, sessionID, transcribe.Options{
				URL:         cfg.Transcribe.URL,
				APIKey:      cfg.Transcribe.APIKey,
				SampleRate:  cfg.Transcribe.SampleRate,
				FormatTurns: cfg.Transcribe.FormatTurns,
				OpenTimeout: cfg.Transcribe.OpenTimeout,
				StopGrace:   cfg.Transcribe.StopGrace,
				OnTurn:      relay.observe,
				Mets:        mets,
			})
			if err != nil {
				return nil, err
			}
			return ts, nil
		},
		SampleRate:   cfg.Transcribe.SampleRate,
		VADThreshold: cfg.VAD.RMSThreshold,
		VADIdle:      cfg.VAD.IdleTimeout,
		SaveDir:      saveDir,
		Sidecar:      sidecars,
		Mets:         mets,
	})
	orch := recording.NewOrchestrator(registry)

	present := newPresenter(post, cfg.Discord.TextChannelID)
	summarizer := llm.NewSummarizer(llm.NewClientFromEnv())
	conclude := func(res *recording.Result, noSpeech bool) {
		concludeMeeting(present, summarizer, sidecars, res, noSpeech)
	}

	// Voice-state updates keep both the SSRC map and the live session's
	// participant table current as users join and leave the channel.
	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		capture.HandleVoiceState(s, vs)
		st := orch.Status()
		if st == nil || !st.Active {
			return
		}
		if s.State != nil && s.State.User != nil && vs.UserID == s.State.User.ID {
			return
		}
		if vs.ChannelID == st.ChannelID {
			if err := orch.AddParticipant(st.SessionID, vs.UserID); err != nil {
				logging.Debugw("add participant skipped", "user_id", vs.UserID, "err", err)
			}
			return
		}
		if err := orch.RemoveParticipant(st.SessionID, vs.UserID); err != nil {
			logging.Debugw("remove participant skipped", "user_id", vs.UserID, "err", err)
		}
	})

	sugar.Infow("opening discord session")
	if err := dg.Open(); err != nil {
		sugar.Fatalf("discord session open failed: %v", err)
	}
	sugar.Infow("discord session opened")

	sugar.Infow("joining voice channel", "guild", cfg.Discord.GuildID, "channel", cfg.Discord.VoiceChannelID)
	vc, err := dg.ChannelVoiceJoin(cfg.Discord.GuildID, cfg.Discord.VoiceChannelID, false, false)
	if err != nil {
		_ = dg.Close()
		sugar.Fatalf("voice join failed: %v", err)
	}
	// Speaking updates arrive on the voice websocket, so the SSRC mapping
	// handler is registered on the VoiceConnection, not the session.
	vc.AddHandler(func(v *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		capture.HandleSpeakingUpdate(dg, su)
	})
	sugar.Infow("voice joined", "guild", cfg.Discord.GuildID, "channel", cfg.Discord.VoiceChannelID)

	// Pump inbound voice packets into the capture queue. discordgo does not
	// close OpusRecv on disconnect, so the loop watches the root context.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-rootCtx.Done():
				logging.Infow("voice packet pump stopped")
				return
			case pkt, ok := <-vc.OpusRecv:
				if !ok {
					logging.Infow("voice packet stream ended")
					return
				}
				if pkt == nil {
					continue
				}
				capture.ProcessPacket(pkt.SSRC, pkt.Opus)
			}
		}
	}()

	ctrl := &controller{
		orch:      orch,
		capture:   capture,
		dg:        dg,
		guildID:   cfg.Discord.GuildID,
		channelID: cfg.Discord.VoiceChannelID,
		conclude:  conclude,
	}

	if cfg.MCPListenAddr != "" {
		srv := mcp.NewServer(ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(rootCtx, cfg.MCPListenAddr); err != nil {
				logging.Errorw("control listener exited", "addr", cfg.MCPListenAddr, "err", err)
			}
		}()
	}

	if cfg.Save.Enabled {
		wg.Add(1)
		voice.StartRecordingCleaner(rootCtx, &wg, cfg.Save.Dir, cfg.Save.Retention, cleanerInterval, cfg.Save.MaxFiles)
	}

	// The meeting starts recording as soon as the channel is joined. A
	// failed start is still a definite outcome the text channel hears
	// about; with the control listener up an operator can retry later.
	startCtx, startCancel := context.WithTimeout(rootCtx, cfg.Transcribe.OpenTimeout+5*time.Second)
	status, startErr := ctrl.StartRecording(startCtx)
	startCancel()
	if startErr != nil {
		sugar.Errorw("recording failed to start", "err", startErr)
		if cfg.Discord.TextChannelID != "" {
			_ = post(cfg.Discord.TextChannelID, "Recording failed to start: "+startErr.Error())
		}
	} else {
		sugar.Infow("recording started",
			"session_id", status.SessionID, "participants", status.ParticipantCount)
	}

	if startErr != nil && cfg.MCPListenAddr == "" {
		sugar.Errorw("no control listener configured to retry the recording, shutting down")
	} else {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		sugar.Infow("shutdown signal received, closing resources")
	}

	// End any in-flight session first so the transcript and summary still
	// get posted on the way out.
	if st := orch.Status(); st != nil && st.Active {
		endCtx, endCancel := context.WithTimeout(context.Background(), stopTimeout)
		res, err := orch.End(endCtx, st.SessionID)
		endCancel()
		switch {
		case err == nil:
			conclude(res, false)
		case errors.Is(err, recording.ErrNoSpeech):
			conclude(res, true)
		default:
			sugar.Warnf("recording stop failed: %v", err)
		}
	}

	cancel()
	if err := capture.Close(); err != nil {
		sugar.Warnf("capture close error: %v", err)
	}
	if err := vc.Disconnect(); err != nil {
		sugar.Warnf("voice disconnect error: %v", err)
	}
	if err := dg.Close(); err != nil {
		sugar.Warnf("discord session close error: %v", err)
	}
	wg.Wait()
	_ = logging.Sync()
	sugar.Info("shutdown complete")
}
