package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default wire parameters for the streaming transcription service. The chunk
// window bounds are imposed by the service; values outside them are clamped,
// not rejected.
const (
	DefaultTranscribeURL = "wss://streaming.assemblyai.com/v3/ws"
	DefaultSampleRate    = 48000
	DefaultChunkMs       = 200
	MinChunkMs           = 50
	MaxChunkMs           = 1000
)

// Discord holds the chat-platform connection settings.
type Discord struct {
	Token          string
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	LiveTurnRelay  bool
}

// Transcribe holds the streaming transcription session settings.
type Transcribe struct {
	APIKey      string
	URL         string
	SampleRate  int
	ChunkMs     int
	FormatTurns bool
	OpenTimeout time.Duration
	StopGrace   time.Duration
}

// VAD holds the voice-activity estimator settings.
type VAD struct {
	RMSThreshold float64
	IdleTimeout  time.Duration
}

// Save holds the optional disk-recording settings.
type Save struct {
	Enabled   bool
	Dir       string
	Retention time.Duration
	MaxFiles  int
}

// Config is the process configuration, read once from the environment in
// main and passed down as typed sub-configs. Packages never read env vars
// mid-flight.
type Config struct {
	Discord       Discord
	Transcribe    Transcribe
	VAD           VAD
	Save          Save
	WarmupTimeout time.Duration
	MCPListenAddr string
}

// FromEnv reads every knob with its default. It does not validate; call
// Validate before using the result. The chunk window is clamped here so the
// rest of the process only ever sees an in-range value.
func FromEnv() *Config {
	c := &Config{
		Discord: Discord{
			Token:          envStr("DISCORD_BOT_TOKEN", ""),
			GuildID:        envStr("GUILD_ID", ""),
			VoiceChannelID: envStr("VOICE_CHANNEL_ID", ""),
			TextChannelID:  envStr("TEXT_CHANNEL_ID", ""),
			LiveTurnRelay:  envBool("LIVE_TURN_RELAY", false),
		},
		Transcribe: Transcribe{
			APIKey:      envStr("ASSEMBLYAI_API_KEY", ""),
			URL:         envStr("TRANSCRIBE_WS_URL", DefaultTranscribeURL),
			SampleRate:  envInt("STREAM_SAMPLE_RATE", DefaultSampleRate),
			ChunkMs:     envInt("STREAM_CHUNK_MS", DefaultChunkMs),
			FormatTurns: envBool("STREAM_FORMAT_TURNS", true),
			OpenTimeout: envMs("SESSION_OPEN_TIMEOUT_MS", 10000),
			StopGrace:   envMs("SESSION_STOP_GRACE_MS", 1000),
		},
		VAD: VAD{
			RMSThreshold: envFloat("VAD_RMS_THRESHOLD", 0.02),
			IdleTimeout:  envMs("VAD_IDLE_TIMEOUT_MS", 5000),
		},
		Save: Save{
			Enabled:   envBool("SAVE_AUDIO_ENABLED", false),
			Dir:       envStr("SAVE_AUDIO_DIR", ""),
			Retention: time.Duration(envInt("SAVE_AUDIO_RETENTION_MIN", 1440)) * time.Minute,
			MaxFiles:  envInt("SAVE_AUDIO_MAX_FILES", 0),
		},
		WarmupTimeout: envMs("FRAME_WARMUP_TIMEOUT_MS", 10000),
		MCPListenAddr: envStr("MCP_LISTEN_ADDR", ""),
	}
	c.Transcribe.ChunkMs = ClampChunkMs(c.Transcribe.ChunkMs)
	return c
}

// Validate enforces the fatal-at-startup rules: a session must never be
// attempted with missing credentials or a nonsense sample rate.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN required")
	}
	if c.Discord.GuildID == "" || c.Discord.VoiceChannelID == "" {
		return fmt.Errorf("GUILD_ID and VOICE_CHANNEL_ID required")
	}
	if c.Transcribe.APIKey == "" {
		return fmt.Errorf("ASSEMBLYAI_API_KEY required")
	}
	if c.Transcribe.SampleRate <= 0 {
		return fmt.Errorf("STREAM_SAMPLE_RATE must be positive, got %d", c.Transcribe.SampleRate)
	}
	if c.Transcribe.OpenTimeout <= 0 {
		return fmt.Errorf("SESSION_OPEN_TIMEOUT_MS must be positive")
	}
	if c.Save.Enabled && c.Save.Dir == "" {
		return fmt.Errorf("SAVE_AUDIO_DIR required when SAVE_AUDIO_ENABLED=true")
	}
	return nil
}

// ClampChunkMs forces ms into the allowed chunk window.
func ClampChunkMs(ms int) int {
	if ms < MinChunkMs {
		return MinChunkMs
	}
	if ms > MaxChunkMs {
		return MaxChunkMs
	}
	return ms
}

// Summary returns key/value pairs safe to log at startup. Secrets are
// reported only by presence.
func (c *Config) Summary() []interface{} {
	return []interface{}{
		"guild_id", c.Discord.GuildID,
		"voice_channel_id", c.Discord.VoiceChannelID,
		"text_channel_id", c.Discord.TextChannelID,
		"live_turn_relay", c.Discord.LiveTurnRelay,
		"transcribe_url", c.Transcribe.URL,
		"transcribe_key_set", c.Transcribe.APIKey != "",
		"sample_rate", c.Transcribe.SampleRate,
		"chunk_ms", c.Transcribe.ChunkMs,
		"format_turns", c.Transcribe.FormatTurns,
		"open_timeout", c.Transcribe.OpenTimeout.String(),
		"stop_grace", c.Transcribe.StopGrace.String(),
		"vad_rms_threshold", c.VAD.RMSThreshold,
		"vad_idle_timeout", c.VAD.IdleTimeout.String(),
		"save_audio", c.Save.Enabled,
		"save_audio_dir", c.Save.Dir,
		"mcp_listen_addr", c.MCPListenAddr,
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}
