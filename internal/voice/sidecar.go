package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
)

// Sidecar is the JSON metadata document written next to a recorded WAV so a
// recording on disk stays attributable after the process exits.
type Sidecar struct {
	SessionID     string    `json:"session_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	GuildID       string    `json:"guild_id,omitempty"`
	ChannelID     string    `json:"channel_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	Participants  []string  `json:"participants,omitempty"`
	WavPath       string    `json:"wav_path,omitempty"`
	AudioSeconds  float64   `json:"audio_seconds,omitempty"`
	TotalWords    int       `json:"total_words,omitempty"`
	AvgConfidence float64   `json:"avg_confidence,omitempty"`
	Summary       string    `json:"summary,omitempty"`
}

// SidecarManager writes and updates sidecar documents in a configured
// directory. NewSidecarManager returns nil when the directory is blank and
// every method tolerates a nil receiver, so callers with saving disabled
// need no guards.
type SidecarManager struct {
	Dir string
}

func NewSidecarManager(dir string) *SidecarManager {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &SidecarManager{Dir: dir}
}

// Write stores doc as <Dir>/<base>.json atomically and returns the path.
func (s *SidecarManager) Write(base string, doc Sidecar) (string, error) {
	if s == nil || s.Dir == "" {
		return "", nil
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sidecar: %w", err)
	}
	path := filepath.Join(s.Dir, base+".json")
	if err := saveFileAtomic(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	return path, nil
}

// FindBySession returns the path of the sidecar whose session_id matches, or
// empty string when none does.
func (s *SidecarManager) FindBySession(sessionID string) string {
	if s == nil || s.Dir == "" || sessionID == "" {
		return ""
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("sidecar: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.Dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			logging.Debugw("sidecar: unreadable file while searching", "path", path, "err", err)
			continue
		}
		var sc Sidecar
		if err := json.Unmarshal(b, &sc); err != nil {
			continue
		}
		if sc.SessionID == sessionID {
			return path
		}
	}
	return ""
}

// MergeUpdates reads the sidecar at path, overlays updates key by key, and
// writes it back atomically. Keys not named in updates are kept.
func (s *SidecarManager) MergeUpdates(path string, updates map[string]interface{}) error {
	if s == nil {
		return fmt.Errorf("sidecar manager not configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse sidecar: %w", err)
	}
	for k, v := range updates {
		doc[k] = v
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return saveFileAtomic(path, out, 0o644)
}

// saveFileAtomic writes data to path by way of a tmp file in the same
// directory, fsync, close, then rename into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
