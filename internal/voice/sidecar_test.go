package voice

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

// TestSidecarWriteAndFind verifies the round trip from Write to
// FindBySession.
func TestSidecarWriteAndFind(t *testing.T) {
	dir := t.TempDir()
	sm := NewSidecarManager(dir)
	if sm == nil {
		t.Fatalf("manager should be configured for non-empty dir")
	}

	doc := Sidecar{
		SessionID:    "sess-1",
		GuildID:      "g1",
		StartedAt:    time.Now().UTC(),
		Participants: []string{"u1", "u2"},
	}
	path, err := sm.Write("meeting-1", doc)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := sm.FindBySession("sess-1"); got != path {
		t.Fatalf("FindBySession: want=%s got=%s", path, got)
	}
	if got := sm.FindBySession("sess-nope"); got != "" {
		t.Fatalf("FindBySession for unknown id: want empty got=%s", got)
	}
}

// TestSidecarMergeUpdates verifies updates overlay existing keys and leave
// the rest intact.
func TestSidecarMergeUpdates(t *testing.T) {
	dir := t.TempDir()
	sm := NewSidecarManager(dir)

	path, err := sm.Write("meeting-2", Sidecar{SessionID: "sess-2", GuildID: "g9", StartedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sm.MergeUpdates(path, map[string]interface{}{
		"total_words": 42,
		"wav_path":    "/tmp/meeting-2.wav",
	}); err != nil {
		t.Fatalf("MergeUpdates: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("parse sidecar: %v", err)
	}
	if got["session_id"] != "sess-2" || got["guild_id"] != "g9" {
		t.Fatalf("existing keys lost: %v", got)
	}
	if got["total_words"].(float64) != 42 || got["wav_path"] != "/tmp/meeting-2.wav" {
		t.Fatalf("updates not applied: %v", got)
	}
}

// TestSidecarNilManager verifies the nil manager no-ops on writes and errors
// on merges.
func TestSidecarNilManager(t *testing.T) {
	sm := NewSidecarManager("   ")
	if sm != nil {
		t.Fatalf("blank dir should yield nil manager")
	}
	if path, err := sm.Write("x", Sidecar{}); err != nil || path != "" {
		t.Fatalf("nil Write: path=%q err=%v", path, err)
	}
	if got := sm.FindBySession("s"); got != "" {
		t.Fatalf("nil FindBySession: want empty got=%s", got)
	}
	if err := sm.MergeUpdates("p", nil); err == nil {
		t.Fatalf("nil MergeUpdates should error")
	}
}
