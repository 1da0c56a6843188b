package voice

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
)

// StartRecordingCleaner starts a background goroutine that periodically
// scans dir for recording artifacts (<base>.wav plus <base>.json sidecar),
// removing pairs older than retention and enforcing maxFiles by dropping the
// oldest first. Stray .pcm spools older than retention, left by a crashed
// run, are removed too. Caller must call wg.Add(1) before calling; the
// goroutine calls wg.Done() on exit.
func StartRecordingCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxFiles int) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanRecordingDir(dir, retention, maxFiles)
			}
		}
	}()
}

type recordingPair struct {
	base string
	mod  time.Time
}

func cleanRecordingDir(dir string, retention time.Duration, maxFiles int) {
	files, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("cleaner: read dir failed", "dir", dir, "err", err)
		return
	}
	cutoff := time.Now().Add(-retention)
	var pairs []recordingPair
	for _, fi := range files {
		name := fi.Name()
		switch {
		case strings.HasSuffix(name, ".wav"):
			st, err := os.Stat(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			pairs = append(pairs, recordingPair{base: strings.TrimSuffix(name, ".wav"), mod: st.ModTime()})
		case strings.HasSuffix(name, ".pcm"):
			// spool left behind by a crashed run
			path := filepath.Join(dir, name)
			if st, err := os.Stat(path); err == nil && st.ModTime().Before(cutoff) {
				os.Remove(path)
				logging.Infow("cleaner: removed stale pcm spool", "path", path)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	for _, p := range pairs {
		if p.mod.Before(cutoff) {
			removeRecordingPair(dir, p.base)
			removed++
		}
	}
	if maxFiles > 0 {
		left := len(pairs) - removed
		if left > maxFiles {
			toRemove := left - maxFiles
			for _, p := range pairs[removed:] {
				if toRemove <= 0 {
					break
				}
				removeRecordingPair(dir, p.base)
				toRemove--
				removed++
			}
		}
	}
	if removed > 0 {
		logging.Infow("cleaner: removed recordings", "dir", dir, "count", removed)
	}
}

func removeRecordingPair(dir, base string) {
	os.Remove(filepath.Join(dir, base+".wav"))
	os.Remove(filepath.Join(dir, base+".json"))
}
