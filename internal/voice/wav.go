package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
)

// wavHeaderLen is the size of the canonical RIFF/fmt/data header this
// package writes; a finished file is exactly this many bytes plus the PCM
// payload.
const wavHeaderLen = 44

// wavHeader builds the 44-byte RIFF header for a PCM payload of dataLen
// bytes.
func wavHeader(dataLen uint32, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	return buf.Bytes()
}

// buildWAV wraps a PCM payload in a RIFF header.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	out := wavHeader(uint32(len(pcm)), sampleRate, channels, bitsPerSample)
	return append(out, pcm...)
}

// Recorder spools mono 16-bit PCM for one recording session and finalizes it
// into a WAV file. Append is best-effort: a spool write failure abandons the
// audio artifact but never the session. A nil *Recorder is a valid no-op, so
// callers with saving disabled need no guards.
type Recorder struct {
	mu         sync.Mutex
	f          *os.File
	spoolPath  string
	finalPath  string
	sampleRate int
	written    int64
	failed     bool
	done       bool
}

// NewRecorder creates the save directory if needed and opens a PCM spool
// file next to the eventual <base>.wav.
func NewRecorder(dir, base string, sampleRate int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create save dir: %w", err)
	}
	spool := filepath.Join(dir, base+".pcm")
	f, err := os.Create(spool)
	if err != nil {
		return nil, fmt.Errorf("create pcm spool: %w", err)
	}
	return &Recorder{
		f:          f,
		spoolPath:  spool,
		finalPath:  filepath.Join(dir, base+".wav"),
		sampleRate: sampleRate,
	}, nil
}

// Append writes one PCM frame to the spool.
func (r *Recorder) Append(frame []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || r.done || len(frame) == 0 {
		return
	}
	n, err := r.f.Write(frame)
	if err != nil {
		r.failed = true
		logging.Errorw("pcm spool write failed, abandoning audio artifact", "path", r.spoolPath, "err", err)
		return
	}
	r.written += int64(n)
}

// BytesWritten reports how many PCM bytes have been spooled so far.
func (r *Recorder) BytesWritten() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Finalize turns the spool into a finished WAV file and returns its path.
// The result is exactly the PCM payload plus the 44-byte header; the spool
// is removed. Finalize may be called once.
func (r *Recorder) Finalize() (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return "", fmt.Errorf("recorder already finalized")
	}
	r.done = true
	if err := r.f.Close(); err != nil && !r.failed {
		r.failed = true
		logging.Errorw("pcm spool close failed", "path", r.spoolPath, "err", err)
	}
	if r.failed {
		os.Remove(r.spoolPath)
		return "", fmt.Errorf("pcm spool failed, no wav produced")
	}

	spool, err := os.Open(r.spoolPath)
	if err != nil {
		return "", fmt.Errorf("reopen pcm spool: %w", err)
	}
	defer spool.Close()

	tmp := r.finalPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}
	if _, err := out.Write(wavHeader(uint32(r.written), r.sampleRate, 1, 16)); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write wav header: %w", err)
	}
	if _, err := io.Copy(out, spool); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copy pcm payload: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync wav: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close wav: %w", err)
	}
	if err := os.Rename(tmp, r.finalPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename wav into place: %w", err)
	}
	os.Remove(r.spoolPath)
	logging.Infow("wav finalized", "path", r.finalPath, "pcm_bytes", r.written)
	return r.finalPath, nil
}
