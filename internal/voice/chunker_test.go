package voice

import (
	"encoding/binary"
	"testing"
)

// TestChunkerEmitsAtTarget verifies a frame is emitted once a full target
// duration of samples has accumulated, and not before.
func TestChunkerEmitsAtTarget(t *testing.T) {
	// 48kHz, 200ms target -> 9600 samples per frame
	c := newFrameChunker(48000, 200)

	frames := c.push(make([]int16, 9599))
	if len(frames) != 0 {
		t.Fatalf("expected no frame before target, got %d", len(frames))
	}
	frames = c.push(make([]int16, 1))
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame at target, got %d", len(frames))
	}
	if got, want := len(frames[0]), 9600*2; got != want {
		t.Fatalf("frame size mismatch: want=%d got=%d", want, got)
	}
	if c.buffered() != 0 {
		t.Fatalf("expected empty buffer after emit, got %d samples", c.buffered())
	}
}

// TestChunkerMultipleFramesPerPush verifies a large push yields every full
// frame it contains in order.
func TestChunkerMultipleFramesPerPush(t *testing.T) {
	c := newFrameChunker(48000, 200)
	frames := c.push(make([]int16, 9600*2+100))
	if len(frames) != 2 {
		t.Fatalf("expected two frames, got %d", len(frames))
	}
	if c.buffered() != 100 {
		t.Fatalf("expected 100 buffered samples, got %d", c.buffered())
	}
}

// TestChunkerFlushRemainder verifies flush drains a short final frame so the
// stream tail is not lost.
func TestChunkerFlushRemainder(t *testing.T) {
	c := newFrameChunker(48000, 200)
	c.push(make([]int16, 100))
	out := c.flush()
	if len(out) != 200 {
		t.Fatalf("remainder size mismatch: want=200 got=%d", len(out))
	}
	if c.flush() != nil {
		t.Fatalf("second flush should return nil")
	}
}

// TestChunkerEncodesLittleEndian verifies sample bytes come out as
// little-endian PCM16 in sample order.
func TestChunkerEncodesLittleEndian(t *testing.T) {
	c := newFrameChunker(1000, 2) // 2 samples per frame
	frames := c.push([]int16{0x0102, -2})
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	b := frames[0]
	if got := int16(binary.LittleEndian.Uint16(b[0:])); got != 0x0102 {
		t.Errorf("sample 0 mismatch: got %#x", got)
	}
	if got := int16(binary.LittleEndian.Uint16(b[2:])); got != -2 {
		t.Errorf("sample 1 mismatch: got %d", got)
	}
}

// TestChunkerNoSampleLoss verifies every pushed sample comes out exactly
// once across emitted frames and the final flush.
func TestChunkerNoSampleLoss(t *testing.T) {
	c := newFrameChunker(16000, 50) // 800 samples per frame
	total := 0
	for i := 0; i < 7; i++ {
		for _, f := range c.push(make([]int16, 333)) {
			total += len(f) / 2
		}
	}
	if tail := c.flush(); tail != nil {
		total += len(tail) / 2
	}
	if want := 7 * 333; total != want {
		t.Fatalf("sample count mismatch: want=%d got=%d", want, total)
	}
}
