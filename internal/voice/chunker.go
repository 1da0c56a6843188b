package voice

import (
	"bytes"
	"encoding/binary"
)

// frameChunker accumulates decoded mono PCM samples and emits fixed-duration
// frames. The contract is explicit: push returns every full frame that became
// available, and flush drains whatever partial remainder is left when a
// stream ends, so the final samples of a participant are never lost.
type frameChunker struct {
	frameSamples int // samples per emitted frame
	buf          []int16
}

func newFrameChunker(sampleRate, chunkMs int) *frameChunker {
	n := sampleRate * chunkMs / 1000
	if n < 1 {
		n = 1
	}
	return &frameChunker{
		frameSamples: n,
		buf:          make([]int16, 0, n*2),
	}
}

// push appends samples and returns zero or more complete frames encoded as
// little-endian 16-bit PCM bytes.
func (c *frameChunker) push(samples []int16) [][]byte {
	c.buf = append(c.buf, samples...)
	var frames [][]byte
	for len(c.buf) >= c.frameSamples {
		frames = append(frames, encodePCM16LE(c.buf[:c.frameSamples]))
		c.buf = c.buf[c.frameSamples:]
	}
	return frames
}

// flush returns the buffered remainder as a short final frame, or nil when
// nothing is buffered.
func (c *frameChunker) flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	out := encodePCM16LE(c.buf)
	c.buf = c.buf[:0]
	return out
}

// buffered reports the number of samples currently held.
func (c *frameChunker) buffered() int { return len(c.buf) }

func encodePCM16LE(samples []int16) []byte {
	out := &bytes.Buffer{}
	out.Grow(len(samples) * 2)
	for _, s := range samples {
		binary.Write(out, binary.LittleEndian, s)
	}
	return out.Bytes()
}
