//go:build opus
// +build opus

package voice

import (
	"fmt"

	"github.com/hraban/opus"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
)

// Reframer turns one participant's Opus packet stream into fixed-duration
// mono PCM frames and hands them to an emit callback. One Reframer per
// participant; a decode error abandons that participant's stream without
// touching anyone else's.
type Reframer struct {
	userID string
	dec    *opus.Decoder
	chunk  *frameChunker
	emit   func(frame []byte)
	mets   *metrics.Metrics
	pcmBuf []int16
	failed bool
}

// NewReframer builds a Reframer decoding at the given sample rate and
// emitting frames of chunkMs duration.
func NewReframer(userID string, sampleRate, chunkMs int, mets *metrics.Metrics, emit func(frame []byte)) (*Reframer, error) {
	dec, err := opus.NewDecoder(sampleRate, 2)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &Reframer{
		userID: userID,
		dec:    dec,
		chunk:  newFrameChunker(sampleRate, chunkMs),
		emit:   emit,
		mets:   mets,
		// one 20ms packet of interleaved stereo
		pcmBuf: make([]int16, sampleRate/50*2),
	}, nil
}

// Push decodes one Opus packet and forwards any completed PCM frames in
// arrival order.
func (r *Reframer) Push(packet []byte) {
	if r.failed {
		return
	}
	n, err := r.dec.Decode(packet, r.pcmBuf)
	if err != nil {
		r.failed = true
		r.mets.DecodeError()
		logging.Errorw("opus decode error, abandoning participant stream",
			"user_id", r.userID, "err", err)
		return
	}
	// Decoded audio is interleaved stereo; keep the left channel only.
	mono := make([]int16, n)
	for i := 0; i < n; i++ {
		mono[i] = r.pcmBuf[i*2]
	}
	for _, frame := range r.chunk.push(mono) {
		r.emit(frame)
	}
}

// Flush emits whatever partial frame is buffered when the stream ends.
func (r *Reframer) Flush() {
	if r.failed {
		return
	}
	if frame := r.chunk.flush(); frame != nil {
		r.emit(frame)
	}
}

// NewReframerFactory returns a StreamFactory that builds one Reframer per
// subscribed participant, each wired to that participant's emit callback.
func NewReframerFactory(sampleRate, chunkMs int, mets *metrics.Metrics) StreamFactory {
	return func(userID string, emit func(frame []byte)) (FrameStream, error) {
		return NewReframer(userID, sampleRate, chunkMs, mets, emit)
	}
}
