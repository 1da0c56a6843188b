//go:build !opus
// +build !opus

package voice

import (
	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
)

// This file provides a no-op Reframer for builds that do not link libopus.
// The real implementation is in reframer.go, built with the `opus` tag.

type Reframer struct {
	userID string
}

func NewReframer(userID string, sampleRate, chunkMs int, mets *metrics.Metrics, emit func(frame []byte)) (*Reframer, error) {
	return &Reframer{userID: userID}, nil
}

func (r *Reframer) Push(packet []byte) {}

func (r *Reframer) Flush() {}

func NewReframerFactory(sampleRate, chunkMs int, mets *metrics.Metrics) StreamFactory {
	logging.Warnw("opus decoding not compiled in, audio frames will not be produced")
	return func(userID string, emit func(frame []byte)) (FrameStream, error) {
		return NewReframer(userID, sampleRate, chunkMs, mets, emit)
	}
}
