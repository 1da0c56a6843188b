package voice

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
)

// Estimator tracks per-participant voice activity from the RMS level of PCM
// frames. It is telemetry only: audio is forwarded whether or not anyone is
// judged to be speaking, so a mis-tuned threshold can never lose speech.
type Estimator struct {
	mu        sync.Mutex
	threshold float64
	idle      time.Duration
	states    map[string]*speakerState
}

type speakerState struct {
	speaking  bool
	lastAbove time.Time
}

// NewEstimator builds an Estimator. threshold is the normalized RMS level
// treated as speech; idle is how long a speaker may stay below it before
// being marked silent.
func NewEstimator(threshold float64, idle time.Duration) *Estimator {
	return &Estimator{
		threshold: threshold,
		idle:      idle,
		states:    make(map[string]*speakerState),
	}
}

// RMS computes the root-mean-square level of a little-endian 16-bit PCM
// frame, normalized so a full-scale square wave is 1. Empty frames are 0.
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq/float64(n)) / 32767
}

// Observe folds one frame into the participant's activity state and returns
// the frame's RMS level. Speaking transitions are logged, nothing more.
func (e *Estimator) Observe(userID string, frame []byte) float64 {
	rms := RMS(frame)
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[userID]
	if !ok {
		st = &speakerState{}
		e.states[userID] = st
	}
	if rms >= e.threshold {
		st.lastAbove = now
		if !st.speaking {
			st.speaking = true
			logging.Infow("participant started speaking", "user_id", userID, "rms", rms)
		}
	}
	return rms
}

// Speaking reports whether the participant is currently judged to be
// speaking.
func (e *Estimator) Speaking(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[userID]
	return ok && st.speaking
}

// Snapshot returns the user IDs currently judged to be speaking.
func (e *Estimator) Snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for uid, st := range e.states {
		if st.speaking {
			out = append(out, uid)
		}
	}
	return out
}

// sweep marks speakers silent once they have been below the threshold for
// the idle window.
func (e *Estimator) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for uid, st := range e.states {
		if st.speaking && now.Sub(st.lastAbove) >= e.idle {
			st.speaking = false
			logging.Infow("participant went silent", "user_id", uid, "idle", e.idle.String())
		}
	}
}

// Run sweeps idle speakers until ctx is cancelled. Caller must call
// wg.Add(1) before calling; the goroutine calls wg.Done() on exit.
func (e *Estimator) Run(ctx context.Context, wg *sync.WaitGroup) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep(time.Now())
			}
		}
	}()
}
