package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
	"github.com/Vdarak/discord-bot-transcord/internal/transcribe"
)

// relayQueueSize bounds the live-relay backlog; a slow text channel must
// never back-pressure the session read loop.
const relayQueueSize = 64

type namer interface {
	DisplayName(userID string) string
}

type poster func(channelID, content string) error

// turnRelay posts finalized turns to the meeting's text channel as they
// arrive. Delivery is best-effort: overflow drops the turn and counts it.
type turnRelay struct {
	post        poster
	channelID   string
	names       namer
	mets        *metrics.Metrics
	formatTurns bool
	enabled     bool
	queue       chan transcribe.Turn
}

func newTurnRelay(post poster, channelID string, names namer, mets *metrics.Metrics, formatTurns, enabled bool) *turnRelay {
	return &turnRelay{
		post:        post,
		channelID:   channelID,
		names:       names,
		mets:        mets,
		formatTurns: formatTurns,
		enabled:     enabled && channelID != "",
		queue:       make(chan transcribe.Turn, relayQueueSize),
	}
}

// observe is the session's turn callback. It runs on the session read loop,
// so it only enqueues.
func (r *turnRelay) observe(t transcribe.Turn) {
	if !r.enabled || !r.finalized(t) {
		return
	}
	select {
	case r.queue <- t:
	default:
		r.mets.TurnDropped()
		logging.Debugw("turn relay backlog full, dropping turn", "turn_order", t.TurnOrder)
	}
}

// finalized mirrors the session's recording rule so interim turns are not
// posted twice.
func (r *turnRelay) finalized(t transcribe.Turn) bool {
	if strings.TrimSpace(t.Transcript) == "" {
		return false
	}
	if r.formatTurns {
		return t.TurnIsFormatted
	}
	return t.EndOfTurn
}

// start drains the queue until ctx is cancelled. Caller must call wg.Add(1)
// first; the goroutine calls wg.Done() on exit.
func (r *turnRelay) start(ctx context.Context, wg *sync.WaitGroup) {
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-r.queue:
				r.deliver(t)
			}
		}
	}()
}

func (r *turnRelay) deliver(t transcribe.Turn) {
	text := strings.TrimSpace(t.Transcript)
	line := "> " + text
	if speaker := t.SpeakerLabel(); speaker != "" {
		line = fmt.Sprintf("> %s: %s", r.names.DisplayName(speaker), text)
	}
	if err := r.post(r.channelID, line); err != nil {
		logging.Warnw("turn relay post failed", "channel_id", r.channelID, "err", err)
	}
}
