package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Vdarak/discord-bot-transcord/internal/logging"
	"github.com/Vdarak/discord-bot-transcord/internal/metrics"
)

// packetQueueSize buffers roughly three seconds of 20ms voice packets before
// the enqueue path starts dropping.
const packetQueueSize = 3 * 1000 / 20

// FrameStream consumes one participant's Opus packets and produces PCM
// frames through the emit callback it was built with.
type FrameStream interface {
	Push(packet []byte)
	Flush()
}

// StreamFactory builds a FrameStream for a newly subscribed participant.
// Completed PCM frames are delivered to emit in arrival order.
type StreamFactory func(userID string, emit func(frame []byte)) (FrameStream, error)

type packet struct {
	ssrc uint32
	data []byte
}

type subscription struct {
	stream       FrameStream
	sink         func(frame []byte)
	subscribedAt time.Time
	frames       int64 // updated atomically by the worker
	warned       bool
}

// Capture routes raw Discord voice packets to per-participant frame streams.
// Packets arrive on the gateway goroutine and are handed to a single worker
// over a bounded queue, so decode work never blocks the receive loop and
// per-participant frame order is preserved.
type Capture struct {
	mu          sync.Mutex
	ssrcMap     map[uint32]string
	subs        map[string]*subscription
	userDisplay map[string]string

	// sendMu serializes enqueues against the queue close. Readers take the
	// shared side so concurrent gateway callers never wait on each other,
	// and never on the routing lock above.
	sendMu sync.RWMutex
	closed bool

	resolver NameResolver
	factory  StreamFactory
	mets     *metrics.Metrics
	warmup   time.Duration

	queue  chan packet
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCapture builds a Capture and starts its routing worker. warmup bounds
// how long a subscription may produce zero frames before a warning is
// logged; zero disables the check.
func NewCapture(resolver NameResolver, factory StreamFactory, mets *metrics.Metrics, warmup time.Duration) *Capture {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capture{
		ssrcMap:     make(map[uint32]string),
		subs:        make(map[string]*subscription),
		userDisplay: make(map[string]string),
		resolver:    resolver,
		factory:     factory,
		mets:        mets,
		warmup:      warmup,
		queue:       make(chan packet, packetQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.wg.Add(1)
	go c.worker()
	if warmup > 0 {
		c.wg.Add(1)
		go c.watchdog()
	}
	return c
}

// ProcessPacket enqueues one raw Opus payload for routing. The payload is
// copied because the caller may reuse its buffer. When the queue is full the
// packet is dropped rather than blocking the receive loop.
func (c *Capture) ProcessPacket(ssrc uint32, opusPayload []byte) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- packet{ssrc: ssrc, data: append([]byte(nil), opusPayload...)}:
		c.mets.PacketEnqueued()
	default:
		c.mets.PacketDropped()
		logging.Warnw("dropping voice packet, queue full", "ssrc", ssrc)
	}
}

func (c *Capture) worker() {
	defer c.wg.Done()
	for pkt := range c.queue {
		c.route(pkt)
	}
}

// route hands one packet to its participant's stream. Packets from SSRCs we
// have not yet mapped to a user, or from users nobody subscribed to, are
// discarded quietly.
func (c *Capture) route(pkt packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid := c.ssrcMap[pkt.ssrc]
	if uid == "" {
		logging.Debugw("discarding packet from unmapped ssrc", "ssrc", pkt.ssrc)
		return
	}
	sub, ok := c.subs[uid]
	if !ok {
		logging.Debugw("discarding packet from unsubscribed user", "ssrc", pkt.ssrc, "user_id", uid)
		return
	}
	sub.stream.Push(pkt.data)
}

// Subscribe creates a frame stream for userID and delivers its PCM frames to
// sink. Subscribing an already-subscribed user is a no-op.
func (c *Capture) Subscribe(userID string, sink func(frame []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[userID]; ok {
		return nil
	}
	sub := &subscription{sink: sink, subscribedAt: time.Now()}
	stream, err := c.factory(userID, func(frame []byte) {
		atomic.AddInt64(&sub.frames, 1)
		c.mets.FrameSent()
		sub.sink(frame)
	})
	if err != nil {
		return err
	}
	sub.stream = stream
	c.subs[userID] = sub
	logging.Infow("subscribed participant", logging.UserFields(userID, c.displayNameLocked(userID))...)
	return nil
}

// Unsubscribe flushes the participant's buffered remainder through the sink
// and removes the stream. Unknown users are ignored.
func (c *Capture) Unsubscribe(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[userID]
	if !ok {
		return
	}
	delete(c.subs, userID)
	sub.stream.Flush()
	logging.Infow("unsubscribed participant", "user_id", userID, "frames", atomic.LoadInt64(&sub.frames))
}

// UnsubscribeAll flushes and removes every active subscription.
func (c *Capture) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, sub := range c.subs {
		delete(c.subs, uid)
		sub.stream.Flush()
	}
}

// SubscribedUsers returns the user IDs with live subscriptions.
func (c *Capture) SubscribedUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for uid := range c.subs {
		out = append(out, uid)
	}
	return out
}

// HandleSpeakingUpdate maps an RTP SSRC to a Discord user so later packets
// can be routed. Registered as a discordgo voice handler.
func (c *Capture) HandleSpeakingUpdate(s *discordgo.Session, su *discordgo.VoiceSpeakingUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssrcMap[uint32(su.SSRC)] = su.UserID
	logging.Infow("mapped ssrc to user", "ssrc", su.SSRC, "user_id", su.UserID)
}

// HandleVoiceState refreshes the display-name cache on voice state changes.
// Join/leave bookkeeping for active recordings lives with the caller.
func (c *Capture) HandleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	name := ""
	if c.resolver != nil {
		name = c.resolver.UserName(vs.UserID)
	}
	if name != "" {
		c.mu.Lock()
		c.userDisplay[vs.UserID] = name
		c.mu.Unlock()
		logging.Debugw("voice state update", logging.UserFields(vs.UserID, name)...)
	} else {
		logging.Debugw("voice state update", "user_id", vs.UserID)
	}
}

// SeedVoiceChannelMembers enumerates the gateway state's voice states for the
// channel, caches display names, and returns the member user IDs found.
func (c *Capture) SeedVoiceChannelMembers(s *discordgo.Session, guildID, channelID string) []string {
	if s == nil || guildID == "" || channelID == "" {
		return nil
	}
	m := make(map[string]string)
	if s.State != nil {
		if gs, err := s.State.Guild(guildID); err == nil && gs != nil {
			for _, vs := range gs.VoiceStates {
				if vs.ChannelID != channelID || vs.UserID == "" {
					continue
				}
				name := ""
				if c.resolver != nil {
					name = c.resolver.UserName(vs.UserID)
				}
				if name == "" {
					if u, err := s.User(vs.UserID); err == nil && u != nil {
						name = u.Username
					}
				}
				if name == "" {
					name = vs.UserID
				}
				m[vs.UserID] = name
			}
		}
	}
	if len(m) == 0 {
		return nil
	}
	ids := make([]string, 0, len(m))
	c.mu.Lock()
	for uid, name := range m {
		c.userDisplay[uid] = name
		ids = append(ids, uid)
	}
	c.mu.Unlock()
	return ids
}

// DisplayName returns the cached or resolved name for a user, falling back
// to the raw ID.
func (c *Capture) DisplayName(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayNameLocked(userID)
}

func (c *Capture) displayNameLocked(userID string) string {
	if n, ok := c.userDisplay[userID]; ok && n != "" {
		return n
	}
	if c.resolver != nil {
		if n := c.resolver.UserName(userID); n != "" {
			c.userDisplay[userID] = n
			return n
		}
	}
	return userID
}

// watchdog warns once for each subscription that has produced no frames
// within the warmup window. Silence is not an error; the session continues.
func (c *Capture) watchdog() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepStalled(time.Now())
		}
	}
}

// sweepStalled flags subscriptions past the warmup window with zero frames.
func (c *Capture) sweepStalled(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, sub := range c.subs {
		if sub.warned || atomic.LoadInt64(&sub.frames) > 0 {
			continue
		}
		if now.Sub(sub.subscribedAt) >= c.warmup {
			sub.warned = true
			logging.Warnw("no audio frames from participant since subscribe",
				"user_id", uid, "waited", now.Sub(sub.subscribedAt).Round(time.Second).String())
		}
	}
}

// Close stops the worker goroutines and drains the queue. Packets arriving
// after Close are ignored.
func (c *Capture) Close() error {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.sendMu.Unlock()
	logging.Infow("voice capture closing")
	c.cancel()
	c.wg.Wait()
	return nil
}
