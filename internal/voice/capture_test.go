package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type fakeStream struct {
	mu      sync.Mutex
	emit    func(frame []byte)
	pushes  [][]byte
	flushed bool
}

// Push records the packet and echoes it through emit so sink wiring is
// exercised end to end.
func (f *fakeStream) Push(p []byte) {
	f.mu.Lock()
	f.pushes = append(f.pushes, append([]byte(nil), p...))
	f.mu.Unlock()
	f.emit(p)
}

func (f *fakeStream) Flush() {
	f.mu.Lock()
	f.flushed = true
	f.mu.Unlock()
}

func (f *fakeStream) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type fakeFactory struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	calls   int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{streams: make(map[string]*fakeStream)}
}

func (ff *fakeFactory) factory() StreamFactory {
	return func(userID string, emit func(frame []byte)) (FrameStream, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		ff.calls++
		fs := &fakeStream{emit: emit}
		ff.streams[userID] = fs
		return fs, nil
	}
}

// TestHandleSpeakingUpdateMapsSSRC verifies HandleSpeakingUpdate records the
// SSRC to user mapping used for routing.
func TestHandleSpeakingUpdateMapsSSRC(t *testing.T) {
	c := NewCapture(NewNoopResolver(), newFakeFactory().factory(), nil, 0)
	defer func() { _ = c.Close() }()

	su := &discordgo.VoiceSpeakingUpdate{
		UserID:   "test-user-1",
		SSRC:     12345,
		Speaking: true,
	}
	c.HandleSpeakingUpdate(nil, su)

	c.mu.Lock()
	got := c.ssrcMap[uint32(su.SSRC)]
	c.mu.Unlock()

	if got != su.UserID {
		t.Fatalf("ssrc mapping mismatch: want=%s got=%s", su.UserID, got)
	}
}

// TestRoutesPacketsToSubscribedStream verifies packets from a mapped,
// subscribed user reach the stream and its frames reach the sink, while
// unmapped SSRCs are discarded.
func TestRoutesPacketsToSubscribedStream(t *testing.T) {
	ff := newFakeFactory()
	c := NewCapture(NewNoopResolver(), ff.factory(), nil, 0)

	var sinkMu sync.Mutex
	var sunk int
	if err := c.Subscribe("u1", func(frame []byte) {
		sinkMu.Lock()
		sunk++
		sinkMu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	c.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u1", SSRC: 11})

	payload := []byte{0xf8, 0xff, 0xfe}
	c.ProcessPacket(11, payload)
	c.ProcessPacket(11, payload)
	c.ProcessPacket(11, payload)
	c.ProcessPacket(22, payload) // unmapped ssrc

	// Close drains the queue, so routing is finished afterwards.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs := ff.streams["u1"]
	if fs == nil {
		t.Fatalf("factory never invoked for u1")
	}
	if got := fs.pushCount(); got != 3 {
		t.Fatalf("push count: want=3 got=%d", got)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sunk != 3 {
		t.Fatalf("sink count: want=3 got=%d", sunk)
	}
}

// TestPacketsCopiedOnEnqueue verifies the caller's buffer can be reused
// after ProcessPacket returns.
func TestPacketsCopiedOnEnqueue(t *testing.T) {
	ff := newFakeFactory()
	c := NewCapture(NewNoopResolver(), ff.factory(), nil, 0)

	if err := c.Subscribe("u1", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u1", SSRC: 7})

	buf := []byte{1, 2, 3}
	c.ProcessPacket(7, buf)
	buf[0] = 99

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fs := ff.streams["u1"]
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.pushes) != 1 || fs.pushes[0][0] != 1 {
		t.Fatalf("packet not copied on enqueue: %v", fs.pushes)
	}
}

// TestUnsubscribeFlushesStream verifies the remainder flush fires and later
// packets stop being routed.
func TestUnsubscribeFlushesStream(t *testing.T) {
	ff := newFakeFactory()
	c := NewCapture(NewNoopResolver(), ff.factory(), nil, 0)

	if err := c.Subscribe("u1", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u1", SSRC: 5})
	c.Unsubscribe("u1")

	fs := ff.streams["u1"]
	fs.mu.Lock()
	flushed := fs.flushed
	fs.mu.Unlock()
	if !flushed {
		t.Fatalf("unsubscribe should flush the stream")
	}

	c.ProcessPacket(5, []byte{1})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := fs.pushCount(); got != 0 {
		t.Fatalf("packets routed after unsubscribe: %d", got)
	}
}

// TestSubscribeIdempotent verifies a second Subscribe for the same user does
// not build a second stream.
func TestSubscribeIdempotent(t *testing.T) {
	ff := newFakeFactory()
	c := NewCapture(NewNoopResolver(), ff.factory(), nil, 0)
	defer func() { _ = c.Close() }()

	if err := c.Subscribe("u1", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Subscribe("u1", func([]byte) {}); err != nil {
		t.Fatalf("repeat Subscribe: %v", err)
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.calls != 1 {
		t.Fatalf("factory calls: want=1 got=%d", ff.calls)
	}
}

// TestWatchdogFlagsZeroFrameSubscription verifies the warmup sweep flags a
// subscription that never produced a frame, once, and leaves producing
// subscriptions alone.
func TestWatchdogFlagsZeroFrameSubscription(t *testing.T) {
	ff := newFakeFactory()
	c := NewCapture(NewNoopResolver(), ff.factory(), nil, 10*time.Second)
	defer func() { _ = c.Close() }()

	if err := c.Subscribe("quiet", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe quiet: %v", err)
	}
	if err := c.Subscribe("talker", func([]byte) {}); err != nil {
		t.Fatalf("Subscribe talker: %v", err)
	}
	// one frame through the talker's stream, bypassing the queue
	ff.streams["talker"].Push([]byte{0xf8, 0xff, 0xfe})

	// inside the warmup window nobody is flagged
	c.sweepStalled(time.Now())
	c.mu.Lock()
	early := c.subs["quiet"].warned
	c.mu.Unlock()
	if early {
		t.Fatalf("quiet subscription flagged before the warmup window elapsed")
	}

	c.sweepStalled(time.Now().Add(15 * time.Second))
	c.mu.Lock()
	quietWarned := c.subs["quiet"].warned
	talkerWarned := c.subs["talker"].warned
	c.mu.Unlock()
	if !quietWarned {
		t.Fatalf("quiet subscription should be flagged after the warmup window")
	}
	if talkerWarned {
		t.Fatalf("producing subscription must not be flagged")
	}
}

// TestProcessPacketAfterClose verifies late packets are ignored rather than
// panicking on the closed queue.
func TestProcessPacketAfterClose(t *testing.T) {
	c := NewCapture(NewNoopResolver(), newFakeFactory().factory(), nil, 0)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.ProcessPacket(1, []byte{1, 2})
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type stubResolver struct {
	names map[string]string
}

func (s *stubResolver) UserName(id string) string    { return s.names[id] }
func (s *stubResolver) GuildName(id string) string   { return "" }
func (s *stubResolver) ChannelName(id string) string { return "" }

// TestDisplayNameFallback verifies resolver names are preferred and raw IDs
// are the fallback.
func TestDisplayNameFallback(t *testing.T) {
	res := &stubResolver{names: map[string]string{"u1": "alice"}}
	c := NewCapture(res, newFakeFactory().factory(), nil, 0)
	defer func() { _ = c.Close() }()

	if got := c.DisplayName("u1"); got != "alice" {
		t.Fatalf("resolved name: want=alice got=%s", got)
	}
	if got := c.DisplayName("u2"); got != "u2" {
		t.Fatalf("fallback name: want=u2 got=%s", got)
	}
}
