package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Vdarak/discord-bot-transcord/internal/voice"
)

// passthroughStream emits every packet it receives as-is, standing in for
// the decode/reframe path.
type passthroughStream struct {
	emit func(frame []byte)
}

func (p *passthroughStream) Push(packet []byte) { p.emit(packet) }
func (p *passthroughStream) Flush()             {}

func passthroughFactory(userID string, emit func(frame []byte)) (voice.FrameStream, error) {
	return &passthroughStream{emit: emit}, nil
}

// TestOpusRecvWiring simulates a VoiceConnection with an OpusRecv channel
// and verifies packets placed into it travel through the pump and capture
// routing to a subscribed participant's sink.
func TestOpusRecvWiring(t *testing.T) {
	vc := &discordgo.VoiceConnection{}
	vc.OpusRecv = make(chan *discordgo.Packet, 4)

	c := voice.NewCapture(voice.NewNoopResolver(), passthroughFactory, nil, 0)
	defer func() { _ = c.Close() }()

	var mu sync.Mutex
	var frames [][]byte
	if err := c.Subscribe("u1", func(frame []byte) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.HandleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "u1", SSRC: 42, Speaking: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Mirrors the pump in main.go.
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-vc.OpusRecv:
				if !ok {
					return
				}
				if pkt == nil {
					continue
				}
				c.ProcessPacket(pkt.SSRC, pkt.Opus)
			}
		}
	}()

	vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: []byte{0x01, 0x02}}
	vc.OpusRecv <- nil
	vc.OpusRecv <- &discordgo.Packet{SSRC: 42, Opus: []byte{0x03}}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("frames routed: want=2 got=%d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	first := frames[0]
	mu.Unlock()
	if len(first) != 2 || first[0] != 0x01 {
		t.Fatalf("unexpected first frame: %v", first)
	}

	// Cancellation stops the pump even though OpusRecv stays open.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on context cancel")
	}
}

// TestOpusRecvWiringChannelClose verifies the pump also exits when discordgo
// closes the packet channel.
func TestOpusRecvWiringChannelClose(t *testing.T) {
	vc := &discordgo.VoiceConnection{}
	vc.OpusRecv = make(chan *discordgo.Packet, 1)

	c := voice.NewCapture(voice.NewNoopResolver(), passthroughFactory, nil, 0)
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for pkt := range vc.OpusRecv {
			if pkt == nil {
				continue
			}
			c.ProcessPacket(pkt.SSRC, pkt.Opus)
		}
	}()

	close(vc.OpusRecv)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on channel close")
	}
}
