package bus

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	var got1, got2 []channels.ChannelEvent
	b.Subscribe("sub1", func(e channels.ChannelEvent) { got1 = append(got1, e) })
	b.Subscribe("sub2", func(e channels.ChannelEvent) { got2 = append(got2, e) })

	b.Broadcast(channels.ChannelEvent{Type: channels.EventPairingComplete, AccountID: "acct1"})

	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("subscriber deliveries = %d, %d, want 1 each", len(got1), len(got2))
	}
	if got1[0].AccountID != "acct1" {
		t.Errorf("event = %+v", got1[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("sub1", func(channels.ChannelEvent) { count++ })
	b.Broadcast(channels.ChannelEvent{Type: channels.EventInboundMessage})
	b.Unsubscribe("sub1")
	b.Broadcast(channels.ChannelEvent{Type: channels.EventInboundMessage})

	if count != 1 {
		t.Errorf("deliveries = %d, want 1", count)
	}
}

func TestSinkEmitBroadcasts(t *testing.T) {
	b := New()
	var got []channels.ChannelEvent
	b.Subscribe("sub", func(e channels.ChannelEvent) { got = append(got, e) })

	s := &Sink{Bus: b}
	s.Emit(context.Background(), channels.ChannelEvent{Type: channels.EventOtpChallenge})

	if len(got) != 1 || got[0].Type != channels.EventOtpChallenge {
		t.Errorf("broadcast events = %+v", got)
	}
}

func TestSinkDegradesWithoutCallbacks(t *testing.T) {
	ctx := context.Background()
	s := &Sink{}

	if s.VoiceSTTAvailable(ctx) {
		t.Error("VoiceSTTAvailable() = true without a transcriber")
	}
	if _, err := s.TranscribeVoice(ctx, nil, "ogg"); err == nil {
		t.Error("TranscribeVoice() error = nil without a transcriber")
	}
	if _, err := s.DispatchCommand(ctx, "/new", channels.ChannelReplyTarget{}); err == nil {
		t.Error("DispatchCommand() error = nil without a dispatcher")
	}
	if s.UpdateLocation(ctx, channels.ChannelReplyTarget{}, 0, 0) {
		t.Error("UpdateLocation() = true without a resolver")
	}
	// Dispatches must not panic.
	s.DispatchToChat(ctx, "x", channels.ChannelReplyTarget{}, channels.ChannelMessageMeta{})
	s.DispatchToChatWithAttachments(ctx, "x", nil, channels.ChannelReplyTarget{}, channels.ChannelMessageMeta{})
}

func TestSinkAttachmentsFallBackToTextDispatch(t *testing.T) {
	var texts []string
	s := &Sink{
		DispatchFunc: func(_ context.Context, text string, _ channels.ChannelReplyTarget, _ channels.ChannelMessageMeta) {
			texts = append(texts, text)
		},
	}
	s.DispatchToChatWithAttachments(context.Background(), "caption", []channels.ChannelAttachment{{MediaType: "image"}}, channels.ChannelReplyTarget{}, channels.ChannelMessageMeta{})

	if len(texts) != 1 || texts[0] != "caption" {
		t.Errorf("fallback dispatches = %v, want the caption", texts)
	}
}
