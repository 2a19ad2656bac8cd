package bus

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

// Sink implements channels.EventSink on top of an EventBus and a set of
// optional host callbacks. Capabilities with a nil callback degrade: voice
// transcription reports unavailable, commands return an error, location
// updates resolve nothing.
type Sink struct {
	Bus    *EventBus
	Logger *slog.Logger

	DispatchFunc            func(ctx context.Context, text string, replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta)
	DispatchAttachmentsFunc func(ctx context.Context, text string, attachments []channels.ChannelAttachment, replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta)
	CommandFunc             func(ctx context.Context, command string, replyTo channels.ChannelReplyTarget) (string, error)
	TranscribeFunc          func(ctx context.Context, audio []byte, format string) (string, error)
	LocationFunc            func(ctx context.Context, replyTo channels.ChannelReplyTarget, lat, lon float64) bool
}

var _ channels.EventSink = (*Sink)(nil)

func (s *Sink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Sink) Emit(_ context.Context, event channels.ChannelEvent) {
	if s.Bus != nil {
		s.Bus.Broadcast(event)
	}
}

func (s *Sink) DispatchToChat(ctx context.Context, text string, replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {
	if s.DispatchFunc == nil {
		s.logger().Warn("no chat dispatcher configured, dropping message",
			"account", replyTo.AccountID, "chat", replyTo.ChatID)
		return
	}
	s.DispatchFunc(ctx, text, replyTo, meta)
}

func (s *Sink) DispatchToChatWithAttachments(ctx context.Context, text string, attachments []channels.ChannelAttachment, replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {
	if s.DispatchAttachmentsFunc == nil {
		// Fall back to text-only dispatch rather than dropping the message.
		s.DispatchToChat(ctx, text, replyTo, meta)
		return
	}
	s.DispatchAttachmentsFunc(ctx, text, attachments, replyTo, meta)
}

func (s *Sink) DispatchCommand(ctx context.Context, command string, replyTo channels.ChannelReplyTarget) (string, error) {
	if s.CommandFunc == nil {
		return "", channels.Unavailable("no command dispatcher configured")
	}
	return s.CommandFunc(ctx, command, replyTo)
}

func (s *Sink) TranscribeVoice(ctx context.Context, audio []byte, format string) (string, error) {
	if s.TranscribeFunc == nil {
		return "", channels.Unavailable("no transcription backend configured")
	}
	return s.TranscribeFunc(ctx, audio, format)
}

func (s *Sink) VoiceSTTAvailable(context.Context) bool {
	return s.TranscribeFunc != nil
}

func (s *Sink) UpdateLocation(ctx context.Context, replyTo channels.ChannelReplyTarget, lat, lon float64) bool {
	if s.LocationFunc == nil {
		return false
	}
	return s.LocationFunc(ctx, replyTo, lat, lon)
}
