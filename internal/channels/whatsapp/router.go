package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
	"github.com/nextlevelbuilder/waclaw/internal/media"
)

const typingRefreshInterval = 5 * time.Second

// classifyMessage maps a payload to a message kind. Media wins over text:
// a captioned image is a photo, so the caption rides along with the
// attachment instead of being treated as a standalone text message.
func classifyMessage(msg *waE2E.Message) channels.ChannelMessageKind {
	switch {
	case msg == nil:
		return channels.KindOther
	case msg.GetImageMessage() != nil:
		return channels.KindPhoto
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return channels.KindVoice
		}
		return channels.KindAudio
	case msg.GetVideoMessage() != nil:
		return channels.KindVideo
	case msg.GetDocumentMessage() != nil:
		return channels.KindDocument
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return channels.KindLocation
	case extractText(msg) != "":
		return channels.KindText
	default:
		return channels.KindOther
	}
}

// route hands one accepted message to its kind handler.
func (a *AccountState) route(ctx context.Context, evt *events.Message, text string) {
	if a.sink == nil {
		return
	}

	kind := classifyMessage(evt.Message)
	meta := channels.ChannelMessageMeta{
		ChannelType: channels.ChannelWhatsapp,
		SenderName:  evt.Info.PushName,
		Username:    evt.Info.Sender.User,
		MessageKind: kind,
		Model:       a.Config().DefaultModel,
	}
	replyTo := a.replyTarget(evt.Info)

	switch kind {
	case channels.KindText:
		a.forwardText(ctx, evt.Info.Chat, text, replyTo, meta)
	case channels.KindPhoto:
		a.handlePhoto(ctx, evt, replyTo, meta)
	case channels.KindVoice, channels.KindAudio:
		a.handleAudio(ctx, evt, kind, replyTo, meta)
	case channels.KindVideo:
		a.handleVideo(ctx, evt, replyTo, meta)
	case channels.KindDocument:
		a.handleDocument(ctx, evt, replyTo, meta)
	case channels.KindLocation:
		a.handleLocation(ctx, evt, replyTo)
	default:
		a.reply(ctx, evt.Info.Chat, "Unsupported message type.")
	}
}

// forwardText dispatches text to the chat backend, refreshing the typing
// indicator while the dispatch is in flight.
func (a *AccountState) forwardText(ctx context.Context, chat types.JID, text string,
	replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {

	stop := a.typingHeartbeat(ctx, chat)
	defer stop()
	a.sink.DispatchToChat(ctx, text, replyTo, meta)
}

// typingHeartbeat keeps the composing indicator alive until the returned
// stop function is called. Safe to call stop exactly once.
func (a *AccountState) typingHeartbeat(ctx context.Context, chat types.JID) func() {
	done := make(chan struct{})
	go func() {
		a.sendTyping(ctx, chat, true)
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				a.sendTyping(ctx, chat, false)
				return
			case <-ticker.C:
				a.sendTyping(ctx, chat, true)
			}
		}
	}()
	return func() { close(done) }
}

func (a *AccountState) sendTyping(ctx context.Context, chat types.JID, composing bool) {
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	if err := a.client.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText); err != nil {
		a.logger.Debug("send chat presence", "error", err)
	}
}

// handlePhoto downloads and optimizes the image. Optimization failure
// falls back to the original bytes; download failure degrades to a
// placeholder carrying the caption.
func (a *AccountState) handlePhoto(ctx context.Context, evt *events.Message,
	replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {

	img := evt.Message.GetImageMessage()
	caption := img.GetCaption()

	data, err := a.client.Download(ctx, img)
	if err != nil {
		a.logger.Warn("download image", "error", err)
		placeholder := "[image could not be downloaded]"
		if caption != "" {
			placeholder += " Caption: " + caption
		}
		a.forwardText(ctx, evt.Info.Chat, placeholder, replyTo, meta)
		return
	}

	optimized, err := media.OptimizeImage(data)
	if err != nil {
		a.logger.Warn("optimize image, forwarding original", "error", err)
		optimized = data
	}

	stop := a.typingHeartbeat(ctx, evt.Info.Chat)
	defer stop()
	a.sink.DispatchToChatWithAttachments(ctx, caption,
		[]channels.ChannelAttachment{{MediaType: "image", Data: optimized}}, replyTo, meta)
}

// handleAudio transcribes voice notes and audio files. Without a
// speech-to-text backend it replies with guidance instead of forwarding
// binary audio.
func (a *AccountState) handleAudio(ctx context.Context, evt *events.Message,
	kind channels.ChannelMessageKind, replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {

	noun := "audio message"
	if kind == channels.KindVoice {
		noun = "voice message"
	}

	if !a.sink.VoiceSTTAvailable(ctx) {
		a.reply(ctx, evt.Info.Chat, "I can't listen to "+noun+"s yet. Please type it out.")
		return
	}

	audio := evt.Message.GetAudioMessage()
	data, err := a.client.Download(ctx, audio)
	if err != nil {
		a.logger.Warn("download audio", "error", err)
		a.reply(ctx, evt.Info.Chat, "Couldn't fetch that "+noun+". Please send it again.")
		return
	}

	meta.AudioFilename = "audio." + audioFormat(audio.GetMimetype())
	transcript, err := a.sink.TranscribeVoice(ctx, data, audioFormat(audio.GetMimetype()))
	if err != nil {
		a.logger.Warn("transcribe audio", "error", err)
		transcript = "[" + noun + " could not be transcribed]"
	}
	a.forwardText(ctx, evt.Info.Chat, transcript, replyTo, meta)
}

// audioFormat maps a MIME type to a short format name for the
// transcription backend.
func audioFormat(mimetype string) string {
	mimetype, _, _ = strings.Cut(mimetype, ";")
	switch strings.TrimSpace(mimetype) {
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	case "audio/wav", "audio/x-wav":
		return "wav"
	default:
		return "ogg"
	}
}

// handleVideo forwards the embedded thumbnail when there is one; playback
// itself is not supported.
func (a *AccountState) handleVideo(ctx context.Context, evt *events.Message,
	replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {

	video := evt.Message.GetVideoMessage()
	caption := video.GetCaption()

	if thumb := video.GetJPEGThumbnail(); len(thumb) > 0 {
		text := "[video message - attached thumbnail only]"
		if caption != "" {
			text += " Caption: " + caption
		}
		stop := a.typingHeartbeat(ctx, evt.Info.Chat)
		defer stop()
		a.sink.DispatchToChatWithAttachments(ctx, text,
			[]channels.ChannelAttachment{{MediaType: "image", Data: thumb}}, replyTo, meta)
		return
	}

	text := "[video message - playback not supported]"
	if caption != "" {
		text = caption + " " + text
	}
	a.forwardText(ctx, evt.Info.Chat, text, replyTo, meta)
}

// handleDocument forwards a description, never the raw bytes.
func (a *AccountState) handleDocument(ctx context.Context, evt *events.Message,
	replyTo channels.ChannelReplyTarget, meta channels.ChannelMessageMeta) {

	doc := evt.Message.GetDocumentMessage()
	text := fmt.Sprintf("[document: %s (%s)]", doc.GetFileName(), doc.GetMimetype())
	if caption := doc.GetCaption(); caption != "" {
		text += " Caption: " + caption
	}
	a.forwardText(ctx, evt.Info.Chat, text, replyTo, meta)
}

// handleLocation resolves a pending location request if one is waiting;
// otherwise live pings are acknowledged silently and static positions are
// forwarded as text.
func (a *AccountState) handleLocation(ctx context.Context, evt *events.Message,
	replyTo channels.ChannelReplyTarget) {

	var lat, lon float64
	live := false
	if loc := evt.Message.GetLocationMessage(); loc != nil {
		lat, lon = loc.GetDegreesLatitude(), loc.GetDegreesLongitude()
		live = loc.GetIsLive()
	} else if loc := evt.Message.GetLiveLocationMessage(); loc != nil {
		lat, lon = loc.GetDegreesLatitude(), loc.GetDegreesLongitude()
		live = true
	}

	if a.sink.UpdateLocation(ctx, replyTo, lat, lon) {
		a.reply(ctx, evt.Info.Chat, "Location received, thanks!")
		return
	}
	if live {
		return
	}
	a.forwardText(ctx, evt.Info.Chat, fmt.Sprintf("Location: %.6f, %.6f", lat, lon), replyTo,
		channels.ChannelMessageMeta{
			ChannelType: channels.ChannelWhatsapp,
			SenderName:  evt.Info.PushName,
			Username:    evt.Info.Sender.User,
			MessageKind: channels.KindLocation,
			Model:       a.Config().DefaultModel,
		})
}
