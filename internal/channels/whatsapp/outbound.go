package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

var (
	_ channels.Outbound       = (*Plugin)(nil)
	_ channels.StreamOutbound = (*Plugin)(nil)
)

// parseRecipient turns a chat id string into a JID.
func parseRecipient(to string) (types.JID, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.EmptyJID, channels.InvalidInput("invalid recipient %q: %v", to, err)
	}
	if jid.User == "" || jid.Server == "" {
		return types.EmptyJID, channels.InvalidInput("invalid recipient %q", to)
	}
	return jid, nil
}

// SendText sends watermarked text from an account to a chat. replyTo is
// accepted for interface parity; quoting is not supported on this
// transport path.
func (p *Plugin) SendText(ctx context.Context, accountID, to, text string, replyTo string) error {
	state, ok := p.account(accountID)
	if !ok {
		return channels.UnknownAccount(accountID)
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	_, err = state.SendText(ctx, jid, text)
	return err
}

// SendMedia sends a payload with optional media bytes. Media is uploaded
// first, then referenced from the message.
func (p *Plugin) SendMedia(ctx context.Context, accountID, to string, payload channels.ReplyPayload, replyTo string) error {
	state, ok := p.account(accountID)
	if !ok {
		return channels.UnknownAccount(accountID)
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}

	if len(payload.Media) == 0 {
		_, err := state.SendText(ctx, jid, payload.Text)
		return err
	}

	msg, err := state.buildMediaMessage(ctx, payload)
	if err != nil {
		return err
	}
	_, err = state.SendMessage(ctx, jid, msg)
	return err
}

// buildMediaMessage uploads the media bytes and wraps them in the message
// type matching the payload's media type.
func (a *AccountState) buildMediaMessage(ctx context.Context, payload channels.ReplyPayload) (*waE2E.Message, error) {
	mediaType := whatsmeow.MediaDocument
	switch payload.MediaType {
	case "image":
		mediaType = whatsmeow.MediaImage
	case "audio", "voice":
		mediaType = whatsmeow.MediaAudio
	}

	up, err := a.client.Upload(ctx, payload.Media, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	switch mediaType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String("image/jpeg"),
			Caption:       proto.String(payload.Text),
		}}, nil
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String("audio/ogg; codecs=opus"),
			PTT:           proto.Bool(payload.MediaType == "voice"),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(payload.MediaName),
			Caption:       proto.String(payload.Text),
		}}, nil
	}
}

// SendTyping flashes the composing indicator once.
func (p *Plugin) SendTyping(ctx context.Context, accountID, to string) error {
	state, ok := p.account(accountID)
	if !ok {
		return channels.UnknownAccount(accountID)
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}
	state.sendTyping(ctx, jid, true)
	return nil
}

// StreamEnabled is false: sent messages cannot be edited in place, so
// streams are collected and sent whole.
func (p *Plugin) StreamEnabled(string) bool { return false }

// SendStream drains the stream, keeping the typing indicator alive, and
// sends the collected text as one message.
func (p *Plugin) SendStream(ctx context.Context, accountID, to, replyTo string, stream channels.StreamReceiver) error {
	state, ok := p.account(accountID)
	if !ok {
		return channels.UnknownAccount(accountID)
	}
	jid, err := parseRecipient(to)
	if err != nil {
		return err
	}

	stop := state.typingHeartbeat(ctx, jid)
	defer stop()

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-stream:
			if !ok {
				if len(buf) == 0 {
					return nil
				}
				_, err := state.SendText(ctx, jid, string(buf))
				return err
			}
			if evt.Err != "" {
				// Nothing received yet: surface the failure in the chat
				// instead of going silent.
				if len(buf) == 0 {
					_, err := state.SendText(ctx, jid, "Error: "+evt.Err)
					return err
				}
				return channels.Unavailable("stream failed: %s", evt.Err)
			}
			buf = append(buf, evt.Delta...)
			if evt.Done {
				if len(buf) == 0 {
					return nil
				}
				_, err := state.SendText(ctx, jid, string(buf))
				return err
			}
		}
	}
}
