// Package channels defines the vocabulary shared between chat channel
// implementations and the rest of the system: message kinds, reply
// addressing, outward events, and the sink/outbound interfaces a channel
// consumes and exposes.
package channels

import "context"

// ChannelType identifies a chat platform.
type ChannelType string

const (
	ChannelWhatsapp ChannelType = "whatsapp"
	ChannelTelegram ChannelType = "telegram"
)

func (t ChannelType) String() string { return string(t) }

// ChannelMessageKind classifies an inbound message payload.
type ChannelMessageKind string

const (
	KindText     ChannelMessageKind = "text"
	KindPhoto    ChannelMessageKind = "photo"
	KindVoice    ChannelMessageKind = "voice"
	KindAudio    ChannelMessageKind = "audio"
	KindVideo    ChannelMessageKind = "video"
	KindDocument ChannelMessageKind = "document"
	KindLocation ChannelMessageKind = "location"
	KindOther    ChannelMessageKind = "other"
)

func (k ChannelMessageKind) String() string { return string(k) }

// ChannelReplyTarget carries everything needed to address a reply back to
// the chat a message came from.
type ChannelReplyTarget struct {
	ChannelType ChannelType
	AccountID   string
	ChatID      string
	MessageID   string // empty if the platform did not supply one
}

// ChannelMessageMeta is auxiliary routing metadata attached to a dispatched
// message. Not persisted.
type ChannelMessageMeta struct {
	ChannelType   ChannelType
	SenderName    string
	Username      string
	MessageKind   ChannelMessageKind
	Model         string // per-account default model hint, may be empty
	ModelProvider string
	AudioFilename string
}

// ChannelAttachment is a binary payload forwarded to the chat backend
// alongside a message (e.g. an image for vision input).
type ChannelAttachment struct {
	MediaType string
	Data      []byte
}

// StreamEvent is one element of a streamed outbound response.
type StreamEvent struct {
	Delta string
	Err   string
	Done  bool
}

// StreamReceiver delivers stream events in order; the channel is closed
// after Done or Err.
type StreamReceiver <-chan StreamEvent

// Outbound is the sender side of a channel, shared across its accounts.
type Outbound interface {
	SendText(ctx context.Context, accountID, to, text string, replyTo string) error
	SendMedia(ctx context.Context, accountID, to string, payload ReplyPayload, replyTo string) error
	SendTyping(ctx context.Context, accountID, to string) error
}

// StreamOutbound sends a streamed response. Platforms with message editing
// update a single message in place; others collect and send once.
type StreamOutbound interface {
	SendStream(ctx context.Context, accountID, to, replyTo string, stream StreamReceiver) error
	StreamEnabled(accountID string) bool
}

// ReplyPayload is an outbound message body with optional media.
type ReplyPayload struct {
	Text      string
	MediaType string
	Media     []byte
	MediaName string
}

// HealthSnapshot is the result of probing one account's connectivity.
type HealthSnapshot struct {
	Connected bool
	AccountID string
	Details   string // human-readable, may be empty
}
