package channels

import "context"

// EventType tags an outward channel event.
type EventType string

const (
	EventPairingQrCode   EventType = "pairing_qr_code"
	EventPairingComplete EventType = "pairing_complete"
	EventPairingFailed   EventType = "pairing_failed"
	EventAccountDisabled EventType = "account_disabled"
	EventInboundMessage  EventType = "inbound_message"
	EventOtpChallenge    EventType = "otp_challenge"
	EventOtpResolved     EventType = "otp_resolved"
)

// ChannelEvent is an outward notification from a channel to the host
// (UI broadcast, allowlist persistence, pairing flows). Only the fields
// relevant to the event type are populated.
type ChannelEvent struct {
	Type        EventType
	ChannelType ChannelType
	AccountID   string

	// Pairing.
	QRData      string
	DisplayName string
	Reason      string

	// Inbound message provenance.
	PeerID        string
	Username      string
	SenderName    string
	AccessGranted bool

	// OTP.
	Code       string
	ExpiresAt  int64 // epoch seconds
	Resolution string
}

// EventSink is everything a channel needs from its host: event fan-out,
// dispatch into the chat backend, and the voice/location capabilities the
// message router degrades gracefully without.
type EventSink interface {
	// Emit broadcasts an outward event. Must not block on slow consumers.
	Emit(ctx context.Context, event ChannelEvent)

	// DispatchToChat forwards a message to the chat backend. Returns when
	// the backend has accepted (not necessarily answered) the message.
	DispatchToChat(ctx context.Context, text string, replyTo ChannelReplyTarget, meta ChannelMessageMeta)

	// DispatchToChatWithAttachments is DispatchToChat with binary payloads.
	DispatchToChatWithAttachments(ctx context.Context, text string, attachments []ChannelAttachment, replyTo ChannelReplyTarget, meta ChannelMessageMeta)

	// DispatchCommand routes a slash command and returns its response text.
	DispatchCommand(ctx context.Context, command string, replyTo ChannelReplyTarget) (string, error)

	// TranscribeVoice converts audio bytes (format is a file extension like
	// "ogg") into text.
	TranscribeVoice(ctx context.Context, audio []byte, format string) (string, error)

	// VoiceSTTAvailable reports whether TranscribeVoice is usable.
	VoiceSTTAvailable(ctx context.Context) bool

	// UpdateLocation resolves a pending tool-triggered location request.
	// Returns true if a request was waiting for these coordinates.
	UpdateLocation(ctx context.Context, replyTo ChannelReplyTarget, lat, lon float64) bool
}
