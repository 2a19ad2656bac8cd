package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/waclaw/internal/bus"
	"github.com/nextlevelbuilder/waclaw/internal/channels"
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

// botWatermark is an invisible zero-width joiner/non-joiner run appended
// to every outbound text. It survives the transport round trip, so any
// inbound text ending with it is bot-authored.
const botWatermark = "‍‌‍‌"

const sentIDCapacity = 256

// sentIDRing remembers the ids of recently sent messages, FIFO-evicted at
// a fixed capacity.
type sentIDRing struct {
	mu  sync.Mutex
	ids []string
	set map[string]struct{}
}

func newSentIDRing() *sentIDRing {
	return &sentIDRing{set: make(map[string]struct{}, sentIDCapacity)}
}

func (r *sentIDRing) record(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[id]; ok {
		return
	}
	if len(r.ids) >= sentIDCapacity {
		oldest := r.ids[0]
		r.ids = r.ids[1:]
		delete(r.set, oldest)
	}
	r.ids = append(r.ids, id)
	r.set[id] = struct{}{}
}

func (r *sentIDRing) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[id]
	return ok
}

// WatermarkText appends the bot watermark unless it is already present.
func WatermarkText(text string) string {
	if strings.HasSuffix(text, botWatermark) {
		return text
	}
	return text + botWatermark
}

// HasBotWatermark reports whether text ends with the bot watermark.
func HasBotWatermark(text string) bool {
	return strings.HasSuffix(text, botWatermark)
}

// StripBotWatermark removes a trailing watermark, if any.
func StripBotWatermark(text string) string {
	return strings.TrimSuffix(text, botWatermark)
}

// AccountState owns one active account: its transport client, mutable
// config, OTP table, sent-id ring and the cancellation of its event task.
type AccountState struct {
	accountID  string
	client     Client
	cancel     context.CancelFunc
	closer     io.Closer
	protoStore store.Store

	mu       sync.RWMutex // guards cfg and latestQR
	cfg      AccountConfig
	latestQR string

	connected atomic.Bool

	otp     *OtpState
	sent    *sentIDRing
	seen    *bus.DedupeCache
	limiter *rate.Limiter

	messageLog channels.MessageLog
	sink       channels.EventSink
	logger     *slog.Logger
}

func newAccountState(accountID string, cfg AccountConfig, client Client,
	messageLog channels.MessageLog, sink channels.EventSink, logger *slog.Logger) *AccountState {

	cfg = cfg.normalized()
	return &AccountState{
		accountID:  accountID,
		client:     client,
		cfg:        cfg,
		otp:        NewOtpState(cfg.OtpCooldownSecs),
		sent:       newSentIDRing(),
		seen:       bus.NewDedupeCache(20*time.Minute, 5000),
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		messageLog: messageLog,
		sink:       sink,
		logger:     logger.With("channel", "whatsapp", "account", accountID),
	}
}

func (a *AccountState) AccountID() string { return a.accountID }

// Config returns a snapshot of the current config.
func (a *AccountState) Config() AccountConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// UpdateConfig hot-swaps the config without reconnecting. The OTP cooldown
// of challenges created after the swap follows the new value.
func (a *AccountState) UpdateConfig(cfg AccountConfig) {
	cfg = cfg.normalized()
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	a.otp.mu.Lock()
	a.otp.cooldown = cooldownDuration(cfg.OtpCooldownSecs)
	a.otp.mu.Unlock()
}

// allowPeer appends peerID to the DM allowlist if it is not already
// matched. Used when an OTP challenge is approved.
func (a *AccountState) allowPeer(peerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if isAllowed(a.cfg.Allowlist, peerID) {
		return
	}
	a.cfg.Allowlist = append(a.cfg.Allowlist, peerID)
}

func (a *AccountState) LatestQR() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestQR
}

func (a *AccountState) setLatestQR(code string) {
	a.mu.Lock()
	a.latestQR = code
	a.mu.Unlock()
}

func (a *AccountState) Connected() bool { return a.connected.Load() }

// WasSentByUs reports whether the bot recently sent a message with this id.
func (a *AccountState) WasSentByUs(messageID string) bool {
	return a.sent.contains(messageID)
}

// SendText watermarks text, sends it and records the assigned message id
// so the echo is recognized later. Returns the id.
func (a *AccountState) SendText(ctx context.Context, to types.JID, text string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msg := &waE2E.Message{Conversation: proto.String(WatermarkText(text))}
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send text to %s: %w", to, err)
	}
	a.sent.record(string(resp.ID))
	return string(resp.ID), nil
}

// SendMessage sends an arbitrary message payload, watermarking its text
// parts, and records the assigned id.
func (a *AccountState) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	watermarkMessage(msg)
	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", to, err)
	}
	a.sent.record(string(resp.ID))
	return string(resp.ID), nil
}

// watermarkMessage appends the bot watermark to whichever text field the
// payload carries.
func watermarkMessage(msg *waE2E.Message) {
	switch {
	case msg.Conversation != nil:
		msg.Conversation = proto.String(WatermarkText(msg.GetConversation()))
	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.Text != nil:
		msg.ExtendedTextMessage.Text = proto.String(WatermarkText(msg.ExtendedTextMessage.GetText()))
	case msg.ImageMessage != nil && msg.ImageMessage.Caption != nil:
		msg.ImageMessage.Caption = proto.String(WatermarkText(msg.ImageMessage.GetCaption()))
	case msg.VideoMessage != nil && msg.VideoMessage.Caption != nil:
		msg.VideoMessage.Caption = proto.String(WatermarkText(msg.VideoMessage.GetCaption()))
	}
}

func cooldownDuration(secs int64) time.Duration {
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}
