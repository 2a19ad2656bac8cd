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
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

const (
	otpApprovedMsg  = "Code accepted. You're on the allowlist now."
	otpLockedOutMsg = "Too many wrong attempts. Try again later."
	otpExpiredMsg   = "That code expired. Send another message to get a new one."
)

func otpWrongCodeMsg(attemptsLeft int) string {
	if attemptsLeft == 1 {
		return "Wrong code. 1 attempt left."
	}
	return fmt.Sprintf("Wrong code. %d attempts left.", attemptsLeft)
}

// handleEvent is the per-account state machine over transport events.
// Unrecognized event types are logged and discarded.
func (a *AccountState) handleEvent(ctx context.Context, evt any) {
	switch e := evt.(type) {
	case *events.QR:
		code := ""
		if len(e.Codes) > 0 {
			code = e.Codes[0]
		}
		a.setLatestQR(code)
		a.logger.Info("pairing qr code received")
		a.emit(ctx, channels.ChannelEvent{Type: channels.EventPairingQrCode, QRData: code})

	case *events.Connected:
		a.connected.Store(true)
		a.setLatestQR("")
		name := a.client.PushName()
		a.mu.Lock()
		a.cfg.Paired = true
		if name != "" {
			a.cfg.DisplayName = name
		}
		if own := a.client.OwnID(); !own.IsEmpty() {
			a.cfg.Phone = own.User
		}
		a.mu.Unlock()
		a.persistDeviceIdentity(ctx)
		a.logger.Info("connected", "display_name", name)
		a.emit(ctx, channels.ChannelEvent{Type: channels.EventPairingComplete, DisplayName: name})

	case *events.PairError:
		reason := "pairing failed"
		if e.Error != nil {
			reason = e.Error.Error()
		}
		a.logger.Warn("pairing failed", "reason", reason)
		a.emit(ctx, channels.ChannelEvent{Type: channels.EventPairingFailed, Reason: reason})

	case *events.Disconnected:
		a.connected.Store(false)
		a.logger.Warn("disconnected")

	case *events.LoggedOut:
		a.connected.Store(false)
		a.logger.Warn("logged out from phone")
		a.emit(ctx, channels.ChannelEvent{Type: channels.EventAccountDisabled, Reason: "logged out"})

	case *events.Message:
		a.handleMessage(ctx, e)

	default:
		a.logger.Debug("unhandled transport event", "type", fmt.Sprintf("%T", evt))
	}
}

// emit fills in channel and account identity and forwards to the sink.
func (a *AccountState) emit(ctx context.Context, evt channels.ChannelEvent) {
	if a.sink == nil {
		return
	}
	evt.ChannelType = channels.ChannelWhatsapp
	evt.AccountID = a.accountID
	a.sink.Emit(ctx, evt)
}

// persistDeviceIdentity mirrors the linked device identity into the
// protocol store after a successful connect, so offline tooling can read
// pairing state without the transport's session container. Failures are
// non-fatal.
func (a *AccountState) persistDeviceIdentity(ctx context.Context) {
	if a.protoStore == nil {
		return
	}

	dev, err := a.protoStore.LoadDevice(ctx)
	if err != nil {
		a.logger.Warn("load device record", "error", err)
		return
	}
	if dev == nil {
		dev = &store.Device{}
	}

	own := a.client.OwnID()
	lid := a.client.OwnLID()
	if !own.IsEmpty() {
		dev.JID = own.ToNonAD().String()
	}
	if !lid.IsEmpty() {
		dev.LID = lid.ToNonAD().String()
	}
	if name := a.client.PushName(); name != "" {
		dev.PushName = name
	}
	dev.Initialized = true
	if err := a.protoStore.SaveDevice(ctx, *dev); err != nil {
		a.logger.Warn("save device record", "error", err)
	}

	if own.IsEmpty() || lid.IsEmpty() {
		return
	}
	now := time.Now().Unix()
	err = a.protoStore.PutLIDMapping(ctx, store.LIDMapping{
		LID:            lid.ToNonAD().String(),
		PhoneNumber:    own.ToNonAD().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
		LearningSource: "pairing",
	})
	if err != nil {
		a.logger.Warn("save lid mapping", "error", err)
	}
}

// isOwnJID reports whether j resolves to the account's own linked
// identity, by phone-number or LID user part.
func (a *AccountState) isOwnJID(j types.JID) bool {
	if j.User == "" {
		return false
	}
	if own := a.client.OwnID(); !own.IsEmpty() && own.User == j.User {
		return true
	}
	if lid := a.client.OwnLID(); !lid.IsEmpty() && lid.User == j.User {
		return true
	}
	return false
}

// handleMessage runs the inbound pipeline: loop guard, access gate, audit
// log, then routing. Owner self-chat messages bypass the gate.
func (a *AccountState) handleMessage(ctx context.Context, evt *events.Message) {
	info := evt.Info
	text := extractText(evt.Message)

	// Transports replay undelivered messages after a reconnect; drop ids
	// we already processed.
	if info.ID != "" && a.seen.IsDuplicate(info.Chat.String()+"/"+string(info.ID)) {
		a.logger.Debug("dropping replayed message", "message_id", info.ID)
		return
	}

	chatOwn := a.isOwnJID(info.Chat)
	senderOwn := a.isOwnJID(info.Sender)
	if info.IsFromMe || (chatOwn && senderOwn) {
		// Own traffic. Only self-chat deliveries may pass, and only when
		// they are not our own echoes.
		switch {
		case !(chatOwn && senderOwn):
			a.logger.Debug("dropping own message outside self-chat", "message_id", info.ID)
		case a.WasSentByUs(string(info.ID)):
			a.logger.Debug("dropping echo of sent message", "message_id", info.ID)
		case HasBotWatermark(text):
			a.logger.Debug("dropping watermarked message", "message_id", info.ID)
		default:
			// Genuine cross-device message from the owner.
			a.processMessage(ctx, evt, text)
		}
		return
	}

	cfg := a.Config()
	peerID := info.Sender.ToNonAD().String()
	allow, reason := CheckAccess(cfg, info.IsGroup, peerID, info.Sender.User, info.Chat.String())
	if !allow {
		a.logger.Warn("message denied", "peer", peerID, "reason", string(reason), "group", info.IsGroup)
		a.logMessage(ctx, info, text, false)
		a.emit(ctx, channels.ChannelEvent{
			Type:          channels.EventInboundMessage,
			PeerID:        peerID,
			Username:      info.Sender.User,
			SenderName:    info.PushName,
			AccessGranted: false,
		})
		if !info.IsGroup && reason == DenialNotOnAllowlist && cfg.OtpSelfApproval {
			a.handleOtpFlow(ctx, info, text)
		}
		return
	}

	a.processMessage(ctx, evt, text)
}

// processMessage logs, emits and routes one accepted message.
func (a *AccountState) processMessage(ctx context.Context, evt *events.Message, text string) {
	info := evt.Info
	a.logMessage(ctx, info, text, true)
	a.emit(ctx, channels.ChannelEvent{
		Type:          channels.EventInboundMessage,
		PeerID:        info.Sender.ToNonAD().String(),
		Username:      info.Sender.User,
		SenderName:    info.PushName,
		AccessGranted: true,
	})

	if cmd := strings.TrimSpace(text); strings.HasPrefix(cmd, "/") {
		a.handleCommand(ctx, info, cmd)
		return
	}
	a.route(ctx, evt, text)
}

// handleCommand dispatches slash commands and sends the response straight
// back to the chat instead of forwarding it to the backend.
func (a *AccountState) handleCommand(ctx context.Context, info types.MessageInfo, command string) {
	if a.sink == nil {
		return
	}
	resp, err := a.sink.DispatchCommand(ctx, command, a.replyTarget(info))
	if err != nil {
		resp = "Error: " + err.Error()
	}
	if resp == "" {
		return
	}
	a.reply(ctx, info.Chat, resp)
}

// handleOtpFlow runs the self-approval exchange for a denied DM sender.
// Non-code text while a challenge is pending is ignored without a reply so
// ordinary chatter from a denied user stays quiet.
func (a *AccountState) handleOtpFlow(ctx context.Context, info types.MessageInfo, text string) {
	peer := info.Sender.ToNonAD().String()
	candidate := strings.TrimSpace(text)

	if isOtpCandidate(candidate) {
		res := a.otp.Verify(peer, candidate)
		switch res.Outcome {
		case OtpApproved:
			a.allowPeer(peer)
			a.logger.Info("otp approved, peer allowlisted", "peer", peer)
			a.emit(ctx, channels.ChannelEvent{Type: channels.EventOtpResolved, PeerID: peer, Resolution: "approved"})
			a.reply(ctx, info.Chat, otpApprovedMsg)
			return
		case OtpWrongCode:
			a.reply(ctx, info.Chat, otpWrongCodeMsg(res.AttemptsLeft))
			return
		case OtpLockedOut:
			a.logger.Warn("otp locked out", "peer", peer)
			a.emit(ctx, channels.ChannelEvent{Type: channels.EventOtpResolved, PeerID: peer, Resolution: "locked_out"})
			a.reply(ctx, info.Chat, otpLockedOutMsg)
			return
		case OtpExpired:
			a.emit(ctx, channels.ChannelEvent{Type: channels.EventOtpResolved, PeerID: peer, Resolution: "expired"})
			a.reply(ctx, info.Chat, otpExpiredMsg)
			return
		case OtpNoPending:
			// A 6-digit first contact. Fall through to initiation.
		}
	} else if a.otp.HasPending(peer) {
		return
	}

	res, err := a.otp.Initiate(peer, info.Sender.User, info.PushName)
	if err != nil {
		a.logger.Error("initiate otp challenge", "peer", peer, "error", err)
		return
	}
	switch res.Outcome {
	case OtpCreated:
		a.logger.Info("otp challenge created", "peer", peer)
		a.emit(ctx, channels.ChannelEvent{
			Type:       channels.EventOtpChallenge,
			PeerID:     peer,
			Username:   info.Sender.User,
			SenderName: info.PushName,
			Code:       res.Code,
			ExpiresAt:  time.Now().Add(otpExpiry).Unix(),
		})
		a.reply(ctx, info.Chat, otpChallengeMsg)
	case OtpAlreadyPending:
		a.reply(ctx, info.Chat, otpChallengeMsg)
	case OtpInitLockedOut:
		a.reply(ctx, info.Chat, otpLockedOutMsg)
	}
}

// isOtpCandidate reports whether text looks like a challenge code: exactly
// six digits.
func isOtpCandidate(text string) bool {
	if len(text) != 6 {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// logMessage writes an audit entry. Failures are non-fatal.
func (a *AccountState) logMessage(ctx context.Context, info types.MessageInfo, text string, granted bool) {
	if a.messageLog == nil {
		return
	}
	chatType := "private"
	if info.IsGroup {
		chatType = "group"
	}
	entry := channels.MessageLogEntry{
		AccountID:     a.accountID,
		ChannelType:   channels.ChannelWhatsapp,
		PeerID:        info.Sender.ToNonAD().String(),
		Username:      info.Sender.User,
		SenderName:    info.PushName,
		ChatID:        info.Chat.String(),
		ChatType:      chatType,
		Body:          text,
		AccessGranted: granted,
		CreatedAt:     time.Now(),
	}
	if err := a.messageLog.Log(ctx, entry); err != nil {
		a.logger.Warn("write message log", "error", err)
	}
}

// reply sends text back to the chat, logging on failure.
func (a *AccountState) reply(ctx context.Context, chat types.JID, text string) {
	if _, err := a.SendText(ctx, chat, text); err != nil {
		a.logger.Warn("send reply", "chat", chat.String(), "error", err)
	}
}

func (a *AccountState) replyTarget(info types.MessageInfo) channels.ChannelReplyTarget {
	return channels.ChannelReplyTarget{
		ChannelType: channels.ChannelWhatsapp,
		AccountID:   a.accountID,
		ChatID:      info.Chat.String(),
		MessageID:   string(info.ID),
	}
}

// extractText pulls the plain-text body out of a message payload.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.GetConversation() != "" {
		return msg.GetConversation()
	}
	return msg.GetExtendedTextMessage().GetText()
}
