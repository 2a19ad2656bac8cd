package channels

import (
	"context"
	"time"
)

// MessageLogEntry is one audited inbound message. AccessGranted records the
// actual gate decision, so denied traffic is visible in the log too.
type MessageLogEntry struct {
	ID            string
	AccountID     string
	ChannelType   ChannelType
	PeerID        string
	Username      string
	SenderName    string
	ChatID        string
	ChatType      string // "group" or "private"
	Body          string
	AccessGranted bool
	CreatedAt     time.Time
}

// MessageLog is an audit sink for inbound messages. Failures are non-fatal:
// callers log a warning and keep processing.
type MessageLog interface {
	Log(ctx context.Context, entry MessageLogEntry) error
}
