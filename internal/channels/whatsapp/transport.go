package whatsapp

import (
	"context"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

// Client is the transport surface the account runtime needs. The real
// implementation wraps *whatsmeow.Client; tests substitute a fake.
type Client interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	Connect() error
	Disconnect()
	IsConnected() bool
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (whatsmeow.SendResponse, error)
	Download(ctx context.Context, message whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	SendChatPresence(ctx context.Context, chat types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error

	// OwnID and OwnLID return the account's linked identity as phone-number
	// and LID JIDs; zero JIDs before pairing.
	OwnID() types.JID
	OwnLID() types.JID
	PushName() string
}

// ClientFactory builds a transport client on top of an account's protocol
// store. Called once per StartAccount.
type ClientFactory func(ctx context.Context, accountID string, st store.Store) (Client, error)

// waClient adapts *whatsmeow.Client to the Client interface.
type waClient struct {
	*whatsmeow.Client
}

var _ Client = (*waClient)(nil)

// WrapClient wraps a connected or to-be-connected whatsmeow client.
func WrapClient(cli *whatsmeow.Client) Client {
	return &waClient{Client: cli}
}

func (c *waClient) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (whatsmeow.SendResponse, error) {
	return c.Client.SendMessage(ctx, to, message)
}

func (c *waClient) OwnID() types.JID {
	if c.Store == nil || c.Store.ID == nil {
		return types.EmptyJID
	}
	return *c.Store.ID
}

func (c *waClient) OwnLID() types.JID {
	if c.Store == nil {
		return types.EmptyJID
	}
	return c.Store.LID
}

func (c *waClient) PushName() string {
	if c.Store == nil {
		return ""
	}
	return c.Store.PushName
}
