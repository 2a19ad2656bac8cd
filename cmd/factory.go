package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

// newClientFactory builds the production transport factory. The wire
// client keeps its cryptographic session in its own container next to the
// account's protocol store.
func newClientFactory(dataDir string) whatsapp.ClientFactory {
	return func(ctx context.Context, accountID string, _ store.Store) (whatsapp.Client, error) {
		dir := filepath.Join(dataDir, "whatsapp", accountID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create account dir: %w", err)
		}

		dsn := "file:" + filepath.Join(dir, "whatsmeow.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
		if err != nil {
			return nil, fmt.Errorf("open device container: %w", err)
		}
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}

		cli := whatsmeow.NewClient(device, waLog.Noop)
		return whatsapp.WrapClient(cli), nil
	}
}
