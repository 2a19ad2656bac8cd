package whatsapp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

// startConnection opens the store, builds the client and wires the event
// handler. The handler is registered before the AccountState exists, so it
// reads the state through a set-once cell; events arriving before the cell
// is filled are dropped with a debug log.
func (p *Plugin) startConnection(ctx context.Context, accountID string, cfg AccountConfig) (*AccountState, error) {
	st, err := store.OpenBolt(p.storeDir(accountID, cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client, err := p.factory(ctx, accountID, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build client: %w", err)
	}

	var cell atomic.Pointer[AccountState]
	client.AddEventHandler(func(evt any) {
		state := cell.Load()
		if state == nil {
			p.logger.Debug("event before account state ready", "account", accountID)
			return
		}
		state.handleEvent(context.Background(), evt)
	})

	runCtx, cancel := context.WithCancel(context.Background())
	state := newAccountState(accountID, cfg, client, p.messageLog, p.sink, p.logger)
	state.cancel = cancel
	state.closer = st
	state.protoStore = st
	cell.Store(state)

	if err := client.Connect(); err != nil {
		cancel()
		st.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	// The watcher owns teardown: it disconnects the client and closes the
	// store once the account is cancelled.
	go state.watchCancel(runCtx)

	return state, nil
}

// stop signals the account's teardown watcher.
func (a *AccountState) stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// watchCancel blocks until the account is cancelled, then tears down the
// transport and the store.
func (a *AccountState) watchCancel(ctx context.Context) {
	<-ctx.Done()
	a.client.Disconnect()
	a.connected.Store(false)
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	a.logger.Info("account event task exited")
}
