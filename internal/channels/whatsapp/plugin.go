package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

const probeCacheTTL = 30 * time.Second

// Plugin is the account runtime façade: it owns the registry of active
// accounts and exposes lifecycle, introspection and health probing.
type Plugin struct {
	dataDir    string
	factory    ClientFactory
	sink       channels.EventSink
	messageLog channels.MessageLog
	logger     *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*AccountState

	// probeCache bounds the cost of repeated status queries; entries are
	// replaced wholesale on refresh.
	probeCache *expirable.LRU[string, channels.HealthSnapshot]
}

// NewPlugin builds the runtime. dataDir is the data root; durable stores
// live under <dataDir>/whatsapp/<account-id>/. messageLog may be nil.
func NewPlugin(dataDir string, factory ClientFactory, sink channels.EventSink,
	messageLog channels.MessageLog, logger *slog.Logger) *Plugin {

	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		dataDir:    dataDir,
		factory:    factory,
		sink:       sink,
		messageLog: messageLog,
		logger:     logger.With("channel", "whatsapp"),
		accounts:   make(map[string]*AccountState),
		probeCache: expirable.NewLRU[string, channels.HealthSnapshot](128, nil, probeCacheTTL),
	}
}

// storeDir resolves the durable store directory for an account.
func (p *Plugin) storeDir(accountID string, cfg AccountConfig) string {
	if cfg.StorePath != "" {
		return cfg.StorePath
	}
	return filepath.Join(p.dataDir, "whatsapp", accountID)
}

// StartAccount opens the account's store, builds the transport client,
// wires the event task and registers the account. On any failure nothing
// is registered.
func (p *Plugin) StartAccount(ctx context.Context, accountID string, cfg AccountConfig) error {
	p.mu.RLock()
	_, exists := p.accounts[accountID]
	p.mu.RUnlock()
	if exists {
		return channels.InvalidInput("account %s is already started", accountID)
	}

	state, err := p.startConnection(ctx, accountID, cfg)
	if err != nil {
		return fmt.Errorf("start account %s: %w", accountID, err)
	}

	p.mu.Lock()
	p.accounts[accountID] = state
	p.mu.Unlock()
	p.probeCache.Remove(accountID)

	p.logger.Info("account started", "account", accountID)
	return nil
}

// StartAccounts starts every account in the map, concurrently. The first
// error aborts the remaining starts.
func (p *Plugin) StartAccounts(ctx context.Context, cfgs map[string]AccountConfig) error {
	g, ctx := errgroup.WithContext(ctx)
	for id, cfg := range cfgs {
		g.Go(func() error {
			return p.StartAccount(ctx, id, cfg)
		})
	}
	return g.Wait()
}

// StopAccount signals the account's event task and removes it from the
// registry. An unknown id is a no-op with a warning.
func (p *Plugin) StopAccount(accountID string) {
	p.mu.Lock()
	state, ok := p.accounts[accountID]
	if ok {
		delete(p.accounts, accountID)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Warn("stop requested for unknown account", "account", accountID)
		return
	}
	state.stop()
	p.probeCache.Remove(accountID)
	p.logger.Info("account stopped", "account", accountID)
}

// StopAll stops every active account.
func (p *Plugin) StopAll() {
	for _, id := range p.AccountIDs() {
		p.StopAccount(id)
	}
}

func (p *Plugin) account(accountID string) (*AccountState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.accounts[accountID]
	return state, ok
}

// AccountIDs lists active account ids, sorted.
func (p *Plugin) AccountIDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.accounts))
	for id := range p.accounts {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (p *Plugin) HasAccount(accountID string) bool {
	_, ok := p.account(accountID)
	return ok
}

// AccountConfig returns the account's current config as raw JSON.
func (p *Plugin) AccountConfig(accountID string) (json.RawMessage, error) {
	state, ok := p.account(accountID)
	if !ok {
		return nil, channels.UnknownAccount(accountID)
	}
	raw, err := json.Marshal(state.Config())
	if err != nil {
		return nil, fmt.Errorf("encode config for %s: %w", accountID, err)
	}
	return raw, nil
}

// UpdateAccountConfig hot-swaps the account's config from raw JSON without
// reconnecting. Omitted policy fields keep their defaults.
func (p *Plugin) UpdateAccountConfig(accountID string, raw json.RawMessage) error {
	state, ok := p.account(accountID)
	if !ok {
		return channels.UnknownAccount(accountID)
	}
	var cfg AccountConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return channels.InvalidInput("decode config for %s: %v", accountID, err)
	}
	state.UpdateConfig(cfg)
	p.logger.Info("account config updated", "account", accountID)
	return nil
}

// LatestQR returns the most recent pairing QR code, empty once connected.
func (p *Plugin) LatestQR(accountID string) (string, error) {
	state, ok := p.account(accountID)
	if !ok {
		return "", channels.UnknownAccount(accountID)
	}
	return state.LatestQR(), nil
}

// LatestQRPNG renders the pending pairing code as a PNG image.
func (p *Plugin) LatestQRPNG(accountID string, size int) ([]byte, error) {
	code, err := p.LatestQR(accountID)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, channels.Unavailable("account %s has no pending pairing code", accountID)
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr for %s: %w", accountID, err)
	}
	return png, nil
}

// PendingOtpChallenges lists the account's non-expired OTP challenges.
func (p *Plugin) PendingOtpChallenges(accountID string) ([]OtpChallengeInfo, error) {
	state, ok := p.account(accountID)
	if !ok {
		return nil, channels.UnknownAccount(accountID)
	}
	return state.otp.ListPending(), nil
}

// Probe reports the account's connectivity. Results are cached for 30
// seconds per account.
func (p *Plugin) Probe(accountID string) channels.HealthSnapshot {
	if snap, ok := p.probeCache.Get(accountID); ok {
		return snap
	}

	snap := channels.HealthSnapshot{AccountID: accountID}
	state, ok := p.account(accountID)
	switch {
	case !ok:
		snap.Details = "account not started"
	case state.Connected():
		snap.Connected = true
		if name := state.client.PushName(); name != "" {
			snap.Details = "WhatsApp: " + name
		} else {
			snap.Details = "WhatsApp: connected"
		}
	case state.LatestQR() != "":
		snap.Details = "waiting for QR scan"
	default:
		snap.Details = "disconnected"
	}

	p.probeCache.Add(accountID, snap)
	return snap
}
