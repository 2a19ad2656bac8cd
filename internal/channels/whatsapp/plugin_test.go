package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
	"github.com/nextlevelbuilder/waclaw/internal/channels/whatsapp/store"
)

func newTestPlugin(t *testing.T) (*Plugin, *fakeClient, *fakeSink) {
	t.Helper()
	client := newFakeClient()
	sink := &fakeSink{}
	factory := func(_ context.Context, _ string, _ store.Store) (Client, error) {
		return client, nil
	}
	p := NewPlugin(t.TempDir(), factory, sink, nil, testLogger())
	return p, client, sink
}

func TestStartStopAccount(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)

	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	if !p.HasAccount("acct1") {
		t.Error("HasAccount() = false after start")
	}
	if got := p.AccountIDs(); len(got) != 1 || got[0] != "acct1" {
		t.Errorf("AccountIDs() = %v, want [acct1]", got)
	}
	if !client.IsConnected() {
		t.Error("client was not connected on start")
	}

	// Starting the same id again is an error.
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err == nil {
		t.Error("StartAccount() error = nil for duplicate id")
	}

	p.StopAccount("acct1")
	if p.HasAccount("acct1") {
		t.Error("HasAccount() = true after stop")
	}

	// Stopping an unknown id is a no-op.
	p.StopAccount("nope")
}

func TestStartAccountFactoryFailureRegistersNothing(t *testing.T) {
	sink := &fakeSink{}
	factory := func(_ context.Context, _ string, _ store.Store) (Client, error) {
		return nil, errors.New("no signal proto")
	}
	p := NewPlugin(t.TempDir(), factory, sink, nil, testLogger())

	if err := p.StartAccount(context.Background(), "acct1", DefaultAccountConfig()); err == nil {
		t.Fatal("StartAccount() error = nil, want factory failure")
	}
	if p.HasAccount("acct1") {
		t.Error("account registered despite factory failure")
	}
}

func TestStartAccounts(t *testing.T) {
	sink := &fakeSink{}
	factory := func(_ context.Context, _ string, _ store.Store) (Client, error) {
		return newFakeClient(), nil
	}
	p := NewPlugin(t.TempDir(), factory, sink, nil, testLogger())

	cfgs := map[string]AccountConfig{
		"acct1": DefaultAccountConfig(),
		"acct2": DefaultAccountConfig(),
	}
	if err := p.StartAccounts(context.Background(), cfgs); err != nil {
		t.Fatalf("StartAccounts() error = %v", err)
	}
	if got := p.AccountIDs(); len(got) != 2 {
		t.Errorf("AccountIDs() = %v, want 2 accounts", got)
	}
	p.StopAll()
	if got := p.AccountIDs(); len(got) != 0 {
		t.Errorf("AccountIDs() after StopAll = %v, want empty", got)
	}
}

func TestAccountConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")

	raw, err := p.AccountConfig("acct1")
	if err != nil {
		t.Fatalf("AccountConfig() error = %v", err)
	}
	var cfg AccountConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.DMPolicy != PolicyAllowlist {
		t.Errorf("DMPolicy = %q, want allowlist", cfg.DMPolicy)
	}

	cfg.Allowlist = []string{"111"}
	updated, _ := json.Marshal(cfg)
	if err := p.UpdateAccountConfig("acct1", updated); err != nil {
		t.Fatalf("UpdateAccountConfig() error = %v", err)
	}
	raw, _ = p.AccountConfig("acct1")
	var after AccountConfig
	json.Unmarshal(raw, &after)
	if len(after.Allowlist) != 1 || after.Allowlist[0] != "111" {
		t.Errorf("Allowlist after update = %v, want [111]", after.Allowlist)
	}

	if _, err := p.AccountConfig("ghost"); !errors.Is(err, channels.ErrUnknownAccount) {
		t.Errorf("AccountConfig(ghost) error = %v, want ErrUnknownAccount", err)
	}
	if err := p.UpdateAccountConfig("acct1", json.RawMessage("{bad")); !errors.Is(err, channels.ErrInvalidInput) {
		t.Errorf("UpdateAccountConfig(bad json) error = %v, want ErrInvalidInput", err)
	}
}

func TestLatestQRAndPNG(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")

	if _, err := p.LatestQRPNG("acct1", 0); !errors.Is(err, channels.ErrUnavailable) {
		t.Errorf("LatestQRPNG() with no code error = %v, want ErrUnavailable", err)
	}

	client.handler(&events.QR{Codes: []string{"pair-me"}})
	code, err := p.LatestQR("acct1")
	if err != nil || code != "pair-me" {
		t.Fatalf("LatestQR() = %q, %v, want pair-me", code, err)
	}

	png, err := p.LatestQRPNG("acct1", 0)
	if err != nil {
		t.Fatalf("LatestQRPNG() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("LatestQRPNG() did not return a PNG")
	}

	if _, err := p.LatestQR("ghost"); !errors.Is(err, channels.ErrUnknownAccount) {
		t.Errorf("LatestQR(ghost) error = %v, want ErrUnknownAccount", err)
	}
}

func TestProbeDetailsAndCaching(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)

	if snap := p.Probe("ghost"); snap.Connected || snap.Details != "account not started" {
		t.Errorf("Probe(ghost) = %+v", snap)
	}

	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")

	if snap := p.Probe("acct1"); snap.Connected || snap.Details != "disconnected" {
		t.Errorf("Probe() before pairing = %+v", snap)
	}

	// The result is cached: a state change is not visible until the entry
	// expires or is invalidated.
	client.handler(&events.Connected{})
	if snap := p.Probe("acct1"); snap.Connected {
		t.Errorf("Probe() = %+v, want the cached snapshot", snap)
	}

	p.probeCache.Remove("acct1")
	snap := p.Probe("acct1")
	if !snap.Connected || snap.Details != "WhatsApp: Waclaw Bot" {
		t.Errorf("Probe() after connect = %+v, want connected with display name", snap)
	}

	// Waiting-for-scan detail.
	p.probeCache.Remove("acct1")
	client.handler(&events.Disconnected{})
	client.handler(&events.QR{Codes: []string{"pair-me"}})
	if snap := p.Probe("acct1"); snap.Connected || snap.Details != "waiting for QR scan" {
		t.Errorf("Probe() with pending QR = %+v", snap)
	}
}

func TestPendingOtpChallengesSurface(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")

	// A denied DM creates a challenge visible through the façade.
	client.handler(inboundText(peerJID("16660002222"), peerJID("16660002222"), "hello"))

	pending, err := p.PendingOtpChallenges("acct1")
	if err != nil {
		t.Fatalf("PendingOtpChallenges() error = %v", err)
	}
	if len(pending) != 1 || pending[0].PeerID != "16660002222@s.whatsapp.net" {
		t.Errorf("PendingOtpChallenges() = %+v, want one for the peer", pending)
	}

	if _, err := p.PendingOtpChallenges("ghost"); !errors.Is(err, channels.ErrUnknownAccount) {
		t.Errorf("PendingOtpChallenges(ghost) error = %v, want ErrUnknownAccount", err)
	}
}

func TestOutboundSendText(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")
	if state, ok := p.account("acct1"); ok {
		state.limiter = makeUnlimited()
	}

	if err := p.SendText(ctx, "acct1", "16660002222@s.whatsapp.net", "hello", ""); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	last, ok := client.lastSent()
	if !ok {
		t.Fatal("nothing was sent")
	}
	if !HasBotWatermark(extractText(last.msg)) {
		t.Error("outbound text is missing the watermark")
	}

	// The sent id is tracked for echo suppression.
	state, _ := p.account("acct1")
	if !state.WasSentByUs(last.id) {
		t.Error("WasSentByUs() = false for a just-sent id")
	}

	if err := p.SendText(ctx, "ghost", "16660002222@s.whatsapp.net", "x", ""); !errors.Is(err, channels.ErrUnknownAccount) {
		t.Errorf("SendText(ghost) error = %v, want ErrUnknownAccount", err)
	}
	if err := p.SendText(ctx, "acct1", "not a jid at all \x00", "x", ""); !errors.Is(err, channels.ErrInvalidInput) {
		t.Errorf("SendText(bad jid) error = %v, want ErrInvalidInput", err)
	}
}

func TestSendStreamCollectsAndSendsOnce(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")
	if state, ok := p.account("acct1"); ok {
		state.limiter = makeUnlimited()
	}

	stream := make(chan channels.StreamEvent, 4)
	stream <- channels.StreamEvent{Delta: "Hello "}
	stream <- channels.StreamEvent{Delta: "world"}
	stream <- channels.StreamEvent{Done: true}
	close(stream)

	if err := p.SendStream(ctx, "acct1", "16660002222@s.whatsapp.net", "", stream); err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	last, ok := client.lastSent()
	if !ok {
		t.Fatal("nothing was sent")
	}
	if got := StripBotWatermark(extractText(last.msg)); got != "Hello world" {
		t.Errorf("streamed text = %q, want %q", got, "Hello world")
	}

	if p.StreamEnabled("acct1") {
		t.Error("StreamEnabled() = true, want false")
	}
}

func TestSendStreamErrorBeforeContentIsSurfaced(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")
	if state, ok := p.account("acct1"); ok {
		state.limiter = makeUnlimited()
	}

	stream := make(chan channels.StreamEvent, 1)
	stream <- channels.StreamEvent{Err: "backend timed out"}
	close(stream)

	if err := p.SendStream(ctx, "acct1", "16660002222@s.whatsapp.net", "", stream); err != nil {
		t.Fatalf("SendStream() error = %v", err)
	}
	last, ok := client.lastSent()
	if !ok {
		t.Fatal("nothing was sent")
	}
	if got := StripBotWatermark(extractText(last.msg)); got != "Error: backend timed out" {
		t.Errorf("streamed error text = %q", got)
	}
}

func TestSendStreamErrorAfterContentFails(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newTestPlugin(t)
	if err := p.StartAccount(ctx, "acct1", DefaultAccountConfig()); err != nil {
		t.Fatalf("StartAccount() error = %v", err)
	}
	defer p.StopAccount("acct1")
	if state, ok := p.account("acct1"); ok {
		state.limiter = makeUnlimited()
	}

	stream := make(chan channels.StreamEvent, 2)
	stream <- channels.StreamEvent{Delta: "partial"}
	stream <- channels.StreamEvent{Err: "backend died"}
	close(stream)

	err := p.SendStream(ctx, "acct1", "16660002222@s.whatsapp.net", "", stream)
	if !errors.Is(err, channels.ErrUnavailable) {
		t.Errorf("SendStream() error = %v, want ErrUnavailable", err)
	}
	if _, ok := client.lastSent(); ok {
		t.Error("partial content was sent after a stream failure")
	}
}
