package whatsapp

import (
	"fmt"
	"testing"
)

func TestWatermarkText(t *testing.T) {
	marked := WatermarkText("hello")
	if !HasBotWatermark(marked) {
		t.Error("HasBotWatermark() = false for watermarked text")
	}
	if HasBotWatermark("hello") {
		t.Error("HasBotWatermark() = true for plain text")
	}

	// Watermarking is idempotent.
	if again := WatermarkText(marked); again != marked {
		t.Errorf("WatermarkText() applied twice = %q, want %q", again, marked)
	}

	if got := StripBotWatermark(marked); got != "hello" {
		t.Errorf("StripBotWatermark() = %q, want %q", got, "hello")
	}
	if got := StripBotWatermark("hello"); got != "hello" {
		t.Errorf("StripBotWatermark() on plain text = %q, want %q", got, "hello")
	}

	// A truncated or reordered marker run is not a watermark.
	if HasBotWatermark("hello" + botWatermark[:len(botWatermark)/2]) {
		t.Error("HasBotWatermark() = true for a partial marker")
	}
	if HasBotWatermark("hello‌‍‌‍") {
		t.Error("HasBotWatermark() = true for a misordered marker")
	}
}

func TestSentIDRingEvictsFIFO(t *testing.T) {
	r := newSentIDRing()
	for i := 0; i < sentIDCapacity+10; i++ {
		r.record(fmt.Sprintf("MSG%d", i))
	}

	// The ten oldest ids were evicted.
	for i := 0; i < 10; i++ {
		if r.contains(fmt.Sprintf("MSG%d", i)) {
			t.Errorf("ring still contains evicted id MSG%d", i)
		}
	}
	if !r.contains("MSG10") {
		t.Error("ring lost MSG10, which should still fit")
	}
	if !r.contains(fmt.Sprintf("MSG%d", sentIDCapacity+9)) {
		t.Error("ring lost the newest id")
	}
}

func TestSentIDRingIgnoresEmptyAndDuplicates(t *testing.T) {
	r := newSentIDRing()
	r.record("")
	if r.contains("") {
		t.Error("ring recorded the empty id")
	}

	r.record("MSG1")
	r.record("MSG1")
	if len(r.ids) != 1 {
		t.Errorf("ring holds %d entries after duplicate record, want 1", len(r.ids))
	}
}

func TestUpdateConfigHotSwap(t *testing.T) {
	a := &AccountState{cfg: DefaultAccountConfig(), otp: NewOtpState(300)}

	cfg := a.Config()
	cfg.Allowlist = append(cfg.Allowlist, "111")
	cfg.DMPolicy = PolicyOpen
	a.UpdateConfig(cfg)

	got := a.Config()
	if got.DMPolicy != PolicyOpen || len(got.Allowlist) != 1 {
		t.Errorf("Config() after update = %+v", got)
	}
}

func TestAllowPeerAppendsOnce(t *testing.T) {
	a := &AccountState{cfg: DefaultAccountConfig(), otp: NewOtpState(300)}

	a.allowPeer("111@s.whatsapp.net")
	a.allowPeer("111@s.whatsapp.net")
	if got := a.Config().Allowlist; len(got) != 1 {
		t.Errorf("Allowlist = %v, want single entry", got)
	}
	if allow, _ := CheckAccess(a.Config(), false, "111@s.whatsapp.net", "", ""); !allow {
		t.Error("CheckAccess() = deny after allowPeer")
	}
}
