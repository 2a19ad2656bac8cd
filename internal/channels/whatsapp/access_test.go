package whatsapp

import "testing"

func TestCheckAccessDMs(t *testing.T) {
	tests := []struct {
		name       string
		cfg        AccountConfig
		peerID     string
		username   string
		wantAllow  bool
		wantReason DenialReason
	}{
		{
			name:       "disabled denies everyone",
			cfg:        AccountConfig{DMPolicy: PolicyDisabled},
			peerID:     "111@s.whatsapp.net",
			wantAllow:  false,
			wantReason: DenialDMsDisabled,
		},
		{
			name:      "open allows everyone",
			cfg:       AccountConfig{DMPolicy: PolicyOpen},
			peerID:    "111@s.whatsapp.net",
			wantAllow: true,
		},
		{
			name:       "allowlist empty denies everyone",
			cfg:        AccountConfig{DMPolicy: PolicyAllowlist},
			peerID:     "111@s.whatsapp.net",
			username:   "someone",
			wantAllow:  false,
			wantReason: DenialNotOnAllowlist,
		},
		{
			name:      "allowlist matches exact peer id",
			cfg:       AccountConfig{DMPolicy: PolicyAllowlist, Allowlist: []string{"111@s.whatsapp.net"}},
			peerID:    "111@s.whatsapp.net",
			wantAllow: true,
		},
		{
			name:      "allowlist matches jid user part",
			cfg:       AccountConfig{DMPolicy: PolicyAllowlist, Allowlist: []string{"111"}},
			peerID:    "111@s.whatsapp.net",
			wantAllow: true,
		},
		{
			name:      "allowlist matches username",
			cfg:       AccountConfig{DMPolicy: PolicyAllowlist, Allowlist: []string{"alice"}},
			peerID:    "222@s.whatsapp.net",
			username:  "alice",
			wantAllow: true,
		},
		{
			name:       "allowlist misses unlisted peer",
			cfg:        AccountConfig{DMPolicy: PolicyAllowlist, Allowlist: []string{"111"}},
			peerID:     "222@s.whatsapp.net",
			username:   "bob",
			wantAllow:  false,
			wantReason: DenialNotOnAllowlist,
		},
		{
			name:       "unknown policy fails closed",
			cfg:        AccountConfig{DMPolicy: "everyone"},
			peerID:     "111@s.whatsapp.net",
			wantAllow:  false,
			wantReason: DenialDMsDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason := CheckAccess(tt.cfg, false, tt.peerID, tt.username, "")
			if allow != tt.wantAllow {
				t.Errorf("CheckAccess() allow = %v, want %v", allow, tt.wantAllow)
			}
			if reason != tt.wantReason {
				t.Errorf("CheckAccess() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCheckAccessGroups(t *testing.T) {
	tests := []struct {
		name       string
		cfg        AccountConfig
		groupID    string
		wantAllow  bool
		wantReason DenialReason
	}{
		{
			name:       "disabled denies",
			cfg:        AccountConfig{GroupPolicy: PolicyDisabled},
			groupID:    "g1@g.us",
			wantAllow:  false,
			wantReason: DenialGroupsDisabled,
		},
		{
			name:      "open allows",
			cfg:       AccountConfig{GroupPolicy: PolicyOpen},
			groupID:   "g1@g.us",
			wantAllow: true,
		},
		{
			name:       "allowlist empty denies",
			cfg:        AccountConfig{GroupPolicy: PolicyAllowlist},
			groupID:    "g1@g.us",
			wantAllow:  false,
			wantReason: DenialGroupNotOnAllowlist,
		},
		{
			name:      "allowlist matches group",
			cfg:       AccountConfig{GroupPolicy: PolicyAllowlist, GroupAllowlist: []string{"g1@g.us"}},
			groupID:   "g1@g.us",
			wantAllow: true,
		},
		{
			name:       "allowlist misses other group",
			cfg:        AccountConfig{GroupPolicy: PolicyAllowlist, GroupAllowlist: []string{"g1@g.us"}},
			groupID:    "g2@g.us",
			wantAllow:  false,
			wantReason: DenialGroupNotOnAllowlist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason := CheckAccess(tt.cfg, true, "111@s.whatsapp.net", "", tt.groupID)
			if allow != tt.wantAllow {
				t.Errorf("CheckAccess() allow = %v, want %v", allow, tt.wantAllow)
			}
			if reason != tt.wantReason {
				t.Errorf("CheckAccess() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

// Removing the last allowlist entry must revoke access immediately; no
// prior "allowed" result may be cached.
func TestAllowlistRemovalRevokesAccess(t *testing.T) {
	cfg := AccountConfig{DMPolicy: PolicyAllowlist, Allowlist: []string{"111"}}
	if allow, _ := CheckAccess(cfg, false, "111@s.whatsapp.net", "", ""); !allow {
		t.Fatal("CheckAccess() = deny for listed peer")
	}

	cfg.Allowlist = nil
	allow, reason := CheckAccess(cfg, false, "111@s.whatsapp.net", "", "")
	if allow {
		t.Error("CheckAccess() = allow after allowlist emptied")
	}
	if reason != DenialNotOnAllowlist {
		t.Errorf("CheckAccess() reason = %q, want %q", reason, DenialNotOnAllowlist)
	}

	gcfg := AccountConfig{GroupPolicy: PolicyAllowlist, GroupAllowlist: []string{"g1@g.us"}}
	if allow, _ := CheckAccess(gcfg, true, "111@s.whatsapp.net", "", "g1@g.us"); !allow {
		t.Fatal("CheckAccess() = deny for listed group")
	}
	gcfg.GroupAllowlist = []string{}
	if allow, _ := CheckAccess(gcfg, true, "111@s.whatsapp.net", "", "g1@g.us"); allow {
		t.Error("CheckAccess() = allow after group allowlist emptied")
	}
}

func TestDefaultAccountConfig(t *testing.T) {
	cfg := DefaultAccountConfig()
	if cfg.DMPolicy != PolicyAllowlist {
		t.Errorf("DMPolicy = %q, want %q", cfg.DMPolicy, PolicyAllowlist)
	}
	if cfg.GroupPolicy != PolicyOpen {
		t.Errorf("GroupPolicy = %q, want %q", cfg.GroupPolicy, PolicyOpen)
	}
	if !cfg.OtpSelfApproval {
		t.Error("OtpSelfApproval = false, want true")
	}
	if cfg.OtpCooldownSecs != 300 {
		t.Errorf("OtpCooldownSecs = %d, want 300", cfg.OtpCooldownSecs)
	}
}
