package whatsapp

import "strings"

// AccessPolicy controls who may talk to an account in a given context.
type AccessPolicy string

const (
	// PolicyDisabled rejects everything in that context.
	PolicyDisabled AccessPolicy = "disabled"
	// PolicyOpen accepts everyone.
	PolicyOpen AccessPolicy = "open"
	// PolicyAllowlist accepts only listed peers or groups. An empty list
	// under this policy denies everyone; it is never treated as open.
	PolicyAllowlist AccessPolicy = "allowlist"
)

// AccountConfig describes one bot account. It carries no identity of its
// own; display name and phone are filled in after pairing.
type AccountConfig struct {
	// StorePath overrides the store directory derived from the data root.
	StorePath string `json:"store_path,omitempty"`

	DisplayName string `json:"display_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Paired      bool   `json:"paired,omitempty"`

	// DefaultModel is a routing hint passed through to the backend.
	DefaultModel string `json:"default_model,omitempty"`

	DMPolicy       AccessPolicy `json:"dm_policy,omitempty"`
	GroupPolicy    AccessPolicy `json:"group_policy,omitempty"`
	Allowlist      []string     `json:"allowlist,omitempty"`
	GroupAllowlist []string     `json:"group_allowlist,omitempty"`

	// OtpSelfApproval lets a denied DM sender approve themselves onto the
	// allowlist by relaying a one-time code shown to the account owner.
	OtpSelfApproval bool  `json:"otp_self_approval"`
	OtpCooldownSecs int64 `json:"otp_cooldown_secs,omitempty"`
}

// DefaultAccountConfig returns the config applied to accounts with no
// explicit settings: DMs gated by allowlist, groups open, OTP escalation on.
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		DMPolicy:        PolicyAllowlist,
		GroupPolicy:     PolicyOpen,
		OtpSelfApproval: true,
		OtpCooldownSecs: 300,
	}
}

// normalized fills zero-valued policy fields with defaults so a partially
// specified config behaves predictably.
func (c AccountConfig) normalized() AccountConfig {
	if c.DMPolicy == "" {
		c.DMPolicy = PolicyAllowlist
	}
	if c.GroupPolicy == "" {
		c.GroupPolicy = PolicyOpen
	}
	if c.OtpCooldownSecs <= 0 {
		c.OtpCooldownSecs = 300
	}
	return c
}

// isAllowed reports whether id matches an allowlist entry, either exactly
// or by the user part of a JID-shaped entry ("123@s.whatsapp.net" matches
// "123").
func isAllowed(allowlist []string, id string) bool {
	if id == "" {
		return false
	}
	idUser, _, _ := strings.Cut(id, "@")
	for _, entry := range allowlist {
		if entry == id {
			return true
		}
		entryUser, _, hasDomain := strings.Cut(entry, "@")
		if hasDomain && entryUser == idUser && idUser != "" {
			return true
		}
		if !hasDomain && entry == idUser && idUser != "" {
			return true
		}
	}
	return false
}
