package whatsapp

// DenialReason says why the access gate rejected a message.
type DenialReason string

const (
	DenialDMsDisabled         DenialReason = "dms_disabled"
	DenialNotOnAllowlist      DenialReason = "not_on_allowlist"
	DenialGroupsDisabled      DenialReason = "groups_disabled"
	DenialGroupNotOnAllowlist DenialReason = "group_not_on_allowlist"
)

// CheckAccess decides whether a message from peerID (with optional
// username, in group groupID when isGroup) may reach the backend. It is a
// pure function of the config; nothing is cached, so allowlist edits take
// effect on the next check. The empty reason means allowed.
//
// Unknown policy values deny: the gate fails closed.
func CheckAccess(cfg AccountConfig, isGroup bool, peerID, username, groupID string) (bool, DenialReason) {
	cfg = cfg.normalized()

	if isGroup {
		switch cfg.GroupPolicy {
		case PolicyOpen:
			return true, ""
		case PolicyAllowlist:
			if isAllowed(cfg.GroupAllowlist, groupID) {
				return true, ""
			}
			return false, DenialGroupNotOnAllowlist
		default:
			return false, DenialGroupsDisabled
		}
	}

	switch cfg.DMPolicy {
	case PolicyOpen:
		return true, ""
	case PolicyAllowlist:
		if isAllowed(cfg.Allowlist, peerID) || (username != "" && isAllowed(cfg.Allowlist, username)) {
			return true, ""
		}
		return false, DenialNotOnAllowlist
	default:
		return false, DenialDMsDisabled
	}
}
