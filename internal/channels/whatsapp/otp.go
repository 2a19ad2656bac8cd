package whatsapp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

const (
	otpExpiry      = 5 * time.Minute
	otpMaxAttempts = 3
)

// otpChallengeMsg is sent to a denied DM sender when a challenge is
// created (or is still pending).
const otpChallengeMsg = "This number is not on the allowlist. " +
	"A one-time code was shown to the account owner; reply with it here to get access."

// OtpInitOutcome is the result of trying to start a challenge.
type OtpInitOutcome int

const (
	OtpCreated OtpInitOutcome = iota
	OtpAlreadyPending
	OtpInitLockedOut
)

// OtpVerifyOutcome is the result of checking a candidate code.
type OtpVerifyOutcome int

const (
	OtpApproved OtpVerifyOutcome = iota
	OtpWrongCode
	OtpLockedOut
	OtpExpired
	OtpNoPending
)

// OtpInitResult carries the outcome of Initiate plus the generated code
// when one was created.
type OtpInitResult struct {
	Outcome OtpInitOutcome
	Code    string
}

// OtpVerifyResult carries the outcome of Verify plus the remaining
// attempts after a wrong code.
type OtpVerifyResult struct {
	Outcome      OtpVerifyOutcome
	AttemptsLeft int
}

// OtpChallengeInfo is a read-only snapshot of one pending challenge.
type OtpChallengeInfo struct {
	PeerID     string    `json:"peer_id"`
	Username   string    `json:"username,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type otpChallenge struct {
	code       string
	username   string
	senderName string
	issuedAt   time.Time
	expiresAt  time.Time
	attempts   int
}

// OtpState tracks pending challenges and post-lockout cooldowns for one
// account. At most one challenge exists per peer. All methods are safe for
// concurrent use; the mutex is never held while calling out.
type OtpState struct {
	mu            sync.Mutex
	cooldown      time.Duration
	pending       map[string]*otpChallenge
	cooldownUntil map[string]time.Time
	now           func() time.Time
}

// NewOtpState builds an empty challenge table with the given post-lockout
// cooldown.
func NewOtpState(cooldownSecs int64) *OtpState {
	if cooldownSecs <= 0 {
		cooldownSecs = 300
	}
	return &OtpState{
		cooldown:      time.Duration(cooldownSecs) * time.Second,
		pending:       make(map[string]*otpChallenge),
		cooldownUntil: make(map[string]time.Time),
		now:           time.Now,
	}
}

// generateOtpCode returns a random 6-digit numeric code, zero-padded.
func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Initiate starts a challenge for peer. If a non-expired challenge already
// exists the same code stays valid and AlreadyPending is returned, so the
// caller resends the prompt without generating a new code. During a
// post-lockout cooldown no new challenge can be created.
func (o *OtpState) Initiate(peerID, username, senderName string) (OtpInitResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if until, ok := o.cooldownUntil[peerID]; ok {
		if now.Before(until) {
			return OtpInitResult{Outcome: OtpInitLockedOut}, nil
		}
		delete(o.cooldownUntil, peerID)
	}

	if ch, ok := o.pending[peerID]; ok {
		if now.Before(ch.expiresAt) {
			return OtpInitResult{Outcome: OtpAlreadyPending}, nil
		}
		delete(o.pending, peerID)
	}

	code, err := generateOtpCode()
	if err != nil {
		return OtpInitResult{}, err
	}
	o.pending[peerID] = &otpChallenge{
		code:       code,
		username:   username,
		senderName: senderName,
		issuedAt:   now,
		expiresAt:  now.Add(otpExpiry),
	}
	return OtpInitResult{Outcome: OtpCreated, Code: code}, nil
}

// Verify checks candidate against peer's pending challenge. A correct code
// clears the challenge; persisting the allowlist addition is the caller's
// job. The third wrong attempt clears the challenge and starts the
// cooldown.
func (o *OtpState) Verify(peerID, candidate string) OtpVerifyResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch, ok := o.pending[peerID]
	if !ok {
		return OtpVerifyResult{Outcome: OtpNoPending}
	}

	now := o.now()
	if !now.Before(ch.expiresAt) {
		delete(o.pending, peerID)
		return OtpVerifyResult{Outcome: OtpExpired}
	}

	if candidate == ch.code {
		delete(o.pending, peerID)
		return OtpVerifyResult{Outcome: OtpApproved}
	}

	ch.attempts++
	if ch.attempts >= otpMaxAttempts {
		delete(o.pending, peerID)
		o.cooldownUntil[peerID] = now.Add(o.cooldown)
		return OtpVerifyResult{Outcome: OtpLockedOut}
	}
	return OtpVerifyResult{Outcome: OtpWrongCode, AttemptsLeft: otpMaxAttempts - ch.attempts}
}

// HasPending reports whether peer has a non-expired challenge.
func (o *OtpState) HasPending(peerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.pending[peerID]
	return ok && o.now().Before(ch.expiresAt)
}

// ListPending snapshots all non-expired challenges.
func (o *OtpState) ListPending() []OtpChallengeInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	out := make([]OtpChallengeInfo, 0, len(o.pending))
	for peer, ch := range o.pending {
		if !now.Before(ch.expiresAt) {
			continue
		}
		out = append(out, OtpChallengeInfo{
			PeerID:     peer,
			Username:   ch.username,
			SenderName: ch.senderName,
			Code:       ch.code,
			ExpiresAt:  ch.expiresAt,
		})
	}
	return out
}
