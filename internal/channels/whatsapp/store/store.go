// Package store persists the end-to-end-encryption session state a WhatsApp
// transport client needs: Signal key material, app-state sync bookkeeping,
// cross-device routing records, and the device registration itself.
//
// Two interchangeable backends implement the same contract: Memory (ephemeral,
// for tests and throwaway sessions) and Bolt (durable, one database per
// account, survives restarts so the user does not re-scan the QR code).
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSerialization marks a record that could not be encoded or decoded.
	ErrSerialization = errors.New("store: serialization")

	// ErrBackend marks a storage-engine failure (I/O, corruption).
	ErrBackend = errors.New("store: backend")
)

func serializationErr(err error) error {
	return fmt.Errorf("%w: %v", ErrSerialization, err)
}

func backendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

// SignedPreKey pairs a signed-prekey ID with its serialized record.
type SignedPreKey struct {
	ID     uint32
	Record []byte
}

// SyncKey is an app-state sync key with its fingerprint and issue time.
type SyncKey struct {
	KeyData     []byte `json:"key_data"`
	Fingerprint []byte `json:"fingerprint"`
	Timestamp   int64  `json:"timestamp"`
}

// HashState is the hash-chain cursor for one app-state collection.
type HashState struct {
	Version uint64 `json:"version"`
	Hash    []byte `json:"hash"`
}

// MutationMAC authenticates one app-state mutation, addressed by the MAC of
// its index.
type MutationMAC struct {
	IndexMAC []byte
	ValueMAC []byte
}

// LIDMapping links the two identifier forms of one account: the linked
// identifier (LID) and the phone number (PN), with learning provenance.
type LIDMapping struct {
	LID            string `json:"lid"`
	PhoneNumber    string `json:"phone_number"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	LearningSource string `json:"learning_source"`
}

// DeviceEntry is one device in a user's device list.
type DeviceEntry struct {
	DeviceID int32   `json:"device_id"`
	KeyIndex *uint32 `json:"key_index,omitempty"`
}

// DeviceListRecord is the known device set for one user, with the revision
// timestamp and optional participant hash the server reported.
type DeviceListRecord struct {
	User      string        `json:"user"`
	Devices   []DeviceEntry `json:"devices"`
	Timestamp int64         `json:"timestamp"`
	PHash     string        `json:"phash,omitempty"`
}

// Device is the local device registration record. Opaque to everything but
// the transport client; stored as a single JSON document.
type Device struct {
	ID             int32  `json:"id"`
	RegistrationID uint32 `json:"registration_id"`
	NoiseKey       []byte `json:"noise_key"`
	IdentityKey    []byte `json:"identity_key"`
	SignedPreKey   []byte `json:"signed_pre_key"`
	AdvSecretKey   []byte `json:"adv_secret_key"`
	JID            string `json:"jid,omitempty"`
	LID            string `json:"lid,omitempty"`
	PushName       string `json:"push_name,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Initialized    bool   `json:"initialized"`
}

// SignalStore holds identity keys, pairwise sessions, prekeys and group
// sender keys. Absent records are returned as nil, not as errors.
type SignalStore interface {
	PutIdentity(ctx context.Context, address string, key [32]byte) error
	LoadIdentity(ctx context.Context, address string) ([]byte, error)
	DeleteIdentity(ctx context.Context, address string) error

	GetSession(ctx context.Context, address string) ([]byte, error)
	HasSession(ctx context.Context, address string) (bool, error)
	PutSession(ctx context.Context, address string, session []byte) error
	DeleteSession(ctx context.Context, address string) error

	StorePreKey(ctx context.Context, id uint32, record []byte, uploaded bool) error
	LoadPreKey(ctx context.Context, id uint32) ([]byte, error)
	RemovePreKey(ctx context.Context, id uint32) error

	StoreSignedPreKey(ctx context.Context, id uint32, record []byte) error
	LoadSignedPreKey(ctx context.Context, id uint32) ([]byte, error)
	// LoadAllSignedPreKeys returns every stored signed prekey; empty storage
	// yields an empty slice, not an error.
	LoadAllSignedPreKeys(ctx context.Context) ([]SignedPreKey, error)
	RemoveSignedPreKey(ctx context.Context, id uint32) error

	PutSenderKey(ctx context.Context, address string, record []byte) error
	GetSenderKey(ctx context.Context, address string) ([]byte, error)
	DeleteSenderKey(ctx context.Context, address string) error
}

// AppStateStore holds app-state sync keys, version cursors and mutation MACs.
//
// Mutation MACs are written per (name, version) batch but looked up and
// deleted by (name, index MAC) alone, because the caller does not know which
// version a MAC was recorded at. Backends therefore keep a per-version index
// and scan candidate versions on lookup, and delete by suffix match across
// all versions.
type AppStateStore interface {
	GetSyncKey(ctx context.Context, keyID []byte) (*SyncKey, error)
	SetSyncKey(ctx context.Context, keyID []byte, key SyncKey) error

	// GetVersion returns the zero HashState when no cursor exists yet.
	GetVersion(ctx context.Context, name string) (HashState, error)
	SetVersion(ctx context.Context, name string, state HashState) error

	PutMutationMACs(ctx context.Context, name string, version uint64, mutations []MutationMAC) error
	GetMutationMAC(ctx context.Context, name string, indexMAC []byte) ([]byte, error)
	DeleteMutationMACs(ctx context.Context, name string, indexMACs [][]byte) error
}

// RoutingStore holds cross-device delivery state: sender-key distribution
// recipients, LID↔PN mappings, per-user device lists, sender-key forget
// marks, and replay-protection base keys.
type RoutingStore interface {
	GetSKDMRecipients(ctx context.Context, groupJID string) ([]string, error)
	AddSKDMRecipients(ctx context.Context, groupJID string, deviceJIDs []string) error
	ClearSKDMRecipients(ctx context.Context, groupJID string) error

	GetLIDMapping(ctx context.Context, lid string) (*LIDMapping, error)
	// GetPNMapping resolves a phone number through the reverse index to the
	// full mapping record.
	GetPNMapping(ctx context.Context, phone string) (*LIDMapping, error)
	PutLIDMapping(ctx context.Context, entry LIDMapping) error
	AllLIDMappings(ctx context.Context) ([]LIDMapping, error)

	SaveBaseKey(ctx context.Context, address, messageID string, baseKey []byte) error
	HasSameBaseKey(ctx context.Context, address, messageID string, baseKey []byte) (bool, error)
	DeleteBaseKey(ctx context.Context, address, messageID string) error

	UpdateDeviceList(ctx context.Context, record DeviceListRecord) error
	GetDevices(ctx context.Context, user string) (*DeviceListRecord, error)

	MarkForgetSenderKey(ctx context.Context, groupJID, participant string) error
	// ConsumeForgetMarks atomically returns and clears every mark for the
	// group; an immediate second call returns empty.
	ConsumeForgetMarks(ctx context.Context, groupJID string) ([]string, error)
}

// DeviceStore holds the local device registration and allocates device IDs.
type DeviceStore interface {
	SaveDevice(ctx context.Context, device Device) error
	LoadDevice(ctx context.Context) (*Device, error)
	DeviceExists(ctx context.Context) (bool, error)
	// CreateDeviceID allocates the next device ID. The durable backend
	// persists the counter so IDs never repeat across restarts.
	CreateDeviceID(ctx context.Context) (int32, error)
}

// Store is the full capability set a transport client is built against.
type Store interface {
	SignalStore
	AppStateStore
	RoutingStore
	DeviceStore
}
