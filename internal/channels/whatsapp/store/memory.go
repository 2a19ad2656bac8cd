package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Memory is the ephemeral backend: plain maps behind one lock per store.
// Nothing survives the process; pairing state is lost on restart.
type Memory struct {
	mu sync.RWMutex

	identities     map[string][]byte
	sessions       map[string][]byte
	prekeys        map[uint32]preKeyRecord
	signedPrekeys  map[uint32][]byte
	senderKeys     map[string][]byte
	syncKeys       map[string]SyncKey
	versions       map[string]HashState
	mutationMACs   map[string][]byte   // "{name}:{version}:{hex(indexMAC)}"
	mutationIdx    map[string][][]byte // "{name}:{version}" → index MACs at that version
	skdmRecipients map[string][]string
	lidMappings    map[string]LIDMapping
	pnMappings     map[string]string // phone → LID reverse index
	deviceLists    map[string]DeviceListRecord
	forgetMarks    map[string]bool // "{group}:{participant}"
	baseKeys       map[string][]byte

	device   *Device
	deviceID atomic.Int32
}

type preKeyRecord struct {
	Record   []byte `json:"record"`
	Uploaded bool   `json:"uploaded"`
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		identities:     make(map[string][]byte),
		sessions:       make(map[string][]byte),
		prekeys:        make(map[uint32]preKeyRecord),
		signedPrekeys:  make(map[uint32][]byte),
		senderKeys:     make(map[string][]byte),
		syncKeys:       make(map[string]SyncKey),
		versions:       make(map[string]HashState),
		mutationMACs:   make(map[string][]byte),
		mutationIdx:    make(map[string][][]byte),
		skdmRecipients: make(map[string][]string),
		lidMappings:    make(map[string]LIDMapping),
		pnMappings:     make(map[string]string),
		deviceLists:    make(map[string]DeviceListRecord),
		forgetMarks:    make(map[string]bool),
		baseKeys:       make(map[string][]byte),
	}
}

// cloneBytes copies b so callers cannot alias stored state.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- SignalStore ---

func (m *Memory) PutIdentity(_ context.Context, address string, key [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[address] = cloneBytes(key[:])
	return nil
}

func (m *Memory) LoadIdentity(_ context.Context, address string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBytes(m.identities[address]), nil
}

func (m *Memory) DeleteIdentity(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, address)
	return nil
}

func (m *Memory) GetSession(_ context.Context, address string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBytes(m.sessions[address]), nil
}

func (m *Memory) HasSession(_ context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[address]
	return ok, nil
}

func (m *Memory) PutSession(_ context.Context, address string, session []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[address] = cloneBytes(session)
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, address)
	return nil
}

func (m *Memory) StorePreKey(_ context.Context, id uint32, record []byte, uploaded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prekeys[id] = preKeyRecord{Record: cloneBytes(record), Uploaded: uploaded}
	return nil
}

func (m *Memory) LoadPreKey(_ context.Context, id uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.prekeys[id]
	if !ok {
		return nil, nil
	}
	return cloneBytes(rec.Record), nil
}

func (m *Memory) RemovePreKey(_ context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prekeys, id)
	return nil
}

func (m *Memory) StoreSignedPreKey(_ context.Context, id uint32, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedPrekeys[id] = cloneBytes(record)
	return nil
}

func (m *Memory) LoadSignedPreKey(_ context.Context, id uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBytes(m.signedPrekeys[id]), nil
}

func (m *Memory) LoadAllSignedPreKeys(_ context.Context) ([]SignedPreKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SignedPreKey, 0, len(m.signedPrekeys))
	for id, rec := range m.signedPrekeys {
		out = append(out, SignedPreKey{ID: id, Record: cloneBytes(rec)})
	}
	return out, nil
}

func (m *Memory) RemoveSignedPreKey(_ context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signedPrekeys, id)
	return nil
}

func (m *Memory) PutSenderKey(_ context.Context, address string, record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senderKeys[address] = cloneBytes(record)
	return nil
}

func (m *Memory) GetSenderKey(_ context.Context, address string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBytes(m.senderKeys[address]), nil
}

func (m *Memory) DeleteSenderKey(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.senderKeys, address)
	return nil
}

// --- AppStateStore ---

func (m *Memory) GetSyncKey(_ context.Context, keyID []byte) (*SyncKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.syncKeys[string(keyID)]
	if !ok {
		return nil, nil
	}
	out := SyncKey{
		KeyData:     cloneBytes(key.KeyData),
		Fingerprint: cloneBytes(key.Fingerprint),
		Timestamp:   key.Timestamp,
	}
	return &out, nil
}

func (m *Memory) SetSyncKey(_ context.Context, keyID []byte, key SyncKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncKeys[string(keyID)] = SyncKey{
		KeyData:     cloneBytes(key.KeyData),
		Fingerprint: cloneBytes(key.Fingerprint),
		Timestamp:   key.Timestamp,
	}
	return nil
}

func (m *Memory) GetVersion(_ context.Context, name string) (HashState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.versions[name]
	state.Hash = cloneBytes(state.Hash)
	return state, nil
}

func (m *Memory) SetVersion(_ context.Context, name string, state HashState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.Hash = cloneBytes(state.Hash)
	m.versions[name] = state
	return nil
}

func macKey(name string, version uint64, indexMAC []byte) string {
	return fmt.Sprintf("%s:%d:%s", name, version, hex.EncodeToString(indexMAC))
}

func (m *Memory) PutMutationMACs(_ context.Context, name string, version uint64, mutations []MutationMAC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	indexes := make([][]byte, 0, len(mutations))
	for _, mac := range mutations {
		m.mutationMACs[macKey(name, version, mac.IndexMAC)] = cloneBytes(mac.ValueMAC)
		indexes = append(indexes, cloneBytes(mac.IndexMAC))
	}
	m.mutationIdx[fmt.Sprintf("%s:%d", name, version)] = indexes
	return nil
}

func (m *Memory) GetMutationMAC(_ context.Context, name string, indexMAC []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// The version a MAC was written at is unknown; scan candidate versions.
	prefix := name + ":"
	hexMAC := hex.EncodeToString(indexMAC)
	for versionKey := range m.mutationIdx {
		if !strings.HasPrefix(versionKey, prefix) {
			continue
		}
		if value, ok := m.mutationMACs[versionKey+":"+hexMAC]; ok {
			return cloneBytes(value), nil
		}
	}
	return nil, nil
}

func (m *Memory) DeleteMutationMACs(_ context.Context, name string, indexMACs [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := name + ":"
	for _, indexMAC := range indexMACs {
		hexMAC := hex.EncodeToString(indexMAC)
		for key := range m.mutationMACs {
			if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, hexMAC) {
				delete(m.mutationMACs, key)
			}
		}
	}
	return nil
}

// --- RoutingStore ---

func (m *Memory) GetSKDMRecipients(_ context.Context, groupJID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.skdmRecipients[groupJID]...), nil
}

func (m *Memory) AddSKDMRecipients(_ context.Context, groupJID string, deviceJIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skdmRecipients[groupJID] = append(m.skdmRecipients[groupJID], deviceJIDs...)
	return nil
}

func (m *Memory) ClearSKDMRecipients(_ context.Context, groupJID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.skdmRecipients, groupJID)
	return nil
}

func (m *Memory) GetLIDMapping(_ context.Context, lid string) (*LIDMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.lidMappings[lid]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *Memory) GetPNMapping(_ context.Context, phone string) (*LIDMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lid, ok := m.pnMappings[phone]
	if !ok {
		return nil, nil
	}
	entry, ok := m.lidMappings[lid]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *Memory) PutLIDMapping(_ context.Context, entry LIDMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnMappings[entry.PhoneNumber] = entry.LID
	m.lidMappings[entry.LID] = entry
	return nil
}

func (m *Memory) AllLIDMappings(_ context.Context) ([]LIDMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LIDMapping, 0, len(m.lidMappings))
	for _, entry := range m.lidMappings {
		out = append(out, entry)
	}
	return out, nil
}

func baseKeyKey(address, messageID string) string {
	return address + ":" + messageID
}

func (m *Memory) SaveBaseKey(_ context.Context, address, messageID string, baseKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseKeys[baseKeyKey(address, messageID)] = cloneBytes(baseKey)
	return nil
}

func (m *Memory) HasSameBaseKey(_ context.Context, address, messageID string, baseKey []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.baseKeys[baseKeyKey(address, messageID)]
	return ok && string(stored) == string(baseKey), nil
}

func (m *Memory) DeleteBaseKey(_ context.Context, address, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.baseKeys, baseKeyKey(address, messageID))
	return nil
}

func (m *Memory) UpdateDeviceList(_ context.Context, record DeviceListRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceLists[record.User] = record
	return nil
}

func (m *Memory) GetDevices(_ context.Context, user string) (*DeviceListRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.deviceLists[user]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *Memory) MarkForgetSenderKey(_ context.Context, groupJID, participant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgetMarks[groupJID+":"+participant] = true
	return nil
}

func (m *Memory) ConsumeForgetMarks(_ context.Context, groupJID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := groupJID + ":"
	var participants []string
	for key := range m.forgetMarks {
		if strings.HasPrefix(key, prefix) {
			participants = append(participants, strings.TrimPrefix(key, prefix))
			delete(m.forgetMarks, key)
		}
	}
	return participants, nil
}

// --- DeviceStore ---

func (m *Memory) SaveDevice(_ context.Context, device Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = &device
	return nil
}

func (m *Memory) LoadDevice(_ context.Context) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.device == nil {
		return nil, nil
	}
	device := *m.device
	return &device, nil
}

func (m *Memory) DeviceExists(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device != nil, nil
}

func (m *Memory) CreateDeviceID(_ context.Context) (int32, error) {
	return m.deviceID.Add(1) - 1, nil
}
