package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per record family. Families are fully independent:
// opening or writing one never touches another.
var (
	bucketIdentities    = []byte("identities")
	bucketSessions      = []byte("sessions")
	bucketPrekeys       = []byte("prekeys")
	bucketSignedPrekeys = []byte("signed_prekeys")
	bucketSenderKeys    = []byte("sender_keys")
	bucketSyncKeys      = []byte("sync_keys")
	bucketVersions      = []byte("app_state_versions")
	bucketMutationMACs  = []byte("mutation_macs")
	bucketMutationIdx   = []byte("mutation_mac_indexes")
	bucketDevice        = []byte("device")
	bucketDeviceID      = []byte("device_id")
	bucketSKDM          = []byte("skdm_recipients")
	bucketLIDMappings   = []byte("lid_mappings")
	bucketPNMappings    = []byte("pn_mappings")
	bucketDeviceLists   = []byte("device_lists")
	bucketForgetMarks   = []byte("forget_marks")
	bucketBaseKeys      = []byte("base_keys")
)

var allBuckets = [][]byte{
	bucketIdentities, bucketSessions, bucketPrekeys, bucketSignedPrekeys,
	bucketSenderKeys, bucketSyncKeys, bucketVersions, bucketMutationMACs,
	bucketMutationIdx, bucketDevice, bucketDeviceID, bucketSKDM,
	bucketLIDMappings, bucketPNMappings, bucketDeviceLists,
	bucketForgetMarks, bucketBaseKeys,
}

var (
	keyDevice    = []byte("device")
	keyDeviceCtr = []byte("counter")
)

// Bolt is the durable backend: one bbolt database per account, one bucket
// per record family. Session state survives restarts, including the
// device-id counter.
type Bolt struct {
	db       *bolt.DB
	deviceID atomic.Int32
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens (or creates) the store database under dir and loads the
// persisted device-id counter.
func OpenBolt(dir string) (*Bolt, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, backendErr(err)
	}
	db, err := bolt.Open(filepath.Join(dir, "store.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, backendErr(err)
	}

	s := &Bolt{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		if raw := tx.Bucket(bucketDeviceID).Get(keyDeviceCtr); len(raw) == 4 {
			s.deviceID.Store(int32(binary.LittleEndian.Uint32(raw)))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, backendErr(err)
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func u32Key(id uint32) []byte {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], id)
	return key[:]
}

// put writes one key in one bucket.
func (s *Bolt) put(bucket, key, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

// get reads one key from one bucket, copying the value out of the
// transaction. Returns nil when absent.
func (s *Bolt) get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, backendErr(err)
	}
	return out, nil
}

func (s *Bolt) delete(bucket, key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Bolt) putJSON(bucket, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return serializationErr(err)
	}
	return s.put(bucket, key, raw)
}

// getJSON decodes the value at key into out. Returns false when absent.
func (s *Bolt) getJSON(bucket, key []byte, out any) (bool, error) {
	raw, err := s.get(bucket, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, serializationErr(err)
	}
	return true, nil
}

// --- SignalStore ---

func (s *Bolt) PutIdentity(_ context.Context, address string, key [32]byte) error {
	return s.put(bucketIdentities, []byte(address), key[:])
}

func (s *Bolt) LoadIdentity(_ context.Context, address string) ([]byte, error) {
	return s.get(bucketIdentities, []byte(address))
}

func (s *Bolt) DeleteIdentity(_ context.Context, address string) error {
	return s.delete(bucketIdentities, []byte(address))
}

func (s *Bolt) GetSession(_ context.Context, address string) ([]byte, error) {
	return s.get(bucketSessions, []byte(address))
}

func (s *Bolt) HasSession(ctx context.Context, address string) (bool, error) {
	session, err := s.GetSession(ctx, address)
	return session != nil, err
}

func (s *Bolt) PutSession(_ context.Context, address string, session []byte) error {
	return s.put(bucketSessions, []byte(address), session)
}

func (s *Bolt) DeleteSession(_ context.Context, address string) error {
	return s.delete(bucketSessions, []byte(address))
}

func (s *Bolt) StorePreKey(_ context.Context, id uint32, record []byte, uploaded bool) error {
	return s.putJSON(bucketPrekeys, u32Key(id), preKeyRecord{Record: record, Uploaded: uploaded})
}

func (s *Bolt) LoadPreKey(_ context.Context, id uint32) ([]byte, error) {
	var rec preKeyRecord
	ok, err := s.getJSON(bucketPrekeys, u32Key(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Record, nil
}

func (s *Bolt) RemovePreKey(_ context.Context, id uint32) error {
	return s.delete(bucketPrekeys, u32Key(id))
}

func (s *Bolt) StoreSignedPreKey(_ context.Context, id uint32, record []byte) error {
	return s.put(bucketSignedPrekeys, u32Key(id), record)
}

func (s *Bolt) LoadSignedPreKey(_ context.Context, id uint32) ([]byte, error) {
	return s.get(bucketSignedPrekeys, u32Key(id))
}

func (s *Bolt) LoadAllSignedPreKeys(_ context.Context) ([]SignedPreKey, error) {
	out := []SignedPreKey{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignedPrekeys).ForEach(func(k, v []byte) error {
			if len(k) != 4 {
				return nil
			}
			out = append(out, SignedPreKey{
				ID:     binary.LittleEndian.Uint32(k),
				Record: append([]byte(nil), v...),
			})
			return nil
		})
	})
	if err != nil {
		return nil, backendErr(err)
	}
	return out, nil
}

func (s *Bolt) RemoveSignedPreKey(_ context.Context, id uint32) error {
	return s.delete(bucketSignedPrekeys, u32Key(id))
}

func (s *Bolt) PutSenderKey(_ context.Context, address string, record []byte) error {
	return s.put(bucketSenderKeys, []byte(address), record)
}

func (s *Bolt) GetSenderKey(_ context.Context, address string) ([]byte, error) {
	return s.get(bucketSenderKeys, []byte(address))
}

func (s *Bolt) DeleteSenderKey(_ context.Context, address string) error {
	return s.delete(bucketSenderKeys, []byte(address))
}

// --- AppStateStore ---

func (s *Bolt) GetSyncKey(_ context.Context, keyID []byte) (*SyncKey, error) {
	var key SyncKey
	ok, err := s.getJSON(bucketSyncKeys, keyID, &key)
	if err != nil || !ok {
		return nil, err
	}
	return &key, nil
}

func (s *Bolt) SetSyncKey(_ context.Context, keyID []byte, key SyncKey) error {
	return s.putJSON(bucketSyncKeys, keyID, key)
}

func (s *Bolt) GetVersion(_ context.Context, name string) (HashState, error) {
	var state HashState
	_, err := s.getJSON(bucketVersions, []byte(name), &state)
	return state, err
}

func (s *Bolt) SetVersion(_ context.Context, name string, state HashState) error {
	return s.putJSON(bucketVersions, []byte(name), state)
}

func (s *Bolt) PutMutationMACs(_ context.Context, name string, version uint64, mutations []MutationMAC) error {
	indexes := make([][]byte, 0, len(mutations))
	for _, mac := range mutations {
		indexes = append(indexes, mac.IndexMAC)
	}
	idxVal, err := json.Marshal(indexes)
	if err != nil {
		return serializationErr(err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		macs := tx.Bucket(bucketMutationMACs)
		for _, mac := range mutations {
			if err := macs.Put([]byte(macKey(name, version, mac.IndexMAC)), mac.ValueMAC); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMutationIdx).Put([]byte(fmt.Sprintf("%s:%d", name, version)), idxVal)
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Bolt) GetMutationMAC(_ context.Context, name string, indexMAC []byte) ([]byte, error) {
	prefix := []byte(name + ":")
	hexMAC := hex.EncodeToString(indexMAC)
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		macs := tx.Bucket(bucketMutationMACs)
		c := tx.Bucket(bucketMutationIdx).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if v := macs.Get([]byte(string(k) + ":" + hexMAC)); v != nil {
				out = append([]byte(nil), v...)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, backendErr(err)
	}
	return out, nil
}

func (s *Bolt) DeleteMutationMACs(_ context.Context, name string, indexMACs [][]byte) error {
	prefix := []byte(name + ":")
	err := s.db.Update(func(tx *bolt.Tx) error {
		macs := tx.Bucket(bucketMutationMACs)
		for _, indexMAC := range indexMACs {
			suffix := []byte(hex.EncodeToString(indexMAC))
			// The writing version is unknown; remove by suffix across all
			// versions of this name.
			var remove [][]byte
			c := macs.Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				if bytes.HasSuffix(k, suffix) {
					remove = append(remove, append([]byte(nil), k...))
				}
			}
			for _, k := range remove {
				if err := macs.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

// --- RoutingStore ---

func (s *Bolt) GetSKDMRecipients(_ context.Context, groupJID string) ([]string, error) {
	var out []string
	ok, err := s.getJSON(bucketSKDM, []byte(groupJID), &out)
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}

func (s *Bolt) AddSKDMRecipients(ctx context.Context, groupJID string, deviceJIDs []string) error {
	current, err := s.GetSKDMRecipients(ctx, groupJID)
	if err != nil {
		return err
	}
	return s.putJSON(bucketSKDM, []byte(groupJID), append(current, deviceJIDs...))
}

func (s *Bolt) ClearSKDMRecipients(_ context.Context, groupJID string) error {
	return s.delete(bucketSKDM, []byte(groupJID))
}

func (s *Bolt) GetLIDMapping(_ context.Context, lid string) (*LIDMapping, error) {
	var entry LIDMapping
	ok, err := s.getJSON(bucketLIDMappings, []byte(lid), &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (s *Bolt) GetPNMapping(ctx context.Context, phone string) (*LIDMapping, error) {
	lid, err := s.get(bucketPNMappings, []byte(phone))
	if err != nil || lid == nil {
		return nil, err
	}
	return s.GetLIDMapping(ctx, string(lid))
}

func (s *Bolt) PutLIDMapping(_ context.Context, entry LIDMapping) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return serializationErr(err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPNMappings).Put([]byte(entry.PhoneNumber), []byte(entry.LID)); err != nil {
			return err
		}
		return tx.Bucket(bucketLIDMappings).Put([]byte(entry.LID), raw)
	})
	if err != nil {
		return backendErr(err)
	}
	return nil
}

func (s *Bolt) AllLIDMappings(_ context.Context) ([]LIDMapping, error) {
	out := []LIDMapping{}
	var decodeErr error
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLIDMappings).ForEach(func(_, v []byte) error {
			var entry LIDMapping
			if err := json.Unmarshal(v, &entry); err != nil {
				decodeErr = serializationErr(err)
				return decodeErr
			}
			out = append(out, entry)
			return nil
		})
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err != nil {
		return nil, backendErr(err)
	}
	return out, nil
}

func (s *Bolt) SaveBaseKey(_ context.Context, address, messageID string, baseKey []byte) error {
	return s.put(bucketBaseKeys, []byte(baseKeyKey(address, messageID)), baseKey)
}

func (s *Bolt) HasSameBaseKey(_ context.Context, address, messageID string, baseKey []byte) (bool, error) {
	stored, err := s.get(bucketBaseKeys, []byte(baseKeyKey(address, messageID)))
	if err != nil {
		return false, err
	}
	return stored != nil && bytes.Equal(stored, baseKey), nil
}

func (s *Bolt) DeleteBaseKey(_ context.Context, address, messageID string) error {
	return s.delete(bucketBaseKeys, []byte(baseKeyKey(address, messageID)))
}

func (s *Bolt) UpdateDeviceList(_ context.Context, record DeviceListRecord) error {
	return s.putJSON(bucketDeviceLists, []byte(record.User), record)
}

func (s *Bolt) GetDevices(_ context.Context, user string) (*DeviceListRecord, error) {
	var record DeviceListRecord
	ok, err := s.getJSON(bucketDeviceLists, []byte(user), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (s *Bolt) MarkForgetSenderKey(_ context.Context, groupJID, participant string) error {
	return s.put(bucketForgetMarks, []byte(groupJID+":"+participant), []byte{1})
}

func (s *Bolt) ConsumeForgetMarks(_ context.Context, groupJID string) ([]string, error) {
	prefix := []byte(groupJID + ":")
	var participants []string
	// Single transaction: collect and clear atomically, so a second call
	// cannot observe (or re-consume) the same marks.
	err := s.db.Update(func(tx *bolt.Tx) error {
		marks := tx.Bucket(bucketForgetMarks)
		var remove [][]byte
		c := marks.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			participants = append(participants, string(k[len(prefix):]))
			remove = append(remove, append([]byte(nil), k...))
		}
		for _, k := range remove {
			if err := marks.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, backendErr(err)
	}
	return participants, nil
}

// --- DeviceStore ---

func (s *Bolt) SaveDevice(_ context.Context, device Device) error {
	return s.putJSON(bucketDevice, keyDevice, device)
}

func (s *Bolt) LoadDevice(_ context.Context) (*Device, error) {
	var device Device
	ok, err := s.getJSON(bucketDevice, keyDevice, &device)
	if err != nil || !ok {
		return nil, err
	}
	return &device, nil
}

func (s *Bolt) DeviceExists(_ context.Context) (bool, error) {
	raw, err := s.get(bucketDevice, keyDevice)
	return raw != nil, err
}

func (s *Bolt) CreateDeviceID(_ context.Context) (int32, error) {
	id := s.deviceID.Add(1) - 1
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(id+1))
	if err := s.put(bucketDeviceID, keyDeviceCtr, raw[:]); err != nil {
		return 0, err
	}
	return id, nil
}
