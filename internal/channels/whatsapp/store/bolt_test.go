package store

import (
	"context"
	"testing"
)

func TestBoltStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBolt(dir)
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	key := [32]byte{9, 9, 9}
	if err := s.PutIdentity(ctx, "peer.1", key); err != nil {
		t.Fatalf("PutIdentity() error = %v", err)
	}
	if err := s.PutSession(ctx, "peer.1", []byte("session")); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}
	if err := s.SaveDevice(ctx, Device{RegistrationID: 77, JID: "1:0@s.whatsapp.net"}); err != nil {
		t.Fatalf("SaveDevice() error = %v", err)
	}
	if id, err := s.CreateDeviceID(ctx); err != nil || id != 0 {
		t.Fatalf("CreateDeviceID() = %d, %v, want 0, nil", id, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenBolt(dir)
	if err != nil {
		t.Fatalf("OpenBolt() reopen error = %v", err)
	}
	defer s.Close()

	identity, err := s.LoadIdentity(ctx, "peer.1")
	if err != nil {
		t.Fatalf("LoadIdentity() after reopen error = %v", err)
	}
	if len(identity) != 32 || identity[0] != 9 {
		t.Errorf("LoadIdentity() after reopen = %x, want %x", identity, key)
	}
	session, err := s.GetSession(ctx, "peer.1")
	if err != nil {
		t.Fatalf("GetSession() after reopen error = %v", err)
	}
	if string(session) != "session" {
		t.Errorf("GetSession() after reopen = %q, want %q", session, "session")
	}
	device, err := s.LoadDevice(ctx)
	if err != nil {
		t.Fatalf("LoadDevice() after reopen error = %v", err)
	}
	if device == nil || device.RegistrationID != 77 {
		t.Errorf("LoadDevice() after reopen = %+v, want registration id 77", device)
	}

	// The device-id counter is persisted, not reset.
	id, err := s.CreateDeviceID(ctx)
	if err != nil {
		t.Fatalf("CreateDeviceID() after reopen error = %v", err)
	}
	if id != 1 {
		t.Errorf("CreateDeviceID() after reopen = %d, want 1", id)
	}
}
