package storage

import (
	"bytes"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rel, err := s.Save(DirOriginaux, "contrat.pdf", []byte("%PDF-1.4 test"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rel != DirOriginaux+"/contrat.pdf" {
		t.Fatalf("unexpected rel path %q", rel)
	}
	data, err := s.Read(rel)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("%PDF-1.4 test")) {
		t.Fatalf("read back mismatch")
	}
	if err := s.Remove(rel); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Read(rel); err == nil {
		t.Fatalf("expected error reading removed file")
	}
	// remove is idempotent
	if err := s.Remove(rel); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestStoreSanitizesNames(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	rel, err := s.Save(DirSignatures, "../../evil.png", []byte("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rel != DirSignatures+"/evil.png" {
		t.Fatalf("path escape not neutralized: %q", rel)
	}
	if _, err := s.Save(DirSignatures, "   ", []byte("x")); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
