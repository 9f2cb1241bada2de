package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	key := "shipments/s1/documents/abc_invoice.pdf"
	u, err := s.Put(ctx, key, []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(u, "file://") || !strings.HasSuffix(u, "abc_invoice.pdf") {
		t.Errorf("url = %q", u)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "%PDF-1.4" {
		t.Errorf("data = %q", got)
	}

	if _, err := s.PresignGet(ctx, key, time.Minute); err != nil {
		t.Errorf("PresignGet: %v", err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if _, err := s.PresignGet(ctx, key, time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("PresignGet after delete: err = %v", err)
	}
}

func TestDiskStoreKeysStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewDiskStore(root)
	if err != nil {
		t.Fatal(err)
	}

	u, err := s.Put(ctx, "../../escape.txt", []byte("x"), "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.Contains(u, root) {
		t.Errorf("object written outside root: %s", u)
	}
	if _, err := s.Put(ctx, "/", []byte("x"), ""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestDocumentKey(t *testing.T) {
	a := DocumentKey("ship-1", "invoice.pdf")
	b := DocumentKey("ship-1", "invoice.pdf")
	if a == b {
		t.Error("keys for repeated uploads should differ")
	}
	if !strings.HasPrefix(a, "shipments/ship-1/documents/") || !strings.HasSuffix(a, "_invoice.pdf") {
		t.Errorf("key = %q", a)
	}
}
