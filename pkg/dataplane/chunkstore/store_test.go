package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewWithRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewWithRoot: %v", err)
	}
	return s
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("hello world")
	h := hashOf(data)

	if s.Exists(h) {
		t.Fatal("chunk should not exist before write")
	}
	if err := s.Write(h, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists(h) {
		t.Fatal("chunk should exist after write")
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read = %q, want %q", got, data)
	}
	if hashOf(got) != h {
		t.Error("stored chunk does not satisfy its hash")
	}
}

func TestPrefixLayout(t *testing.T) {
	s := newTestStore(t)
	data := []byte("layout")
	h := hashOf(data)

	if err := s.Write(h, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := filepath.Join(s.Root(), h[:2], h)
	if _, err := os.Stat(want); err != nil {
		t.Errorf("chunk not at <root>/<prefix>/<hash>: %v", err)
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read(hashOf([]byte("nope")))
	if !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("err = %v, want ErrChunkNotFound", err)
	}
}

func TestWriteIdempotent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("immutable")
	h := hashOf(data)

	if err := s.Write(h, data); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	// Second write with different bytes must not clobber the stored chunk;
	// the store trusts the first write for a given hash.
	if err := s.Write(h, []byte("other bytes")); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("chunk was rewritten: %q", got)
	}
}

func TestNoTemporaryFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)
	data := []byte("tidy")
	h := hashOf(data)

	if err := s.Write(h, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	err := filepath.Walk(s.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.Contains(filepath.Base(path), ".tmp-") {
			t.Errorf("leftover temp file: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}

func TestConcurrentWritersSameHash(t *testing.T) {
	s := newTestStore(t)
	data := []byte("contended chunk")
	h := hashOf(data)

	const writers = 8
	start := make(chan struct{})
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			<-start
			errs <- s.Write(h, data)
		}()
	}
	close(start)
	for i := 0; i < writers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Write: %v", err)
		}
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hashOf(got) != h {
		t.Error("stored chunk does not satisfy its hash")
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty root")
	}
}
