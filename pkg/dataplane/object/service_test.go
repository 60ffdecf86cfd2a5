package object

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/replicator-dev/replicator/internal/dbconn"
	"github.com/replicator-dev/replicator/pkg/dataplane/chunkstore"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	chunks, err := chunkstore.NewWithRoot(t.TempDir())
	if err != nil {
		t.Fatalf("chunk store: %v", err)
	}

	db, err := dbconn.Open(&dbconn.Config{
		Type:   dbconn.TypeSQLite,
		SQLite: dbconn.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	manifests, err := manifest.NewStore(db)
	if err != nil {
		t.Fatalf("manifest store: %v", err)
	}

	return NewService(chunks, manifests)
}

func TestIngestDownloadRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	data := []byte("hello world")
	res, err := s.Ingest(ctx, "hello", data, 5)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 3 || res.SizeBytes != 11 || res.ChunkSize != 5 {
		t.Errorf("unexpected result: %+v", res)
	}

	m, err := s.GetManifest(ctx, "hello")
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	want := []string{
		HashHex([]byte("hello")),
		HashHex([]byte(" worl")),
		HashHex([]byte("d")),
	}
	for i, h := range want {
		if m.Chunks[i] != h {
			t.Errorf("chunk %d hash = %s, want %s", i, m.Chunks[i], h)
		}
	}

	got, err := s.Download(ctx, "hello")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}
}

func TestIngestSizeNotMultipleOfChunkSize(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte{0xAB}, 2500)
	res, err := s.Ingest(ctx, "odd", data, 1024)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", res.Chunks)
	}

	got, err := s.Download(ctx, "odd")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("reassembly not exact")
	}
}

func TestIngestDeduplicatesChunks(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Four identical chunks collapse into one stored blob.
	data := bytes.Repeat([]byte("aaaa"), 4)
	res, err := s.Ingest(ctx, "dupes", data, 4)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 4 {
		t.Errorf("manifest chunks = %d, want 4", res.Chunks)
	}
	if res.NewChunks != 1 {
		t.Errorf("new chunks = %d, want 1", res.NewChunks)
	}
}

func TestIngestEmptyBody(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.Ingest(ctx, "empty", nil, 1024)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 0 || res.SizeBytes != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	got, err := s.Download(ctx, "empty")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Download = %q, want empty", got)
	}
}

func TestIngestRejectsBadChunkSize(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Ingest(context.Background(), "x", []byte("data"), 0); err == nil {
		t.Error("chunk_size 0 accepted")
	}
	if _, err := s.Ingest(context.Background(), "x", []byte("data"), -5); err == nil {
		t.Error("negative chunk_size accepted")
	}
}

func TestIngestOverwritesManifest(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, "obj", []byte("version one"), 4); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := s.Ingest(ctx, "obj", []byte("v2"), 4); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	got, err := s.Download(ctx, "obj")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Download = %q, want v2", got)
	}
}

func TestDownloadMissingChunk(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	// Install a manifest referencing a chunk that was never stored.
	phantom := HashHex([]byte("never stored"))
	err := s.PutManifest(ctx, &manifest.Manifest{
		ObjectID:  "broken",
		SizeBytes: 12,
		ChunkSize: 12,
		Chunks:    []string{phantom},
	})
	if err != nil {
		t.Fatalf("PutManifest: %v", err)
	}

	_, err = s.Download(ctx, "broken")
	var missing *MissingChunkError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingChunkError", err)
	}
	if missing.Hash != phantom {
		t.Errorf("missing hash = %s, want %s", missing.Hash, phantom)
	}
}

func TestDownloadUnknownObject(t *testing.T) {
	s := newTestService(t)
	_, err := s.Download(context.Background(), "ghost")
	if !errors.Is(err, manifest.ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}
