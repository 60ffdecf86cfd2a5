package migrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicator-dev/replicator/internal/httpx"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
	"github.com/replicator-dev/replicator/pkg/dataplane/object"
)

// fakeNode is a minimal in-memory data-plane node for engine tests.
type fakeNode struct {
	mu        sync.Mutex
	chunks    map[string][]byte
	manifests map[string]*manifest.Manifest

	headCount int32
	getCount  int32
	putCount  int32
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		chunks:    make(map[string][]byte),
		manifests: make(map[string]*manifest.Manifest),
	}
}

func (n *fakeNode) addObject(t *testing.T, objectID string, data []byte, chunkSize int) {
	t.Helper()
	var hashes []string
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		h := object.HashHex(chunk)
		n.chunks[h] = chunk
		hashes = append(hashes, h)
	}
	n.manifests[objectID] = &manifest.Manifest{
		ObjectID:  objectID,
		SizeBytes: int64(len(data)),
		ChunkSize: int64(chunkSize),
		Chunks:    hashes,
	}
}

func (n *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chunks/", func(w http.ResponseWriter, r *http.Request) {
		hash := r.URL.Path[len("/chunks/"):]
		n.mu.Lock()
		defer n.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			atomic.AddInt32(&n.headCount, 1)
			if _, ok := n.chunks[hash]; ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodGet:
			atomic.AddInt32(&n.getCount, 1)
			data, ok := n.chunks[hash]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		case http.MethodPut:
			atomic.AddInt32(&n.putCount, 1)
			data, _ := io.ReadAll(r.Body)
			n.chunks[hash] = data
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/objects/", func(w http.ResponseWriter, r *http.Request) {
		// Path is /objects/{id}/manifest
		id := r.URL.Path[len("/objects/"):]
		id = id[:len(id)-len("/manifest")]
		n.mu.Lock()
		defer n.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			m, ok := n.manifests[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(m)
		case http.MethodPut:
			var m manifest.Manifest
			if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			m.ObjectID = id
			n.manifests[id] = &m
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "manifest_saved"})
		}
	})
	return mux
}

func fastConfig() Config {
	return Config{
		MaxConcurrency: 4,
		RatePerSec:     1000,
		Burst:          1000,
		Retry: httpx.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
}

func startNodes(t *testing.T, src, dst *fakeNode) (string, string) {
	t.Helper()
	srcSrv := httptest.NewServer(src.handler())
	dstSrv := httptest.NewServer(dst.handler())
	t.Cleanup(srcSrv.Close)
	t.Cleanup(dstSrv.Close)
	return srcSrv.URL, dstSrv.URL
}

func TestMigrateFullObject(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	data := []byte("the quick brown fox jumps over the lazy dog")
	src.addObject(t, "fox", data, 8)
	srcURL, dstURL := startNodes(t, src, dst)

	engine := NewEngine(fastConfig())
	report, err := engine.Migrate(context.Background(), srcURL, dstURL, "fox")
	require.NoError(t, err)

	assert.Equal(t, 6, report.TotalChunks)
	assert.Equal(t, 6, report.MissingChunks)
	assert.Equal(t, 6, report.CopiedChunks)
	assert.Equal(t, int64(len(data)), report.BytesCopied)

	// Destination now has the manifest and every chunk.
	m := dst.manifests["fox"]
	require.NotNil(t, m)
	require.Len(t, m.Chunks, 6)
	for _, h := range m.Chunks {
		assert.Contains(t, dst.chunks, h)
	}
}

func TestMigrateSkipsPresentChunks(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	data := []byte("aaaabbbbccccdddd")
	src.addObject(t, "obj", data, 4)

	// Pre-seed two of the four chunks on the destination.
	for _, part := range []string{"aaaa", "cccc"} {
		dst.chunks[object.HashHex([]byte(part))] = []byte(part)
	}
	srcURL, dstURL := startNodes(t, src, dst)

	engine := NewEngine(fastConfig())
	report, err := engine.Migrate(context.Background(), srcURL, dstURL, "obj")
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalChunks)
	assert.Equal(t, 2, report.MissingChunks)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.getCount))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dst.putCount))
}

func TestMigrateDeduplicatesRepeatedHashes(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	// Four identical chunks: one unique hash.
	data := []byte("xxxxxxxxxxxxxxxx")
	src.addObject(t, "dupes", data, 4)
	srcURL, dstURL := startNodes(t, src, dst)

	engine := NewEngine(fastConfig())
	report, err := engine.Migrate(context.Background(), srcURL, dstURL, "dupes")
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalChunks)
	assert.Equal(t, 1, report.UniqueChunks)
	assert.Equal(t, 1, report.CopiedChunks)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dst.headCount))
}

func TestMigrateRetriesTransientErrors(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	data := []byte("retry payload")
	src.addObject(t, "flaky", data, 16)

	var failures int32
	flakyDst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail the first two requests, then behave.
		if atomic.AddInt32(&failures, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		dst.handler().ServeHTTP(w, r)
	}))
	t.Cleanup(flakyDst.Close)
	srcSrv := httptest.NewServer(src.handler())
	t.Cleanup(srcSrv.Close)

	engine := NewEngine(fastConfig())
	report, err := engine.Migrate(context.Background(), srcSrv.URL, flakyDst.URL, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, report.CopiedChunks)
	require.NotNil(t, dst.manifests["flaky"])
}

func TestMigrateStopsOnPermanentError(t *testing.T) {
	src := newFakeNode()
	src.addObject(t, "obj", []byte("data"), 4)
	srcSrv := httptest.NewServer(src.handler())
	t.Cleanup(srcSrv.Close)

	var probes int32
	dstSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(dstSrv.Close)

	engine := NewEngine(fastConfig())
	_, err := engine.Migrate(context.Background(), srcSrv.URL, dstSrv.URL, "obj")
	require.Error(t, err)
	// A 403 probe is not retried.
	assert.Equal(t, int32(1), atomic.LoadInt32(&probes))
}

func TestMigrateUnknownObject(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	srcURL, dstURL := startNodes(t, src, dst)

	engine := NewEngine(fastConfig())
	_, err := engine.Migrate(context.Background(), srcURL, dstURL, "ghost")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httpx.StatusCode(err))
}

func TestMigrateRejectsEmptyChunkList(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	src.manifests["empty"] = &manifest.Manifest{
		ObjectID:  "empty",
		SizeBytes: 0,
		ChunkSize: 1024,
		Chunks:    []string{},
	}
	srcURL, dstURL := startNodes(t, src, dst)

	engine := NewEngine(fastConfig())
	_, err := engine.Migrate(context.Background(), srcURL, dstURL, "empty")
	require.Error(t, err)
	assert.Nil(t, dst.manifests["empty"])
}

func TestMigrateCancelled(t *testing.T) {
	src, dst := newFakeNode(), newFakeNode()
	src.addObject(t, "obj", []byte("some data here"), 4)
	srcURL, dstURL := startNodes(t, src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(fastConfig())
	_, err := engine.Migrate(ctx, srcURL, dstURL, "obj")
	require.Error(t, err)
}
