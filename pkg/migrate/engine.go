// Package migrate implements chunk-delta object migration between data-plane
// nodes: fetch the source manifest, probe the destination for each chunk, copy
// only the missing ones, then install the manifest.
package migrate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/replicator-dev/replicator/internal/httpx"
	"github.com/replicator-dev/replicator/internal/logger"
	"github.com/replicator-dev/replicator/pkg/dataplane/manifest"
)

// Defaults for the transfer knobs.
const (
	DefaultMaxConcurrency = 4
	DefaultRatePerSec     = 20
	DefaultBurst          = 20
)

// Config tunes one engine instance.
type Config struct {
	// MaxConcurrency bounds parallel chunk copies per migration.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	// RatePerSec and Burst feed the shared token-bucket limiter over all
	// outbound transfer requests.
	RatePerSec float64 `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `mapstructure:"burst" yaml:"burst"`

	// RequestTimeout is the per-request total timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Retry is the schedule applied to each HTTP operation.
	Retry httpx.RetryConfig `mapstructure:"retry" yaml:"retry"`
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
}

// Report summarizes one completed migration.
type Report struct {
	ObjectID     string
	TotalChunks  int
	UniqueChunks int
	// MissingChunks is how many unique chunks the destination lacked.
	MissingChunks int
	// CopiedChunks equals MissingChunks on success.
	CopiedChunks int
	BytesCopied  int64
}

// Engine copies objects between nodes. One engine is shared by all jobs so
// the rate limiter applies globally.
type Engine struct {
	client  *httpx.Client
	limiter *rate.Limiter
	cfg     Config
}

// NewEngine creates an engine with the given transfer configuration.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		client:  httpx.NewClient(cfg.RequestTimeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:     cfg,
	}
}

func joinURL(base string, parts ...string) string {
	b := strings.TrimRight(base, "/")
	for _, p := range parts {
		b += "/" + url.PathEscape(p)
	}
	return b
}

// fetchManifest downloads the source manifest with retries.
func (e *Engine) fetchManifest(ctx context.Context, srcBase, objectID string) (*manifest.Manifest, error) {
	var m manifest.Manifest
	err := httpx.Retry(ctx, e.cfg.Retry, func() error {
		return e.client.GetJSON(ctx, joinURL(srcBase, "objects", objectID, "manifest"), &m)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch manifest for %q: %w", objectID, err)
	}
	return &m, nil
}

// probeMissing HEADs each unique chunk on the destination and returns the
// hashes not present there. Probes run sequentially; the copy phase is the
// parallel part. A 404 means missing, 2xx means present, any other status is
// fatal after retries.
func (e *Engine) probeMissing(ctx context.Context, dstBase string, hashes []string) ([]string, error) {
	var missing []string
	for _, h := range hashes {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var code int
		err := httpx.Retry(ctx, e.cfg.Retry, func() error {
			var err error
			code, err = e.client.HeadStatus(ctx, joinURL(dstBase, "chunks", h))
			if err != nil {
				return err
			}
			if code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
				return &httpx.StatusError{Code: code}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("probe chunk %s: %w", h, err)
		}

		switch {
		case code >= 200 && code <= 299:
			// Already on the destination.
		case code == http.StatusNotFound:
			missing = append(missing, h)
		default:
			return nil, fmt.Errorf("probe chunk %s: unexpected status %d", h, code)
		}
	}
	return missing, nil
}

// copyChunk pulls one chunk from the source and pushes it to the destination,
// each step with its own retry schedule.
func (e *Engine) copyChunk(ctx context.Context, srcBase, dstBase, hash string) (int64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var data []byte
	err := httpx.Retry(ctx, e.cfg.Retry, func() error {
		var err error
		data, err = e.client.GetBytes(ctx, joinURL(srcBase, "chunks", hash))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get chunk %s: %w", hash, err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	err = httpx.Retry(ctx, e.cfg.Retry, func() error {
		return e.client.PutBytes(ctx, joinURL(dstBase, "chunks", hash), data)
	})
	if err != nil {
		return 0, fmt.Errorf("put chunk %s: %w", hash, err)
	}
	return int64(len(data)), nil
}

// dedupe returns the unique hashes in first-seen order.
func dedupe(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Migrate replicates objectID from the source node to the destination node.
// The destination manifest is installed only after every missing chunk copy
// has completed, so a reader never sees a manifest referencing absent chunks.
func (e *Engine) Migrate(ctx context.Context, srcBase, dstBase, objectID string) (*Report, error) {
	m, err := e.fetchManifest(ctx, srcBase, objectID)
	if err != nil {
		return nil, err
	}
	if len(m.Chunks) == 0 {
		return nil, fmt.Errorf("manifest for %q has no chunks", objectID)
	}

	unique := dedupe(m.Chunks)
	missing, err := e.probeMissing(ctx, dstBase, unique)
	if err != nil {
		return nil, err
	}

	logger.Debug("migration plan",
		"object_id", objectID,
		"total_chunks", len(m.Chunks),
		"unique_chunks", len(unique),
		"missing_chunks", len(missing),
	)

	var bytesCopied int64
	if len(missing) > 0 {
		copied := make([]int64, len(missing))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxConcurrency)
		for i, h := range missing {
			g.Go(func() error {
				n, err := e.copyChunk(gctx, srcBase, dstBase, h)
				if err != nil {
					return err
				}
				copied[i] = n
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, n := range copied {
			bytesCopied += n
		}
	}

	// Manifest install strictly after all chunk copies.
	err = httpx.Retry(ctx, e.cfg.Retry, func() error {
		return e.client.PutJSON(ctx, joinURL(dstBase, "objects", objectID, "manifest"), m)
	})
	if err != nil {
		return nil, fmt.Errorf("install manifest for %q: %w", objectID, err)
	}

	return &Report{
		ObjectID:      objectID,
		TotalChunks:   len(m.Chunks),
		UniqueChunks:  len(unique),
		MissingChunks: len(missing),
		CopiedChunks:  len(missing),
		BytesCopied:   bytesCopied,
	}, nil
}
