// Package media turns opaque storage references (gs://, s3://) into
// fetchable URLs and memoizes the result for the life of the process.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anonto42/nano-midea/realtime/internal/metrics"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

// Backend resolves references of one scheme.
type Backend interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, ref string) (string, error)

func (f BackendFunc) Resolve(ctx context.Context, ref string) (string, error) { return f(ctx, ref) }

// Router dispatches on the reference scheme. http and https references are
// already fetchable and pass through.
type Router map[string]Backend

func (r Router) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok {
		return "", resilience.InvalidArgument("media.resolve", "reference %q has no scheme", ref)
	}
	scheme = strings.ToLower(scheme)
	if scheme == "http" || scheme == "https" {
		return ref, nil
	}
	b, ok := r[scheme]
	if !ok {
		return "", resilience.InvalidArgument("media.resolve", "no backend for scheme %q", scheme)
	}
	return b.Resolve(ctx, ref)
}

// Cache memoizes resolved URLs. Entries are never invalidated. Concurrent
// misses on the same reference may each call the backend; every backend
// answers a reference the same way, so the last store wins.
type Cache struct {
	backend Backend
	policy  resilience.RetryPolicy
	logger  *slog.Logger
	entries sync.Map // ref -> url
}

type CacheOption func(*Cache)

func WithRetryPolicy(p resilience.RetryPolicy) CacheOption {
	return func(c *Cache) { c.policy = p }
}

func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

func NewCache(backend Backend, opts ...CacheOption) *Cache {
	c := &Cache{
		backend: backend,
		policy:  resilience.DefaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the URL for ref. An empty ref resolves to "".
func (c *Cache) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if v, ok := c.entries.Load(ref); ok {
		metrics.ResolverLookups.WithLabelValues("hit").Inc()
		return v.(string), nil
	}
	metrics.ResolverLookups.WithLabelValues("miss").Inc()

	url, err := resilience.RetryWithBackoff(ctx, "media.resolve", c.policy, func(ctx context.Context) (string, error) {
		return c.backend.Resolve(ctx, ref)
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	c.entries.Store(ref, url)
	return url, nil
}

// URL resolves ref for display. Failures are logged and yield "".
func (c *Cache) URL(ctx context.Context, ref string) string {
	url, err := c.Resolve(ctx, ref)
	if err != nil {
		c.logger.WarnContext(ctx, "media reference unresolved", "ref", ref, "error", err)
		return ""
	}
	return url
}

// Len reports the number of memoized references.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
