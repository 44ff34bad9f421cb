// Package correlation generates and propagates a per-request correlation
// identity through context.Context.
//
// A correlation id is created once per logical request by Manager.StartRequest
// and flows structurally through the call graph: every goroutine, timer, or
// deferred callback that receives the derived context observes the same id,
// and concurrently started requests never observe each other's id. The
// context value is read-only to consumers; it is written only at
// request-start boundaries.
package correlation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey struct{}

// Context is the correlation identity of one logical request.
// It is immutable after creation; async work borrows the same reference.
type Context struct {
	// ID is the opaque unique correlation id.
	ID string

	// Synthetic is true when the id was synthesized by Get because no
	// request context was established (a bug in the caller).
	Synthetic bool

	// Metadata carries optional request attributes (user id, client address).
	Metadata map[string]string
}

// Option configures a request context at creation time.
type Option func(*Context)

// WithMetadata attaches a metadata key/value to the request context.
func WithMetadata(key, value string) Option {
	return func(c *Context) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[key] = value
	}
}

// WithID uses an externally supplied correlation id (e.g. from an inbound
// header) instead of generating one.
func WithID(id string) Option {
	return func(c *Context) {
		if id != "" {
			c.ID = id
		}
	}
}

// FromContext returns the correlation context established on ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}

// ID returns the correlation id on ctx, or "" if none is established.
func ID(ctx context.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.ID
	}
	return ""
}

// Manager creates and reads request correlation contexts.
type Manager struct {
	log zerolog.Logger

	// lastWarnNano rate-limits the missing-context warning so a buggy hot
	// path cannot flood the log.
	lastWarnNano atomic.Int64
}

// NewManager creates a Manager. The logger may be a zerolog.Nop().
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "correlation").Logger()}
}

// StartRequest establishes a new correlation context for one logical request
// and returns the derived context. The correlation id is also attached to
// the zerolog logger carried by the context, so zerolog.Ctx(ctx) events are
// tagged automatically.
func (m *Manager) StartRequest(ctx context.Context, opts ...Option) (context.Context, *Context) {
	c := &Context{ID: uuid.NewString()}
	for _, opt := range opts {
		opt(c)
	}

	ctx = context.WithValue(ctx, contextKey{}, c)
	tagged := m.log.With().Str("correlation_id", c.ID).Logger()
	return tagged.WithContext(ctx), c
}

// Get reads the ambient correlation context. If none is established it
// synthesizes a fallback id, marks it synthetic, and emits a warning rather
// than failing the caller.
func (m *Manager) Get(ctx context.Context) *Context {
	if c, ok := FromContext(ctx); ok {
		return c
	}

	c := &Context{ID: uuid.NewString(), Synthetic: true}
	now := time.Now().UnixNano()
	last := m.lastWarnNano.Load()
	if now-last > int64(time.Second) && m.lastWarnNano.CompareAndSwap(last, now) {
		m.log.Warn().
			Str("correlation_id", c.ID).
			Msg("no correlation context established; synthesized fallback id")
	}
	return c
}

// GetID returns the ambient correlation id, synthesizing one if needed.
func (m *Manager) GetID(ctx context.Context) string {
	return m.Get(ctx).ID
}
