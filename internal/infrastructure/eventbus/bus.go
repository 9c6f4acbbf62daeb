// Package eventbus dispatches pipeline events to in-process handlers.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

// Handler consumes one event. A returned error is logged and isolated.
type Handler func(ctx context.Context, evt domain.Event) error

// Middleware decorates every handler at subscription time.
type Middleware func(kind domain.EventKind, name string, next Handler) Handler

type subscription struct {
	name    string
	handler Handler
}

type Options struct {
	// MaxConcurrentHandlers bounds the goroutines of one Publish call; 0 means unbounded.
	MaxConcurrentHandlers int
	Middleware            []Middleware
}

// Bus fans an event out to every handler registered for its kind and waits
// for all of them. Handler failures and panics never reach the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventKind][]subscription
	logger *slog.Logger
	opts   Options
}

func New(logger *slog.Logger, opts Options) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[domain.EventKind][]subscription),
		logger: logger,
		opts:   opts,
	}
}

// Subscribe registers handler under name for kind. It reports false when a
// handler with the same name is already registered for that kind.
func (b *Bus) Subscribe(kind domain.EventKind, name string, handler Handler) bool {
	if handler == nil || name == "" {
		return false
	}
	for i := len(b.opts.Middleware) - 1; i >= 0; i-- {
		handler = b.opts.Middleware[i](kind, name, handler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[kind] {
		if s.name == name {
			return false
		}
	}
	b.subs[kind] = append(b.subs[kind], subscription{name: name, handler: handler})
	b.logger.Debug("handler subscribed", "event", kind, "handler", name)
	return true
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.subs = make(map[domain.EventKind][]subscription)
	b.mu.Unlock()
}

// Handlers returns the handler names registered for kind.
func (b *Bus) Handlers(kind domain.EventKind) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs[kind]))
	for _, s := range b.subs[kind] {
		names = append(names, s.name)
	}
	return names
}

// Publish runs all handlers for evt.Kind concurrently and returns once every
// handler has finished. It only fails for an unknown event kind.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	if !evt.Kind.Valid() {
		return fmt.Errorf("%w: unknown event kind %q", domain.ErrInvalidInput, evt.Kind)
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[evt.Kind]...)
	b.mu.RUnlock()
	if len(subs) == 0 {
		b.logger.Debug("no handlers for event", "event", evt.Kind)
		return nil
	}

	var g errgroup.Group
	if b.opts.MaxConcurrentHandlers > 0 {
		g.SetLimit(b.opts.MaxConcurrentHandlers)
	}
	for _, s := range subs {
		g.Go(func() error {
			b.dispatch(ctx, s, evt)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (b *Bus) dispatch(ctx context.Context, s subscription, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", evt.Kind,
				"handler", s.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := s.handler(ctx, evt); err != nil {
		b.logger.Error("event handler failed",
			"event", evt.Kind,
			"handler", s.name,
			"document_id", evt.DocumentID(),
			"error", err,
		)
	}
}
