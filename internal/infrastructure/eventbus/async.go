package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

// Publisher is satisfied by Bus and by the NATS bridge.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Detached hands events to a publisher in the background so a request can
// return before its pipeline finishes. Each dispatch outlives the caller's
// context but is bounded by timeout.
type Detached struct {
	next    Publisher
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDetached(next Publisher, timeout time.Duration, logger *slog.Logger) *Detached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detached{next: next, timeout: timeout, logger: logger}
}

// Publish validates evt and returns immediately.
func (d *Detached) Publish(ctx context.Context, evt domain.Event) error {
	if !evt.Kind.Valid() {
		return d.next.Publish(ctx, evt)
	}
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx := base
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(base, d.timeout)
			defer cancel()
		}
		if err := d.next.Publish(runCtx, evt); err != nil {
			d.logger.Error("background publish failed", "event", evt.Kind, "document_id", evt.DocumentID(), "error", err)
		}
	}()
	return nil
}

// Wait blocks until every background dispatch has finished or ctx is done.
func (d *Detached) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
