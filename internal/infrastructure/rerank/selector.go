package rerank

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultReprobeAfter = 30 * time.Second
)

// Selector picks the first available backend on first use and keeps it for
// the process lifetime. When no backend answers, the probe is repeated after
// reprobeAfter; callers arriving in between run degraded.
type Selector struct {
	backends []ports.RerankBackend
	logger   *slog.Logger

	probeTimeout time.Duration
	reprobeAfter time.Duration
	now          func() time.Time

	active atomic.Pointer[ports.RerankBackend]

	mu        sync.Mutex
	lastProbe time.Time
}

func NewSelector(logger *slog.Logger, backends ...ports.RerankBackend) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		backends:     backends,
		logger:       logger,
		probeTimeout: defaultProbeTimeout,
		reprobeAfter: defaultReprobeAfter,
		now:          time.Now,
	}
}

// Backend returns the selected backend name, or "" when none is available.
func (s *Selector) Backend(ctx context.Context) string {
	if b := s.resolve(ctx); b != nil {
		return b.Name()
	}
	return ""
}

func (s *Selector) Rerank(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error) {
	backend := s.resolve(ctx)
	if backend == nil {
		return nil, domain.ErrRerankUnavailable
	}
	scores, err := backend.Rerank(ctx, query, texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankUnavailable, "rerank "+backend.Name(), err)
	}
	return scores, nil
}

func (s *Selector) resolve(ctx context.Context) ports.RerankBackend {
	if b := s.active.Load(); b != nil {
		return *b
	}
	// A probe already running elsewhere decides; this caller runs degraded.
	if !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()

	if b := s.active.Load(); b != nil {
		return *b
	}
	if !s.lastProbe.IsZero() && s.now().Sub(s.lastProbe) < s.reprobeAfter {
		return nil
	}
	s.lastProbe = s.now()

	// The probe outlives the request that triggered it so a cancelled
	// search cannot leave the process without a reranker.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.probeTimeout)
	defer cancel()
	for _, b := range s.backends {
		if b == nil {
			continue
		}
		if b.Available(probeCtx) {
			s.active.Store(&b)
			s.logger.Info("rerank backend selected", "backend", b.Name())
			return b
		}
		s.logger.Warn("rerank backend unavailable", "backend", b.Name())
	}
	s.logger.Warn("no rerank backend available, search runs degraded", "reprobe_after", s.reprobeAfter.String())
	return nil
}
