package embedcache

import (
	"context"
	"fmt"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

// DimensionGuard rejects vectors whose length differs from the configured index dimension.
type DimensionGuard struct {
	inner ports.Embedder
	dim   int
}

func NewDimensionGuard(inner ports.Embedder, dim int) *DimensionGuard {
	return &DimensionGuard{inner: inner, dim: dim}
}

func (g *DimensionGuard) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != g.dim {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "embed", fmt.Errorf("got %d dimensions, index expects %d", len(vec), g.dim))
	}
	return vec, nil
}

// Probe embeds a fixed text once so a misconfigured model fails at startup.
func (g *DimensionGuard) Probe(ctx context.Context) error {
	_, err := g.Embed(ctx, "dimension probe")
	return err
}
