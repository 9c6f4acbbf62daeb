package usecase

import (
	"cmp"
	"math"
	"slices"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

const (
	// PenaltyCeiling is the calibrated score at or above which a hit is trusted without lexical grounding.
	PenaltyCeiling = 0.85
	PenaltyFactor  = 0.5
	// ScoreThreshold drops reranked hits below it.
	ScoreThreshold = 0.40
)

// calibrate maps a raw relevance logit into [0, 1].
func calibrate(raw float64) float64 {
	return 1 / (1 + math.Exp(-raw))
}

// rerankText is what the reranker sees for a candidate.
func rerankText(hit domain.SearchHit) string {
	switch {
	case hit.Snippet != "":
		return hit.Snippet
	case hit.Summary != "":
		return hit.Summary
	default:
		return hit.Filename
	}
}

// applyRerank replaces aggregation scores with calibrated rerank scores, demotes hits that share
// no keyword with the query and drops everything under the threshold. Candidates the reranker
// did not score are dropped.
func applyRerank(candidates []domain.SearchHit, scores []domain.RerankScore, keywords []string) []domain.SearchHit {
	out := make([]domain.SearchHit, 0, len(scores))
	seen := make(map[int]struct{}, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		if _, dup := seen[s.Index]; dup {
			continue
		}
		seen[s.Index] = struct{}{}

		hit := candidates[s.Index]
		hit.OriginalScore = hit.Score
		hit.Score = calibrate(s.Raw)
		if len(keywords) > 0 && hit.Score < PenaltyCeiling &&
			!containsAnyKeyword(hit.Snippet+hit.Summary+hit.Filename, keywords) {
			hit.Score *= PenaltyFactor
		}
		if hit.Score < ScoreThreshold {
			continue
		}
		out = append(out, hit)
	}
	return out
}

// degradedHits keeps aggregation scores when no reranker could run.
func degradedHits(candidates []domain.SearchHit) []domain.SearchHit {
	out := make([]domain.SearchHit, len(candidates))
	for i, hit := range candidates {
		hit.OriginalScore = hit.Score
		out[i] = hit
	}
	return out
}

// sortHits orders by score, then original score, then recency, then id, all descending.
func sortHits(hits []domain.SearchHit) {
	slices.SortStableFunc(hits, func(a, b domain.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.OriginalScore, a.OriginalScore); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.DocumentID, a.DocumentID)
	})
}
