package classify

import (
	"context"
	"strings"

	"emolens/internal/domain"
)

// smoothingK damps the keyword-count score: score = hits / (hits + k).
// Zero hits score 0 and the score grows monotonically with hit count.
const smoothingK = 1.0

// HeuristicClassifier scores texts by counting lexicon keyword hits per
// emotion. It performs no I/O and never fails; it is the fallback of last
// resort.
type HeuristicClassifier struct {
	lexicon *Lexicon
}

// NewHeuristicClassifier creates a keyword-count classifier over the given
// lexicon.
func NewHeuristicClassifier(lexicon *Lexicon) *HeuristicClassifier {
	return &HeuristicClassifier{lexicon: lexicon}
}

// Predict scores each text against the six emotions. One result per input
// text, in input order.
func (h *HeuristicClassifier) Predict(ctx context.Context, texts []string, threshold float64) ([]domain.ClassificationResult, error) {
	results := make([]domain.ClassificationResult, len(texts))
	for i, text := range texts {
		scores := h.score(text)
		results[i] = domain.ClassificationResult{
			Scores: scores,
			Labels: domain.LabelsAbove(scores, threshold),
			Source: domain.SourceHeuristic,
		}
	}
	return results, nil
}

func (h *HeuristicClassifier) score(text string) [6]float64 {
	lowered := strings.ToLower(text)

	var scores [6]float64
	for i, emotion := range domain.Emotions {
		hits := 0
		for _, keyword := range h.lexicon.Keywords(emotion) {
			hits += strings.Count(lowered, strings.ToLower(keyword))
		}
		if hits > 0 {
			scores[i] = float64(hits) / (float64(hits) + smoothingK)
		}
	}
	return scores
}
