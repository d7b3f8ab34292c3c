package classify

import (
	"context"

	"github.com/rs/zerolog"

	"emolens/internal/domain"
)

// Classifier is the shared prediction contract of the model and heuristic
// variants.
type Classifier interface {
	Predict(ctx context.Context, texts []string, threshold float64) ([]domain.ClassificationResult, error)
}

// Service routes prediction calls to the model classifier and falls back to
// the heuristic transparently. Once the model has failed to initialize, all
// subsequent calls go straight to the heuristic; a transient inference error
// after a successful init only degrades the affected batch.
type Service struct {
	model     *ModelClassifier // nil when no model is configured
	heuristic *HeuristicClassifier
	logger    zerolog.Logger
}

// NewService wires the two classifier variants together. model may be nil.
func NewService(model *ModelClassifier, heuristic *HeuristicClassifier, logger zerolog.Logger) *Service {
	return &Service{
		model:     model,
		heuristic: heuristic,
		logger:    logger,
	}
}

// Predict returns one result per input text, in input order. The caller only
// observes which path served the batch through the result Source field.
func (s *Service) Predict(ctx context.Context, texts []string, threshold float64) ([]domain.ClassificationResult, error) {
	if s.model != nil && s.model.State() != StateFailed {
		results, err := s.model.Predict(ctx, texts, threshold)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("model prediction failed, falling back to heuristic")
	}

	return s.heuristic.Predict(ctx, texts, threshold)
}
