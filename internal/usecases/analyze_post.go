// Package usecases composes the adapters into the analysis pipeline.
package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"emolens/internal/domain"
)

// DefaultThreshold is the per-label decision cutoff used when the caller
// does not supply one.
const DefaultThreshold = 0.5

// PostFetcher retrieves post metadata and raw comment pages.
type PostFetcher interface {
	FetchPostMeta(ctx context.Context, url string) (domain.Post, error)
	FetchComments(ctx context.Context, postID string, maxComments int) (raw []domain.RawComment, truncated bool, skipped int, err error)
}

// Classifier scores texts against the six emotions.
type Classifier interface {
	Predict(ctx context.Context, texts []string, threshold float64) ([]domain.ClassificationResult, error)
}

// Store persists a pipeline result in one logical unit and returns the
// post's row ID.
type Store interface {
	SaveAnalysis(ctx context.Context, result domain.PipelineResult) (int64, error)
}

// NormalizeFunc cleans and deduplicates raw comments.
type NormalizeFunc func(raw []domain.RawComment, now time.Time) []domain.Comment

// AnalyzeOutput is the cached unit of one completed run.
type AnalyzeOutput struct {
	PostID int64
	Result domain.PipelineResult
}

// ResultCache short-circuits reprocessing of a recently analyzed URL.
type ResultCache interface {
	Get(url string) (*AnalyzeOutput, bool)
	Set(url string, output *AnalyzeOutput)
}

// AnalyzePostUseCase orchestrates one pipeline run: session, metadata,
// comments, normalization, classification, persistence.
type AnalyzePostUseCase struct {
	fetcher    PostFetcher
	normalize  NormalizeFunc
	classifier Classifier
	store      Store
	cache      ResultCache
	logger     zerolog.Logger
}

// NewAnalyzePostUseCase wires the pipeline. cache may be nil to disable
// the cache-first shortcut.
func NewAnalyzePostUseCase(
	fetcher PostFetcher,
	normalize NormalizeFunc,
	classifier Classifier,
	store Store,
	cache ResultCache,
	logger zerolog.Logger,
) *AnalyzePostUseCase {
	return &AnalyzePostUseCase{
		fetcher:    fetcher,
		normalize:  normalize,
		classifier: classifier,
		store:      store,
		cache:      cache,
		logger:     logger,
	}
}

// Execute runs the pipeline for one post URL. Classification degrades
// transparently to the heuristic path; a persistence failure is fatal for
// the run and nothing is committed.
func (uc *AnalyzePostUseCase) Execute(ctx context.Context, url string, maxComments int, threshold float64) (*AnalyzeOutput, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if uc.cache != nil {
		if output, found := uc.cache.Get(url); found {
			uc.logger.Debug().Str("url", url).Msg("analysis cache hit")
			return output, nil
		}
	}

	post, err := uc.fetcher.FetchPostMeta(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch post metadata: %w", err)
	}

	raw, truncated, skipped, err := uc.fetcher.FetchComments(ctx, post.ID, maxComments)
	if err != nil {
		return nil, fmt.Errorf("fetch comments: %w", err)
	}
	if skipped > 0 {
		uc.logger.Warn().Int("skipped", skipped).Str("post_id", post.ID).
			Msg("skipped malformed comment entries")
	}

	comments := uc.normalize(raw, time.Now())

	texts := make([]string, len(comments))
	for i, comment := range comments {
		texts[i] = comment.Text
	}

	results, err := uc.classifier.Predict(ctx, texts, threshold)
	if err != nil {
		return nil, fmt.Errorf("classify comments: %w", err)
	}

	result := domain.PipelineResult{
		Post:      post,
		Comments:  comments,
		Results:   results,
		Truncated: truncated,
		Skipped:   skipped,
	}

	postID, err := uc.store.SaveAnalysis(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}

	uc.logger.Info().
		Str("url", url).
		Int64("post_id", postID).
		Int("comments", len(comments)).
		Bool("truncated", truncated).
		Msg("analysis complete")

	output := &AnalyzeOutput{PostID: postID, Result: result}
	if uc.cache != nil {
		uc.cache.Set(url, output)
	}
	return output, nil
}
