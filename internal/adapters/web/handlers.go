package web

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"emolens/internal/adapters/storage"
	"emolens/internal/adapters/viz"
	"emolens/internal/domain"
	"emolens/internal/usecases"
)

// Defaults are the analyze parameters applied when the request omits them.
type Defaults struct {
	MaxComments int
	Threshold   float64
	RunTimeout  time.Duration
}

// Handlers contains the HTTP handlers for the service.
type Handlers struct {
	analyze  *usecases.AnalyzePostUseCase
	store    *storage.Store
	limiter  *RateLimiter
	defaults Defaults
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(analyze *usecases.AnalyzePostUseCase, store *storage.Store, limiter *RateLimiter, defaults Defaults) *Handlers {
	return &Handlers{
		analyze:  analyze,
		store:    store,
		limiter:  limiter,
		defaults: defaults,
	}
}

type analyzeRequest struct {
	URL         string  `json:"url"`
	MaxComments int     `json:"max_comments"`
	Threshold   float64 `json:"threshold"`
}

type postResponse struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Topic        string    `json:"topic"`
	Author       string    `json:"author"`
	LikeCount    int       `json:"like_count"`
	RepostCount  int       `json:"repost_count"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type analyzeResponse struct {
	PostID       int64          `json:"post_id"`
	Post         postResponse   `json:"post"`
	CommentCount int            `json:"comment_count"`
	Truncated    bool           `json:"truncated"`
	Skipped      int            `json:"skipped"`
	Sources      map[string]int `json:"sources"`
	Distribution []viz.PieSlice `json:"distribution"`
}

// Analyze runs the full pipeline for a post URL.
func (h *Handlers) Analyze(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil || req.URL == "" {
		return h.respondError(c, domain.ErrInvalidURL)
	}

	ip := c.IP()
	if !h.limiter.Allow(ip) {
		return h.respondError(c, domain.ErrRateLimited)
	}
	h.limiter.Record(ip)

	maxComments := req.MaxComments
	if maxComments <= 0 {
		maxComments = h.defaults.MaxComments
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = h.defaults.Threshold
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.defaults.RunTimeout)
	defer cancel()

	output, err := h.analyze.Execute(ctx, req.URL, maxComments, threshold)
	if err != nil {
		zerolog.Ctx(c.UserContext()).Error().Err(err).Str("url", req.URL).Msg("analyze failed")
		return h.respondError(c, err)
	}

	return c.JSON(buildAnalyzeResponse(output))
}

func buildAnalyzeResponse(output *usecases.AnalyzeOutput) analyzeResponse {
	result := output.Result

	sources := map[string]int{}
	var sums [6]float64
	for _, r := range result.Results {
		sources[string(r.Source)]++
		for i, s := range r.Scores {
			sums[i] += s
		}
	}

	var dist [6]float64
	if n := len(result.Results); n > 0 {
		for i := range sums {
			dist[i] = sums[i] / float64(n)
		}
	}

	return analyzeResponse{
		PostID: output.PostID,
		Post: postResponse{
			URL:          result.Post.URL,
			Title:        result.Post.Title,
			Topic:        result.Post.Topic,
			Author:       result.Post.Author,
			LikeCount:    result.Post.LikeCount,
			RepostCount:  result.Post.RepostCount,
			CommentCount: result.Post.CommentCount,
			CreatedAt:    result.Post.CreatedAt,
		},
		CommentCount: len(result.Comments),
		Truncated:    result.Truncated,
		Skipped:      result.Skipped,
		Sources:      sources,
		Distribution: viz.PieSlices(dist),
	}
}

// RecentPosts returns the analysis history.
func (h *Handlers) RecentPosts(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	posts, err := h.store.RecentPosts(c.UserContext(), limit)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"posts": posts})
}

// PostComments returns a post's comments with their emotion scores.
func (h *Handlers) PostComments(c *fiber.Ctx) error {
	postID, err := parsePostID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	comments, err := h.store.CommentsWithEmotions(c.UserContext(), postID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"comments": comments})
}

// Distribution returns the aggregate emotion distribution of a post.
func (h *Handlers) Distribution(c *fiber.Ctx) error {
	postID, err := parsePostID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	dist, err := h.store.EmotionDistribution(c.UserContext(), postID)
	if err != nil {
		return h.respondError(c, err)
	}

	labeled := make(map[string]float64, len(domain.Emotions))
	for i, emotion := range domain.Emotions {
		labeled[string(emotion)] = dist[i]
	}
	return c.JSON(fiber.Map{"distribution": labeled})
}

// Pie returns pie-chart slices for a post's emotion distribution.
func (h *Handlers) Pie(c *fiber.Ctx) error {
	postID, err := parsePostID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	dist, err := h.store.EmotionDistribution(c.UserContext(), postID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"slices": viz.PieSlices(dist)})
}

// WordCloud returns token frequencies over a post's comment texts.
func (h *Handlers) WordCloud(c *fiber.Ctx) error {
	postID, err := parsePostID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	topN := c.QueryInt("top", 50)

	comments, err := h.store.CommentsWithEmotions(c.UserContext(), postID)
	if err != nil {
		return h.respondError(c, err)
	}

	texts := make([]string, len(comments))
	for i, comment := range comments {
		texts[i] = comment.Text
	}
	return c.JSON(fiber.Map{"words": viz.WordCloud(texts, topN)})
}

func parsePostID(c *fiber.Ctx) (int64, error) {
	postID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || postID <= 0 {
		return 0, domain.ErrPostNotFound
	}
	return postID, nil
}

// respondError maps domain errors to status codes and neutral messages.
func (h *Handlers) respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrPostNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, domain.ErrHandshakeFailed), errors.Is(err, domain.ErrAcquisition):
		status = fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusGatewayTimeout
	}

	return c.Status(status).JSON(fiber.Map{"error": friendlyError(err)})
}

// friendlyError returns a neutral, non-blaming error message.
func friendlyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		return "That doesn't look like a Weibo post URL. Try pasting a link from m.weibo.cn or weibo.com"
	case errors.Is(err, domain.ErrPostNotFound):
		return "This post couldn't be found. It might be private or no longer available."
	case errors.Is(err, domain.ErrRateLimited):
		return "Too many requests. Please wait a moment and try again."
	case errors.Is(err, domain.ErrHandshakeFailed):
		return "Couldn't open a scraping session right now. Please try again in a moment."
	case errors.Is(err, domain.ErrAcquisition):
		return "Couldn't retrieve the post data right now. Please try again in a moment."
	case errors.Is(err, context.DeadlineExceeded):
		return "The analysis took too long and was cancelled. Try a smaller comment cap."
	default:
		return "Unable to analyze this post right now. Please try again in a moment."
	}
}
