package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"emolens/internal/domain"
)

const (
	maxFetchRetries = 2
	fetchBackoff    = 300 * time.Millisecond
	titleMaxRunes   = 120
)

// Client fetches post metadata and comment pages through an active
// visitor session.
type Client struct {
	session   *Session
	http      *http.Client
	endpoints Endpoints
	logger    zerolog.Logger
}

// NewClient creates a fetcher bound to the given session. The client and
// the session share one HTTP client so session cookies apply to every
// request.
func NewClient(session *Session, endpoints Endpoints, logger zerolog.Logger) *Client {
	return &Client{
		session:   session,
		http:      session.HTTPClient(),
		endpoints: endpoints,
		logger:    logger,
	}
}

type statusResponse struct {
	OK   int        `json:"ok"`
	Data statusData `json:"data"`
}

type statusData struct {
	ID             json.Number `json:"id"`
	Text           string      `json:"text"`
	CreatedAt      string      `json:"created_at"`
	AttitudesCount int         `json:"attitudes_count"`
	RepostsCount   int         `json:"reposts_count"`
	CommentsCount  int         `json:"comments_count"`
	User           struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Topics []struct {
		Title string `json:"title"`
	} `json:"topics"`
}

type commentsResponse struct {
	OK   int          `json:"ok"`
	Data commentsPage `json:"data"`
}

type commentsPage struct {
	Data      []commentItem `json:"data"`
	MaxID     json.Number   `json:"max_id"`
	MaxIDType json.Number   `json:"max_id_type"`
}

// commentItem covers both comment streams: the hot stream carries text and
// like_count, the timeline sometimes only text_raw and like_counts.
type commentItem struct {
	ID         json.Number `json:"id"`
	Text       string      `json:"text"`
	TextRaw    string      `json:"text_raw"`
	CreatedAt  string      `json:"created_at"`
	LikeCount  int         `json:"like_count"`
	LikeCounts int         `json:"like_counts"`
	User       struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

// FetchPostMeta resolves the post identifier in the URL and retrieves the
// post metadata. The returned Post carries the numeric status ID used by
// the comments endpoint.
func (c *Client) FetchPostMeta(ctx context.Context, rawURL string) (domain.Post, error) {
	bid, err := ExtractPostID(rawURL)
	if err != nil {
		return domain.Post{}, err
	}

	if err := c.session.Acquire(ctx); err != nil {
		return domain.Post{}, err
	}

	body, err := c.request(ctx, c.endpoints.StatusShow, url.Values{"id": {bid}})
	if err != nil {
		return domain.Post{}, fmt.Errorf("post metadata: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.Post{}, fmt.Errorf("post metadata: %w: %v", domain.ErrAcquisition, err)
	}
	if status.OK != 1 {
		return domain.Post{}, fmt.Errorf("%w: status response not ok", domain.ErrPostNotFound)
	}

	topics := make([]string, 0, len(status.Data.Topics))
	for _, topic := range status.Data.Topics {
		if topic.Title != "" {
			topics = append(topics, topic.Title)
		}
	}

	createdAt, _ := ParseTimestamp(status.Data.CreatedAt, time.Now())

	return domain.Post{
		ID:           status.Data.ID.String(),
		URL:          rawURL,
		Title:        truncateRunes(StripMarkup(status.Data.Text), titleMaxRunes),
		Topic:        strings.Join(topics, ", "),
		Author:       status.Data.User.ScreenName,
		LikeCount:    status.Data.AttitudesCount,
		RepostCount:  status.Data.RepostsCount,
		CommentCount: status.Data.CommentsCount,
		CreatedAt:    createdAt,
	}, nil
}

// FetchComments collects comments from the two comment streams: the hot
// stream paged by max_id cursor, then the page-numbered timeline as a
// follow-up source once the hot stream ends below the cap. Comments are
// deduplicated across both streams by comment id. A page failure after
// exhausted retries terminates collection early: if anything was collected
// the partial batch is returned with truncated=true, otherwise the failure
// is fatal. Returns the comments, the truncated flag, and the count of
// malformed entries skipped.
func (c *Client) FetchComments(ctx context.Context, postID string, maxComments int) ([]domain.RawComment, bool, int, error) {
	if maxComments <= 0 {
		return nil, false, 0, nil
	}

	if err := c.session.Acquire(ctx); err != nil {
		return nil, false, 0, err
	}

	cc := &commentCollector{max: maxComments, seen: make(map[string]bool)}

	truncated, err := c.pageHotStream(ctx, postID, cc)
	if err == nil && !truncated && !cc.full() {
		truncated, err = c.pageTimeline(ctx, postID, cc)
	}
	if err != nil {
		if ctx.Err() != nil {
			return cc.comments, true, cc.skipped, err
		}
		return nil, false, cc.skipped, err
	}
	return cc.comments, truncated, cc.skipped, nil
}

// commentCollector accumulates comments across the two streams, dropping
// malformed entries and deduplicating by comment id.
type commentCollector struct {
	comments []domain.RawComment
	skipped  int
	seen     map[string]bool
	max      int
}

func (cc *commentCollector) full() bool {
	return len(cc.comments) >= cc.max
}

func (cc *commentCollector) add(item commentItem) {
	id := item.ID.String()
	if id != "" && cc.seen[id] {
		return
	}

	text := item.Text
	if text == "" {
		text = item.TextRaw
	}
	if item.User.ScreenName == "" || text == "" {
		cc.skipped++
		return
	}

	likes := item.LikeCount
	if likes == 0 {
		likes = item.LikeCounts
	}

	if id != "" {
		cc.seen[id] = true
	}
	cc.comments = append(cc.comments, domain.RawComment{
		ID:        id,
		User:      item.User.ScreenName,
		Text:      text,
		CreatedAt: item.CreatedAt,
		LikeCount: likes,
	})
}

// pageHotStream walks the hot comment stream by max_id cursor until the cap
// is reached, the server signals the end, or the cursor repeats. Each page's
// max_id_type is echoed into the next request.
func (c *Client) pageHotStream(ctx context.Context, postID string, cc *commentCollector) (bool, error) {
	cursor, cursorType := "0", "0"
	seenCursors := map[string]bool{"0": true}

	for !cc.full() {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		params := url.Values{
			"id":          {postID},
			"mid":         {postID},
			"max_id":      {cursor},
			"max_id_type": {cursorType},
		}

		page, truncated, err := c.fetchPage(ctx, c.endpoints.Comments, params, cc)
		if page == nil {
			return truncated, err
		}

		for _, item := range page.Data.Data {
			if cc.full() {
				break
			}
			cc.add(item)
		}

		next := page.Data.MaxID.String()
		if next == "" || next == "0" {
			break
		}
		// A repeated cursor means the stream is looping; treat as end.
		if seenCursors[next] {
			break
		}
		seenCursors[next] = true
		cursor = next
		if t := page.Data.MaxIDType.String(); t != "" {
			cursorType = t
		}
	}

	return false, nil
}

// pageTimeline walks the page-numbered comment timeline, picking up
// comments the hot stream did not carry.
func (c *Client) pageTimeline(ctx context.Context, postID string, cc *commentCollector) (bool, error) {
	for pageNum := 1; !cc.full(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return true, err
		}

		params := url.Values{
			"id":   {postID},
			"page": {strconv.Itoa(pageNum)},
		}

		page, truncated, err := c.fetchPage(ctx, c.endpoints.CommentsShow, params, cc)
		if page == nil {
			return truncated, err
		}

		for _, item := range page.Data.Data {
			if cc.full() {
				break
			}
			cc.add(item)
		}
	}
	return false, nil
}

// fetchPage requests one comments page and applies the partial-batch
// policy: a permanently failed page ends collection, fatally only when
// nothing has been collected yet. A nil page with a nil error signals a
// normal end of the stream.
func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values, cc *commentCollector) (*commentsResponse, bool, error) {
	body, err := c.request(ctx, endpoint, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		if len(cc.comments) == 0 {
			return nil, false, fmt.Errorf("comments page: %w", err)
		}
		c.logger.Warn().Err(err).Int("collected", len(cc.comments)).
			Msg("comments fetch terminated early, returning partial batch")
		return nil, true, nil
	}

	var page commentsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		if len(cc.comments) == 0 {
			return nil, false, fmt.Errorf("comments page: %w: %v", domain.ErrAcquisition, err)
		}
		c.logger.Warn().Err(err).Msg("undecodable comments page, returning partial batch")
		return nil, true, nil
	}

	if page.OK != 1 || len(page.Data.Data) == 0 {
		return nil, false, nil
	}
	return &page, false, nil
}

// request performs an authorized GET with bounded transient retries and a
// single re-handshake on an authorization rejection. The second rejection
// and retry exhaustion both surface as domain.ErrAcquisition.
func (c *Client) request(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reauthed := false
	retries := 0
	backoff := fetchBackoff

	for {
		body, status, err := c.do(ctx, endpoint, params)

		switch {
		case err == nil && status == http.StatusOK:
			return body, nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			if reauthed {
				return nil, fmt.Errorf("%w: rejected twice with status %d", domain.ErrAcquisition, status)
			}
			reauthed = true
			c.logger.Warn().Int("status", status).Msg("request rejected, re-handshaking")
			c.session.Invalidate()
			if aerr := c.session.Acquire(ctx); aerr != nil {
				return nil, fmt.Errorf("%w: re-handshake: %v", domain.ErrAcquisition, aerr)
			}

		case err == nil && status >= 400 && status < 500:
			return nil, fmt.Errorf("%w: status %d", domain.ErrAcquisition, status)

		default: // network error, timeout, or 5xx
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if retries >= maxFetchRetries {
				if err == nil {
					err = fmt.Errorf("status %d", status)
				}
				return nil, fmt.Errorf("%w: %v", domain.ErrAcquisition, err)
			}
			retries++
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) ([]byte, int, error) {
	target := endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	for key, value := range c.session.Headers() {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
