// Package weibo implements the mobile web API adapter: the anonymous
// visitor session handshake, the paginated comment fetcher, and the
// normalization of raw comment payloads.
package weibo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"emolens/internal/domain"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	maxHandshakeAttempts = 3
	handshakeBackoff     = 500 * time.Millisecond
)

// Endpoints holds the target URLs of the handshake and content APIs.
// Overridable so tests can point at a fake server.
type Endpoints struct {
	GenVisitor   string
	Incarnate    string
	Config       string
	StatusShow   string
	Comments     string
	CommentsShow string
	Referer      string
}

// DefaultEndpoints returns the production Weibo endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		GenVisitor:   "https://passport.weibo.com/visitor/genvisitor",
		Incarnate:    "https://passport.weibo.com/visitor/visitor",
		Config:       "https://m.weibo.cn/api/config",
		StatusShow:   "https://m.weibo.cn/statuses/show",
		Comments:     "https://m.weibo.cn/comments/hotflow",
		CommentsShow: "https://m.weibo.cn/api/comments/show",
		Referer:      "https://m.weibo.cn/",
	}
}

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateHandshaking
	stateActive
)

// tidPattern extracts the visitor tid from the JSONP-wrapped genvisitor body.
var tidPattern = regexp.MustCompile(`"tid":"([^"]+)"`)

// Session manages the anonymous visitor session required by the scraping
// endpoints. It is the single shared mutable resource per process: Acquire
// serializes so at most one handshake is ever in flight.
type Session struct {
	http      *http.Client
	endpoints Endpoints
	logger    zerolog.Logger

	mu    sync.Mutex
	state sessionState
	xsrf  string
}

// NewSession creates a session manager with its own cookie jar.
// The returned session starts unauthenticated; the first Acquire performs
// the handshake.
func NewSession(timeout time.Duration, endpoints Endpoints, logger zerolog.Logger) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		http:      &http.Client{Timeout: timeout, Jar: jar},
		endpoints: endpoints,
		logger:    logger,
	}
}

// HTTPClient exposes the session-scoped HTTP client (cookie jar included)
// for the fetcher that shares this session.
func (s *Session) HTTPClient() *http.Client {
	return s.http
}

// Acquire ensures an active session, performing the two-step visitor
// handshake if needed. Up to maxHandshakeAttempts with exponential backoff;
// a partial handshake always rolls back to unauthenticated before returning.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateActive {
		return nil
	}

	var lastErr error
	backoff := handshakeBackoff
	for attempt := 1; attempt <= maxHandshakeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				s.state = stateUnauthenticated
				return ctx.Err()
			}
			backoff *= 2
		}

		s.state = stateHandshaking
		if err := s.handshake(ctx); err != nil {
			lastErr = err
			s.state = stateUnauthenticated
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("visitor handshake attempt failed")
			continue
		}

		s.state = stateActive
		s.logger.Debug().Msg("visitor session active")
		return nil
	}

	return fmt.Errorf("%w after %d attempts: %v", domain.ErrHandshakeFailed, maxHandshakeAttempts, lastErr)
}

// Invalidate forces a re-handshake on the next Acquire. Called by the
// fetcher when a request is rejected with an authorization error.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar, _ := cookiejar.New(nil)
	s.http.Jar = jar
	s.xsrf = ""
	s.state = stateUnauthenticated
	s.logger.Debug().Msg("visitor session invalidated")
}

// Headers returns the header set every authorized request must carry.
// Session cookies travel in the client's jar; this covers the rest.
func (s *Session) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	headers := map[string]string{
		"User-Agent":       userAgent,
		"Accept":           "application/json, text/plain, */*",
		"Accept-Language":  "zh-CN,zh;q=0.9",
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          s.endpoints.Referer,
	}
	if s.xsrf != "" {
		headers["X-XSRF-TOKEN"] = s.xsrf
	}
	return headers
}

// handshake runs the two handshake steps plus the config request that
// yields the anti-forgery token. Caller holds the mutex.
func (s *Session) handshake(ctx context.Context) error {
	tid, err := s.generateTid(ctx)
	if err != nil {
		return fmt.Errorf("genvisitor: %w", err)
	}

	if err := s.incarnate(ctx, tid); err != nil {
		return fmt.Errorf("incarnate: %w", err)
	}

	if err := s.loadConfig(ctx); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// generateTid requests an anonymous visitor identifier (step 1).
func (s *Session) generateTid(ctx context.Context) (string, error) {
	now := time.Now().UnixMilli()
	params := url.Values{
		"cb":    {fmt.Sprintf("visitor_%d", now)},
		"_rand": {fmt.Sprintf("0.%d", now)},
		"from":  {"weibo"},
		"_lang": {"zh-CN"},
	}

	body, err := s.get(ctx, s.endpoints.GenVisitor, params)
	if err != nil {
		return "", err
	}

	matches := tidPattern.FindStringSubmatch(string(body))
	if matches == nil {
		return "", fmt.Errorf("no tid in response")
	}
	return matches[1], nil
}

// incarnate exchanges the tid for the confirmed session cookie (step 2).
func (s *Session) incarnate(ctx context.Context, tid string) error {
	params := url.Values{
		"a":     {"incarnate"},
		"t":     {tid},
		"w":     {"3"},
		"c":     {"094"},
		"gc":    {""},
		"cb":    {""},
		"from":  {"weibo"},
		"_rand": {fmt.Sprintf("%d", time.Now().UnixMilli())},
	}

	_, err := s.get(ctx, s.endpoints.Incarnate, params)
	return err
}

// loadConfig hits the mobile config endpoint so the jar picks up the
// XSRF-TOKEN cookie, then caches the token for Headers.
func (s *Session) loadConfig(ctx context.Context) error {
	if _, err := s.get(ctx, s.endpoints.Config, nil); err != nil {
		return err
	}

	configURL, err := url.Parse(s.endpoints.Config)
	if err != nil {
		return err
	}
	for _, cookie := range s.http.Jar.Cookies(configURL) {
		if cookie.Name == "XSRF-TOKEN" {
			s.xsrf = cookie.Value
			break
		}
	}
	return nil
}

func (s *Session) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
