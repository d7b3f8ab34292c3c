package weibo_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emolens/internal/adapters/weibo"
	"emolens/internal/domain"
)

func newTestClient(f *fakeWeibo) *weibo.Client {
	session := weibo.NewSession(5*time.Second, f.endpoints(), zerolog.Nop())
	return weibo.NewClient(session, f.endpoints(), zerolog.Nop())
}

func serveStatus(f *fakeWeibo) {
	f.handle("/statuses/show", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"ok": 1,
			"data": {
				"id": 4912345678901234,
				"text": "今天<span class=\"url-icon\"></span>发布会太好了！",
				"created_at": "Sat Aug 22 10:15:00 +0800 2026",
				"attitudes_count": 1200,
				"reposts_count": 88,
				"comments_count": 345,
				"user": {"screen_name": "新闻君"},
				"topics": [{"title": "发布会"}, {"title": "科技"}]
			}
		}`)
	})
}

func TestClient_FetchPostMeta(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	serveStatus(f)
	client := newTestClient(f)

	post, err := client.FetchPostMeta(context.Background(), "https://m.weibo.cn/detail/LxYz123abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if post.ID != "4912345678901234" {
		t.Errorf("ID: got %q", post.ID)
	}
	if post.Title != "今天发布会太好了！" {
		t.Errorf("Title: got %q", post.Title)
	}
	if post.Topic != "发布会, 科技" {
		t.Errorf("Topic: got %q", post.Topic)
	}
	if post.Author != "新闻君" {
		t.Errorf("Author: got %q", post.Author)
	}
	if post.LikeCount != 1200 || post.RepostCount != 88 || post.CommentCount != 345 {
		t.Errorf("counts: got %d/%d/%d", post.LikeCount, post.RepostCount, post.CommentCount)
	}
	if post.CreatedAt.IsZero() {
		t.Error("expected a parsed CreatedAt")
	}
	if post.URL != "https://m.weibo.cn/detail/LxYz123abc" {
		t.Errorf("URL: got %q", post.URL)
	}
}

func TestClient_FetchPostMeta_InvalidURL(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	client := newTestClient(f)

	_, err := client.FetchPostMeta(context.Background(), "https://example.com/foo")

	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
	if got := f.handshakes(); got != 0 {
		t.Errorf("expected no handshake for an invalid URL, got %d", got)
	}
}

func TestClient_FetchPostMeta_NotFound(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/statuses/show", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": 0, "msg": "不存在"}`)
	})
	client := newTestClient(f)

	_, err := client.FetchPostMeta(context.Background(), "https://m.weibo.cn/detail/Gone")

	if !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("expected ErrPostNotFound, got %v", err)
	}
}

func TestClient_FetchPostMeta_ReauthOnRejection(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()

	var calls atomic.Int64
	f.handle("/statuses/show", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"ok":1,"data":{"id":1,"text":"ok","user":{"screen_name":"x"}}}`)
	})
	client := newTestClient(f)

	post, err := client.FetchPostMeta(context.Background(), "https://m.weibo.cn/detail/Abc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.ID != "1" {
		t.Errorf("ID: got %q", post.ID)
	}
	if got := f.handshakes(); got != 2 {
		t.Errorf("expected re-handshake after 403, got %d handshakes", got)
	}
}

func TestClient_FetchPostMeta_SecondRejectionFatal(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/statuses/show", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	client := newTestClient(f)

	_, err := client.FetchPostMeta(context.Background(), "https://m.weibo.cn/detail/Abc1")

	if !errors.Is(err, domain.ErrAcquisition) {
		t.Errorf("expected ErrAcquisition, got %v", err)
	}
}

// commentsPageBody renders one hotflow page.
func commentsPageBody(maxID int64, items ...string) string {
	joined := ""
	for i, item := range items {
		if i > 0 {
			joined += ","
		}
		joined += item
	}
	return fmt.Sprintf(`{"ok":1,"data":{"data":[%s],"max_id":%d}}`, joined, maxID)
}

func commentItem(id int, user, text string) string {
	return fmt.Sprintf(`{"id":%d,"text":%q,"created_at":"Sat Aug 22 10:15:00 +0800 2026","like_count":1,"user":{"screen_name":%q}}`, id, text, user)
}

func TestClient_FetchComments_SinglePage(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		// max_id 0 signals the last page
		fmt.Fprint(w, commentsPageBody(0,
			commentItem(1, "A", "太棒了"),
			commentItem(2, "B", "糟糕"),
		))
	})
	client := newTestClient(f)

	raw, truncated, skipped, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if truncated {
		t.Error("expected truncated=false on normal exhaustion")
	}
	if skipped != 0 {
		t.Errorf("skipped: got %d", skipped)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(raw))
	}
	if raw[0].User != "A" || raw[1].User != "B" {
		t.Errorf("order not preserved: %q, %q", raw[0].User, raw[1].User)
	}
}

func TestClient_FetchComments_PaginatesByCursor(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("max_id") {
		case "0":
			fmt.Fprint(w, commentsPageBody(777, commentItem(1, "A", "一")))
		case "777":
			fmt.Fprint(w, commentsPageBody(0, commentItem(2, "B", "二")))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("max_id"))
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	client := newTestClient(f)

	raw, truncated, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if truncated {
		t.Error("expected truncated=false")
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(raw))
	}
	if raw[0].Text != "一" || raw[1].Text != "二" {
		t.Errorf("page order not preserved: %q, %q", raw[0].Text, raw[1].Text)
	}
}

func TestClient_FetchComments_RespectsCap(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()

	var pages atomic.Int64
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		fmt.Fprint(w, commentsPageBody(page+1000,
			commentItem(int(page*10+1), "A", "x"),
			commentItem(int(page*10+2), "B", "y"),
			commentItem(int(page*10+3), "C", "z"),
		))
	})
	client := newTestClient(f)

	raw, _, _, err := client.FetchComments(context.Background(), "100", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("expected cap of 4 comments, got %d", len(raw))
	}
	if got := pages.Load(); got != 2 {
		t.Errorf("expected 2 pages fetched, got %d", got)
	}
}

func TestClient_FetchComments_RepeatedCursorEndsStream(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()

	var pages atomic.Int64
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		// Server keeps returning the same cursor
		fmt.Fprint(w, commentsPageBody(555, commentItem(int(page), "A", fmt.Sprintf("第%d页", page))))
	})
	client := newTestClient(f)

	raw, truncated, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if truncated {
		t.Error("repeated cursor is end-of-stream, not truncation")
	}
	if got := pages.Load(); got != 2 {
		t.Errorf("expected loop guard to stop after 2 pages, got %d", got)
	}
	if len(raw) != 2 {
		t.Errorf("expected 2 comments, got %d", len(raw))
	}
}

func TestClient_FetchComments_SkipsMalformedEntries(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentsPageBody(0,
			commentItem(1, "A", "好"),
			`{"id":2,"text":"","user":{"screen_name":"B"}}`,
			`{"id":3,"text":"无名","user":{}}`,
			commentItem(4, "D", "行"),
		))
	})
	client := newTestClient(f)

	raw, _, skipped, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped entries, got %d", skipped)
	}
	if len(raw) != 2 {
		t.Errorf("expected 2 retained comments, got %d", len(raw))
	}
}

func TestClient_FetchComments_PartialOnRetryExhaustion(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()

	var pages atomic.Int64
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		if pages.Add(1) == 1 {
			fmt.Fprint(w, commentsPageBody(888, commentItem(1, "A", "好")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(f)

	raw, truncated, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("partial results must not fail: %v", err)
	}
	if !truncated {
		t.Error("expected truncated=true after retry exhaustion")
	}
	if len(raw) != 1 {
		t.Errorf("expected the partial batch, got %d comments", len(raw))
	}
	// First page + 1 initial try + 2 retries of the second page
	if got := pages.Load(); got != 4 {
		t.Errorf("expected 4 page requests, got %d", got)
	}
}

func TestClient_FetchComments_FirstPageFailureIsFatal(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(f)

	raw, _, _, err := client.FetchComments(context.Background(), "100", 50)

	if !errors.Is(err, domain.ErrAcquisition) {
		t.Errorf("expected ErrAcquisition, got %v", err)
	}
	if len(raw) != 0 {
		t.Errorf("expected no comments, got %d", len(raw))
	}
}

func TestClient_FetchComments_ContinuesOnTimelineStream(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentsPageBody(0, commentItem(1, "A", "热评第一")))
	})
	f.serveTimeline(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			// The timeline repeats the hot comment; only id 2 is new
			fmt.Fprint(w, commentsPageBody(0,
				commentItem(1, "A", "热评第一"),
				commentItem(2, "B", "后排围观"),
			))
		default:
			fmt.Fprint(w, `{"ok":1,"data":{"data":[]}}`)
		}
	})
	client := newTestClient(f)

	raw, truncated, skipped, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if truncated {
		t.Error("expected truncated=false")
	}
	if skipped != 0 {
		t.Errorf("skipped: got %d", skipped)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 deduplicated comments across streams, got %d", len(raw))
	}
	if raw[0].User != "A" || raw[1].User != "B" {
		t.Errorf("stream order not preserved: %q, %q", raw[0].User, raw[1].User)
	}
}

func TestClient_FetchComments_TimelineRespectsCap(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentsPageBody(0, commentItem(1, "A", "一")))
	})

	var timelinePages atomic.Int64
	f.serveTimeline(func(w http.ResponseWriter, r *http.Request) {
		timelinePages.Add(1)
		fmt.Fprint(w, commentsPageBody(0,
			commentItem(2, "B", "二"),
			commentItem(3, "C", "三"),
			commentItem(4, "D", "四"),
		))
	})
	client := newTestClient(f)

	raw, truncated, _, err := client.FetchComments(context.Background(), "100", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if truncated {
		t.Error("reaching the cap is not truncation")
	}
	if len(raw) != 2 {
		t.Errorf("expected 2 comments at the cap, got %d", len(raw))
	}
	if got := timelinePages.Load(); got != 1 {
		t.Errorf("expected 1 timeline page, got %d", got)
	}
}

func TestClient_FetchComments_TimelineFieldVariants(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":1,"data":{"data":[],"max_id":0}}`)
	})
	f.serveTimeline(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"ok":1,"data":{"data":[]}}`)
			return
		}
		fmt.Fprint(w, `{"ok":1,"data":{"data":[
			{"id":9,"text":"","text_raw":"原始文本","created_at":"Sat Aug 22 10:15:00 +0800 2026","like_counts":7,"user":{"screen_name":"C"}}
		]}}`)
	})
	client := newTestClient(f)

	raw, _, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(raw))
	}
	if raw[0].Text != "原始文本" {
		t.Errorf("text_raw fallback: got %q", raw[0].Text)
	}
	if raw[0].LikeCount != 7 {
		t.Errorf("like_counts fallback: got %d", raw[0].LikeCount)
	}
}

func TestClient_FetchComments_TimelinePartialOnFailure(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, commentsPageBody(0, commentItem(1, "A", "一")))
	})
	f.serveTimeline(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, commentsPageBody(0, commentItem(2, "B", "二")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(f)

	raw, truncated, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("partial results must not fail: %v", err)
	}
	if !truncated {
		t.Error("expected truncated=true after timeline retry exhaustion")
	}
	if len(raw) != 2 {
		t.Errorf("expected both collected comments, got %d", len(raw))
	}
}

func TestClient_FetchComments_ForwardsCursorType(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	f.handle("/comments/hotflow", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("max_id") {
		case "0":
			if got := r.URL.Query().Get("max_id_type"); got != "0" {
				t.Errorf("first page max_id_type: got %q, want 0", got)
			}
			fmt.Fprintf(w, `{"ok":1,"data":{"data":[%s],"max_id":777,"max_id_type":1}}`,
				commentItem(1, "A", "一"))
		case "777":
			if got := r.URL.Query().Get("max_id_type"); got != "1" {
				t.Errorf("second page max_id_type: got %q, want 1", got)
			}
			fmt.Fprint(w, commentsPageBody(0, commentItem(2, "B", "二")))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("max_id"))
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	client := newTestClient(f)

	raw, _, _, err := client.FetchComments(context.Background(), "100", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 2 {
		t.Errorf("expected 2 comments, got %d", len(raw))
	}
}

func TestClient_FetchComments_ZeroCap(t *testing.T) {
	f := newFakeWeibo()
	defer f.close()
	client := newTestClient(f)

	raw, truncated, skipped, err := client.FetchComments(context.Background(), "100", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != nil || truncated || skipped != 0 {
		t.Errorf("expected empty result, got %v/%v/%d", raw, truncated, skipped)
	}
}
