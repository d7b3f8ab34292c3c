package weibo_test

import (
	"testing"
	"time"

	"emolens/internal/adapters/weibo"
	"emolens/internal/domain"
)

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "太棒了",
			want: "太棒了",
		},
		{
			name: "anchor and icon tags removed",
			in:   `回复<a href='/n/someone'>@someone</a>:太棒了<span class="url-icon"><img src="x.png"></span>`,
			want: "回复@someone:太棒了",
		},
		{
			name: "entities unescaped",
			in:   "a &lt;3 b &amp; c",
			want: "a <3 b & c",
		},
		{
			name: "whitespace collapsed",
			in:   "第一行\n\n  第二行\t结束 ",
			want: "第一行 第二行 结束",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := weibo.StripMarkup(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		raw    string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "absolute weibo format",
			raw:    "Sat Aug 22 10:15:00 +0800 2026",
			want:   time.Date(2026, 8, 22, 10, 15, 0, 0, time.FixedZone("", 8*3600)),
			wantOK: true,
		},
		{
			name:   "just now",
			raw:    "刚刚",
			want:   now,
			wantOK: true,
		},
		{
			name:   "seconds ago",
			raw:    "30秒前",
			want:   now.Add(-30 * time.Second),
			wantOK: true,
		},
		{
			name:   "minutes ago",
			raw:    "5分钟前",
			want:   now.Add(-5 * time.Minute),
			wantOK: true,
		},
		{
			name:   "hours ago",
			raw:    "2小时前",
			want:   now.Add(-2 * time.Hour),
			wantOK: true,
		},
		{
			name:   "yesterday with time",
			raw:    "昨天 08:30",
			want:   time.Date(2026, 8, 21, 8, 30, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "month and day only",
			raw:    "08-20",
			want:   time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "full date",
			raw:    "2025-12-31",
			want:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "unrecognized format",
			raw:    "sometime",
			wantOK: false,
		},
		{
			name:   "empty",
			raw:    "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := weibo.ParseTimestamp(tt.raw, now)

			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_DeduplicatesFirstOccurrenceWins(t *testing.T) {
	now := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	t1 := "Sat Aug 22 10:15:00 +0800 2026"
	t2 := "Sat Aug 22 11:00:00 +0800 2026"

	raw := []domain.RawComment{
		{User: "A", Text: "太棒了", CreatedAt: t1, LikeCount: 3},
		{User: "A", Text: "太棒了", CreatedAt: t1, LikeCount: 3},
		{User: "B", Text: "糟糕", CreatedAt: t2},
	}

	comments := weibo.Normalize(raw, now)

	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].User != "A" || comments[0].Text != "太棒了" {
		t.Errorf("first comment: got %q by %q", comments[0].Text, comments[0].User)
	}
	if comments[1].User != "B" || comments[1].Text != "糟糕" {
		t.Errorf("second comment: got %q by %q", comments[1].Text, comments[1].User)
	}
}

func TestNormalize_DistinctKeysRetained(t *testing.T) {
	now := time.Now()
	ts := "Sat Aug 22 10:15:00 +0800 2026"

	// Same text, different users and same user at different times
	raw := []domain.RawComment{
		{User: "A", Text: "哈哈", CreatedAt: ts},
		{User: "B", Text: "哈哈", CreatedAt: ts},
		{User: "A", Text: "哈哈", CreatedAt: "Sat Aug 22 11:00:00 +0800 2026"},
	}

	comments := weibo.Normalize(raw, now)

	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}

	keys := map[uint64]bool{}
	for _, c := range comments {
		if keys[c.DedupKey] {
			t.Errorf("duplicate dedup key %d", c.DedupKey)
		}
		keys[c.DedupKey] = true
	}
}

func TestNormalize_StripsMarkupBeforeKeying(t *testing.T) {
	now := time.Now()
	ts := "Sat Aug 22 10:15:00 +0800 2026"

	// Identical after markup stripping
	raw := []domain.RawComment{
		{User: "A", Text: "太棒了", CreatedAt: ts},
		{User: "A", Text: "<span>太棒了</span>", CreatedAt: ts},
	}

	comments := weibo.Normalize(raw, now)

	if len(comments) != 1 {
		t.Fatalf("expected 1 comment after dedup, got %d", len(comments))
	}
}
