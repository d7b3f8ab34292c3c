package weibo

import (
	"fmt"
	"hash/fnv"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"emolens/internal/domain"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	relativePattern   = regexp.MustCompile(`^(\d+)(秒|分钟|小时)前$`)
	yesterdayPattern  = regexp.MustCompile(`^昨天\s*(\d{1,2}):(\d{2})$`)
)

// weiboAbsoluteLayout is the absolute timestamp format returned by the
// mobile API, e.g. "Sat Aug 22 10:15:00 +0800 2026".
const weiboAbsoluteLayout = "Mon Jan 02 15:04:05 -0700 2006"

// StripMarkup removes embedded tags and unescapes HTML entities, then
// collapses repeated whitespace and newlines to single spaces.
func StripMarkup(text string) string {
	if text == "" {
		return ""
	}
	stripped := tagPattern.ReplaceAllString(text, "")
	unescaped := html.UnescapeString(stripped)
	collapsed := whitespacePattern.ReplaceAllString(unescaped, " ")
	return strings.TrimSpace(collapsed)
}

// ParseTimestamp normalizes both absolute ("Mon Jan 02 ...") and relative
// ("N分钟前", "昨天 HH:MM", "MM-DD") Weibo timestamps to an absolute
// instant. Relative forms resolve against now. The second return value is
// false when the format is unrecognized.
func ParseTimestamp(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	if ts, err := time.Parse(weiboAbsoluteLayout, raw); err == nil {
		return ts, true
	}

	if raw == "刚刚" {
		return now, true
	}

	if matches := relativePattern.FindStringSubmatch(raw); matches != nil {
		n, _ := strconv.Atoi(matches[1])
		switch matches[2] {
		case "秒":
			return now.Add(-time.Duration(n) * time.Second), true
		case "分钟":
			return now.Add(-time.Duration(n) * time.Minute), true
		case "小时":
			return now.Add(-time.Duration(n) * time.Hour), true
		}
	}

	if matches := yesterdayPattern.FindStringSubmatch(raw); matches != nil {
		hour, _ := strconv.Atoi(matches[1])
		minute, _ := strconv.Atoi(matches[2])
		yesterday := now.AddDate(0, 0, -1)
		return time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(),
			hour, minute, 0, 0, now.Location()), true
	}

	if ts, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return ts, true
	}
	if ts, err := time.ParseInLocation("01-02", raw, now.Location()); err == nil {
		return ts.AddDate(now.Year(), 0, 0), true
	}

	return time.Time{}, false
}

// DedupKey derives the deduplication key from the identity-bearing fields
// of a comment.
func DedupKey(user, text string, ts time.Time) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%d", user, text, ts.Unix())
	return h.Sum64()
}

// Normalize strips markup from raw comments, parses their timestamps, and
// drops duplicates under DedupKey. The first occurrence wins and input
// order is preserved.
func Normalize(raw []domain.RawComment, now time.Time) []domain.Comment {
	seen := make(map[uint64]bool, len(raw))
	comments := make([]domain.Comment, 0, len(raw))

	for _, rc := range raw {
		text := StripMarkup(rc.Text)
		ts, _ := ParseTimestamp(rc.CreatedAt, now)

		key := DedupKey(rc.User, text, ts)
		if seen[key] {
			continue
		}
		seen[key] = true

		comments = append(comments, domain.Comment{
			User:      rc.User,
			Text:      text,
			Timestamp: ts,
			LikeCount: rc.LikeCount,
			DedupKey:  key,
		})
	}

	return comments
}
