package weibo

import (
	"regexp"

	"emolens/internal/domain"
)

// postURLPatterns match the Weibo URL shapes that carry a base62 post
// identifier. Query parameters are ignored during extraction.
var postURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`m\.weibo\.cn/(?:status|detail)/([A-Za-z0-9]+)`),
	regexp.MustCompile(`weibo\.com/\d+/([A-Za-z0-9]+)`),
	regexp.MustCompile(`weibo\.cn/detail/([A-Za-z0-9]+)`),
}

// ExtractPostID extracts the base62 post identifier from a Weibo URL.
// Returns domain.ErrInvalidURL if no pattern matches.
func ExtractPostID(url string) (string, error) {
	for _, pattern := range postURLPatterns {
		if matches := pattern.FindStringSubmatch(url); matches != nil {
			return matches[1], nil
		}
	}
	return "", domain.ErrInvalidURL
}
