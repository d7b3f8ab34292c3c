// Package domain contains the core business entities and rules.
package domain

import "time"

// Post represents the metadata of a single Weibo post.
type Post struct {
	ID           string
	URL          string // Original Weibo URL as supplied by the caller
	Title        string // Tag-stripped post text, truncated
	Topic        string
	Author       string
	LikeCount    int
	RepostCount  int
	CommentCount int
	CreatedAt    time.Time
}

// RawComment is a comment entry exactly as returned by the comments
// endpoint, before markup stripping and deduplication.
type RawComment struct {
	ID        string
	User      string
	Text      string
	CreatedAt string // Weibo-formatted timestamp, absolute or relative
	LikeCount int
}

// Comment is a normalized, deduplicated comment.
type Comment struct {
	User      string
	Text      string
	Timestamp time.Time
	LikeCount int
	DedupKey  uint64
}

// Emotion is one of the six fixed emotion labels.
type Emotion string

const (
	Anger    Emotion = "anger"
	Disgust  Emotion = "disgust"
	Fear     Emotion = "fear"
	Joy      Emotion = "joy"
	Sadness  Emotion = "sadness"
	Surprise Emotion = "surprise"
)

// Emotions lists the taxonomy in canonical score-vector order.
var Emotions = [6]Emotion{Anger, Disgust, Fear, Joy, Sadness, Surprise}

// ClassifierSource identifies which classifier produced a result.
type ClassifierSource string

const (
	SourceModel     ClassifierSource = "model"
	SourceHeuristic ClassifierSource = "heuristic"
)

// ClassificationResult holds per-label confidences for one comment.
// Scores are independent per label (multi-label), each in [0,1].
type ClassificationResult struct {
	Scores [6]float64
	Labels []Emotion
	Source ClassifierSource
}

// LabelsAbove returns the emotions whose score clears the threshold,
// in canonical order. May be empty.
func LabelsAbove(scores [6]float64, threshold float64) []Emotion {
	var labels []Emotion
	for i, s := range scores {
		if s >= threshold {
			labels = append(labels, Emotions[i])
		}
	}
	return labels
}

// PipelineResult is the output of one full analysis run.
type PipelineResult struct {
	Post      Post
	Comments  []Comment
	Results   []ClassificationResult
	Truncated bool // comment fetch stopped early after exhausted retries
	Skipped   int  // malformed comment entries dropped during fetch
}
