// Package viz computes visualization data from already-classified results:
// pie-chart slices of an emotion distribution and word-cloud frequencies.
// Pure functions, no state; rendering belongs to the UI.
package viz

import (
	"sort"
	"strings"
	"unicode"

	"emolens/internal/domain"
)

// PieSlice is one pie-chart segment.
type PieSlice struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// PieSlices converts a six-emotion distribution into pie segments in
// canonical emotion order. Percentages are 0 when the distribution is empty.
func PieSlices(dist [6]float64) []PieSlice {
	total := 0.0
	for _, v := range dist {
		total += v
	}

	slices := make([]PieSlice, len(domain.Emotions))
	for i, emotion := range domain.Emotions {
		slices[i] = PieSlice{Label: string(emotion), Value: dist[i]}
		if total > 0 {
			slices[i].Percent = dist[i] / total * 100
		}
	}
	return slices
}

// WordFreq is one word-cloud entry.
type WordFreq struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// WordCloud tokenizes comment texts and returns the topN most frequent
// tokens, most frequent first (ties broken alphabetically).
func WordCloud(texts []string, topN int) []WordFreq {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, token := range tokenize(text) {
			counts[token]++
		}
	}

	freqs := make([]WordFreq, 0, len(counts))
	for word, count := range counts {
		freqs = append(freqs, WordFreq{Word: word, Count: count})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].Count != freqs[j].Count {
			return freqs[i].Count > freqs[j].Count
		}
		return freqs[i].Word < freqs[j].Word
	})

	if topN > 0 && topN < len(freqs) {
		freqs = freqs[:topN]
	}
	return freqs
}

// tokenize splits text into latin words and Han character groups. Han runs
// longer than two characters are emitted as overlapping bigrams, a
// segmenter-free approximation good enough for frequency clouds.
func tokenize(text string) []string {
	var tokens []string
	var latin, han []rune

	flushLatin := func() {
		if len(latin) >= 2 {
			tokens = append(tokens, strings.ToLower(string(latin)))
		}
		latin = latin[:0]
	}
	flushHan := func() {
		switch {
		case len(han) == 0:
		case len(han) <= 2:
			tokens = append(tokens, string(han))
		default:
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin = append(latin, r)
		default:
			flushLatin()
			flushHan()
		}
	}
	flushLatin()
	flushHan()

	return tokens
}
