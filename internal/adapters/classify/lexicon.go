// Package classify implements the six-emotion multi-label classifiers:
// a zero-shot model over HTTP and a deterministic keyword heuristic, plus
// the service that routes between them.
package classify

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"emolens/internal/domain"
)

// defaultKeywords is the compiled-in emotion lexicon used when no file is
// configured.
var defaultKeywords = map[domain.Emotion][]string{
	domain.Anger:    {"怒", "生气", "愤", "火大", "气死", "垃圾"},
	domain.Disgust:  {"恶心", "讨厌", "无语", "滚", "呕", "烦"},
	domain.Fear:     {"怕", "恐惧", "担心", "慌", "紧张"},
	domain.Joy:      {"喜", "乐", "高兴", "开心", "哈哈", "太好了", "祝贺"},
	domain.Sadness:  {"难过", "伤心", "哭", "可怜", "崩溃"},
	domain.Surprise: {"惊", "震撼", "没想到", "哇", "竟然"},
}

// Lexicon maps emotions to keyword lists for the heuristic classifier.
type Lexicon struct {
	mu       sync.RWMutex
	keywords map[domain.Emotion][]string

	filePath    string
	lastModTime time.Time
}

// DefaultLexicon returns a lexicon with the compiled-in keywords.
func DefaultLexicon() *Lexicon {
	return &Lexicon{keywords: defaultKeywords}
}

// LoadLexicon loads the keyword lexicon from a YAML file and starts a
// background goroutine for hot-reloading.
func LoadLexicon(filePath string) (*Lexicon, error) {
	lexicon := &Lexicon{filePath: filePath}
	if err := lexicon.reload(); err != nil {
		return nil, err
	}

	go lexicon.watch()

	return lexicon, nil
}

// reload reads the lexicon from the file. Emotions absent from the file
// fall back to the compiled-in keywords.
func (l *Lexicon) reload() error {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return err
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	keywords := make(map[domain.Emotion][]string, len(domain.Emotions))
	for _, emotion := range domain.Emotions {
		if words, ok := raw[string(emotion)]; ok && len(words) > 0 {
			keywords[emotion] = words
		} else {
			keywords[emotion] = defaultKeywords[emotion]
		}
	}

	l.mu.Lock()
	l.keywords = keywords
	l.mu.Unlock()

	return nil
}

// watch monitors the lexicon file for changes and reloads it.
func (l *Lexicon) watch() {
	ticker := time.NewTicker(10 * time.Second)
	for range ticker.C {
		info, err := os.Stat(l.filePath)
		if err != nil {
			continue
		}
		if info.ModTime().After(l.lastModTime) {
			_ = l.reload()
			l.lastModTime = info.ModTime()
		}
	}
}

// Keywords returns the keyword list for an emotion (thread-safe).
func (l *Lexicon) Keywords(emotion domain.Emotion) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.keywords[emotion]
}
