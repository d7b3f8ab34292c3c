package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"emolens/internal/domain"
)

// ErrModelUnavailable is returned once the model classifier has entered the
// Failed state; callers should route to the heuristic classifier.
var ErrModelUnavailable = errors.New("model classifier unavailable")

const (
	defaultInferenceURL = "https://api-inference.huggingface.co/models"
	defaultModel        = "IDEA-CCNL/Erlangshen-RoBERTa-330M-NLI"
	defaultBatchSize    = 16

	hypothesisTemplate = "这段话表达了{}的情绪。"
)

// chineseLabels are the candidate labels sent to the zero-shot endpoint,
// index-aligned with domain.Emotions.
var chineseLabels = [6]string{"愤怒", "厌恶", "恐惧", "喜悦", "悲伤", "惊讶"}

var labelIndex = func() map[string]int {
	m := make(map[string]int, len(chineseLabels))
	for i, label := range chineseLabels {
		m[label] = i
	}
	return m
}()

// State is the lifecycle state of the model classifier.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

// ModelConfig configures the zero-shot inference client.
type ModelConfig struct {
	APIKey    string
	Model     string // defaults to defaultModel
	BaseURL   string // defaults to the hosted inference API; override in tests
	BatchSize int
}

// ModelClassifier scores texts against the six emotions with a zero-shot
// multi-label model behind an inference HTTP API. Initialization is lazy:
// the first Predict probes the endpoint, and a probe failure parks the
// classifier in the Failed state for the rest of the process lifetime.
type ModelClassifier struct {
	config ModelConfig
	http   *http.Client
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewModelClassifier creates a model classifier. The HTTP client may be nil,
// in which case a client with a 30s timeout is used.
func NewModelClassifier(config ModelConfig, client *http.Client, logger zerolog.Logger) *ModelClassifier {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultInferenceURL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ModelClassifier{
		config: config,
		http:   client,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (m *ModelClassifier) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Predict scores each text independently against the six labels. One result
// per input text, in input order, regardless of batching. Blank texts are
// scored zero without a round trip.
func (m *ModelClassifier) Predict(ctx context.Context, texts []string, threshold float64) ([]domain.ClassificationResult, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}

	results := make([]domain.ClassificationResult, len(texts))
	for i := range results {
		results[i].Source = domain.SourceModel
		results[i].Labels = domain.LabelsAbove(results[i].Scores, threshold)
	}

	var pending []int
	var pendingTexts []string
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, i)
			pendingTexts = append(pendingTexts, text)
		}
	}

	for start := 0; start < len(pendingTexts); start += m.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + m.config.BatchSize
		if end > len(pendingTexts) {
			end = len(pendingTexts)
		}

		outputs, err := m.infer(ctx, pendingTexts[start:end])
		if err != nil {
			return nil, fmt.Errorf("zero-shot inference: %w", err)
		}
		if len(outputs) != end-start {
			return nil, fmt.Errorf("zero-shot inference: got %d outputs for %d inputs", len(outputs), end-start)
		}

		for j, output := range outputs {
			scores, err := output.scoreVector()
			if err != nil {
				return nil, fmt.Errorf("zero-shot inference: %w", err)
			}
			idx := pending[start+j]
			results[idx].Scores = scores
			results[idx].Labels = domain.LabelsAbove(scores, threshold)
		}
	}

	return results, nil
}

// ensureReady lazily initializes the model. Uninitialized -> Loading ->
// Ready on a successful probe, or Failed permanently otherwise.
func (m *ModelClassifier) ensureReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateReady:
		return nil
	case StateFailed:
		return ErrModelUnavailable
	}

	m.state = StateLoading

	if m.config.APIKey == "" {
		m.state = StateFailed
		m.logger.Warn().Msg("no inference API key configured, model classifier disabled")
		return ErrModelUnavailable
	}

	if _, err := m.infer(ctx, []string{"你好"}); err != nil {
		m.state = StateFailed
		m.logger.Warn().Err(err).Msg("model probe failed, model classifier disabled")
		return ErrModelUnavailable
	}

	m.state = StateReady
	m.logger.Info().Str("model", m.config.Model).Msg("model classifier ready")
	return nil
}

type zeroShotRequest struct {
	Inputs     []string           `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
	Options    zeroShotOptions    `json:"options"`
}

type zeroShotParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	HypothesisTemplate string   `json:"hypothesis_template"`
	MultiLabel         bool     `json:"multi_label"`
}

type zeroShotOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type zeroShotOutput struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// scoreVector reorders the label-sorted API output into canonical emotion
// order.
func (o zeroShotOutput) scoreVector() ([6]float64, error) {
	var scores [6]float64
	if len(o.Labels) != len(o.Scores) {
		return scores, fmt.Errorf("labels/scores length mismatch")
	}
	for i, label := range o.Labels {
		idx, ok := labelIndex[label]
		if !ok {
			return scores, fmt.Errorf("unexpected label %q", label)
		}
		scores[idx] = clamp01(o.Scores[i])
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (m *ModelClassifier) infer(ctx context.Context, texts []string) ([]zeroShotOutput, error) {
	payload := zeroShotRequest{
		Inputs: texts,
		Parameters: zeroShotParameters{
			CandidateLabels:    chineseLabels[:],
			HypothesisTemplate: hypothesisTemplate,
			MultiLabel:         true,
		},
		Options: zeroShotOptions{WaitForModel: true},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := m.config.BaseURL + "/" + m.config.Model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling inference API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var outputs []zeroShotOutput
	if err := json.Unmarshal(respBody, &outputs); err != nil {
		// A single input comes back as a bare object.
		var single zeroShotOutput
		if err := json.Unmarshal(respBody, &single); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		outputs = []zeroShotOutput{single}
	}

	return outputs, nil
}
