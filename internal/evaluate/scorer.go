package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/features"
)

// Scorer returns a profitability signal for a feature vector. Higher is better;
// the evaluator compares it with its threshold.
type Scorer interface {
	Score(ctx context.Context, fv domain.FeatureVector) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, fv domain.FeatureVector) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	return f(ctx, fv)
}

// RuleScorer scores 1 for transactions moving at least MinValue wei and 0 otherwise.
type RuleScorer struct {
	MinValue float64
}

func (r RuleScorer) Score(_ context.Context, fv domain.FeatureVector) (float64, error) {
	if len(fv) <= features.SlotValue {
		return 0, fmt.Errorf("feature vector too short: %d", len(fv))
	}
	v := fv[features.SlotValue]
	if v > 0 && v >= r.MinValue {
		return 1, nil
	}
	return 0, nil
}

// HTTPScorer asks a remote model: POST {"features":[...]} → {"score":x}.
type HTTPScorer struct {
	url string
	hc  *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPScorer{url: url, hc: &http.Client{Timeout: timeout}}
}

type scoreRequest struct {
	Features domain.FeatureVector `json:"features"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	body, err := json.Marshal(scoreRequest{Features: fv})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer http %d: %s", resp.StatusCode, string(b))
	}
	var out scoreResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, fmt.Errorf("scorer response: %w", err)
	}
	if out.Score == nil || math.IsNaN(*out.Score) {
		return 0, fmt.Errorf("scorer response: missing score")
	}
	return *out.Score, nil
}
