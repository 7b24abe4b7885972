package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Classifier predicts emotions from a mono audio window. Predictions come
// back ordered by descending probability.
type Classifier interface {
	Predict(ctx context.Context, samples []float32, sampleRate int) ([]Prediction, error)
}

// HTTPClassifier calls the speech-emotion model sidecar (/predict).
type HTTPClassifier struct {
	url string
	c   *http.Client
}

type predictReq struct {
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

type predictResp struct {
	Predictions []Prediction `json:"predictions"`
}

func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{url: strings.TrimRight(url, "/"), c: &http.Client{Timeout: 60 * time.Second}}
}

func (h *HTTPClassifier) Predict(ctx context.Context, samples []float32, sampleRate int) ([]Prediction, error) {
	b, err := json.Marshal(predictReq{SampleRate: sampleRate, Samples: samples})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/predict", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("emotion %s: %s", resp.Status, string(body))
	}

	var out predictResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("emotion decode: %w", err)
	}
	SortPredictions(out.Predictions)
	return out.Predictions, nil
}
