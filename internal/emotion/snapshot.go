package emotion

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Prediction is one classifier output pair.
type Prediction struct {
	Label string  `json:"label"`
	Prob  float64 `json:"score"`
}

// Snapshot is the most recent classifier result for a user, as stored in
// memory and echoed into conversation turns.
type Snapshot struct {
	Probs           map[string]float64 `json:"probs"`
	TopEmotion      string             `json:"top_emotion"`
	Entropy         float64            `json:"entropy"`
	EmoTimestamp    time.Time          `json:"emo_timestamp"`
	ChunkDurationMs int64              `json:"chunk_duration_ms"`
}

// NewSnapshot builds a snapshot from classifier output. Probabilities are
// kept as given; ties for the top label go to the earliest prediction.
// Predictions outside [0,1] or NaN are dropped.
func NewSnapshot(preds []Prediction, chunkDuration time.Duration, now time.Time) Snapshot {
	s := Snapshot{
		Probs:           make(map[string]float64, len(preds)),
		EmoTimestamp:    now,
		ChunkDurationMs: chunkDuration.Milliseconds(),
	}
	best := math.Inf(-1)
	for _, p := range preds {
		if math.IsNaN(p.Prob) || p.Prob < 0 || p.Prob > 1 {
			continue
		}
		s.Probs[p.Label] = p.Prob
		if p.Prob > best {
			best = p.Prob
			s.TopEmotion = p.Label
		}
	}
	s.Entropy = Entropy(s.Probs)
	return s
}

// Entropy is the base-2 Shannon entropy of probs, without renormalization.
func Entropy(probs map[string]float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	if h == 0 {
		return 0
	}
	return h
}

// Sorted returns the predictions ordered by descending probability, label
// ascending on ties.
func (s Snapshot) Sorted() []Prediction {
	out := make([]Prediction, 0, len(s.Probs))
	for l, p := range s.Probs {
		out = append(out, Prediction{Label: l, Prob: p})
	}
	SortPredictions(out)
	return out
}

// Render flattens the snapshot into "label: 75.33%, label: 10.00%".
func (s Snapshot) Render() string {
	parts := make([]string, 0, len(s.Probs))
	for _, p := range s.Sorted() {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Label, FormatPercent(p.Prob)))
	}
	return strings.Join(parts, ", ")
}

// Percentages renders each probability as a percentage string, the shape the
// recording client expects back from emotion detection.
func Percentages(preds []Prediction) map[string]string {
	out := make(map[string]string, len(preds))
	for _, p := range preds {
		out[p.Label] = FormatPercent(p.Prob)
	}
	return out
}

func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

// SortPredictions orders by descending probability, label ascending on ties.
func SortPredictions(ps []Prediction) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Prob != ps[j].Prob {
			return ps[i].Prob > ps[j].Prob
		}
		return ps[i].Label < ps[j].Label
	})
}
