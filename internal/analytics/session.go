package analytics

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"mr-assistant/internal/storage"
)

// SessionSummary holds the per-session metrics. Pointer fields are nil when
// the session has no data for them.
type SessionSummary struct {
	UserID             string   `json:"user_id,omitempty"`
	Session            int      `json:"sessione"`
	TurniTotali        int      `json:"turni_totali"`
	DurataSec          *float64 `json:"durata_sec"`
	ParoleTotali       int      `json:"parole_totali"`
	CharsTotali        int      `json:"chars_totali"`
	WPSMedia           *float64 `json:"wps_media"`
	WPSDevStd          *float64 `json:"wps_devstd"`
	DeltaPrevMsMedia   *float64 `json:"delta_prev_ms_media"`
	LLMLatMsMedia      *float64 `json:"llm_lat_ms_media"`
	WavLatMsMedia      *float64 `json:"wav_lat_ms_media"`
	EmoLatMsMedia      *float64 `json:"emo_lat_ms_media"`
	EmozioneDominante  *string  `json:"emozione_dominante"`
	EntropiaEmozMedia  *float64 `json:"entropia_emoz_media"`
	DomandeTotali      int      `json:"domande_totali"`
	ChiarimentiStimati int      `json:"chiarimenti_stimati"`
	ResetCount         int      `json:"reset_count"`
	TaskCompletato     bool     `json:"task_completato"`
}

// AnalyzeTurns summarizes one session. It returns nil for an empty session.
func AnalyzeTurns(turns []storage.Turn, rules Rules) *SessionSummary {
	if len(turns) == 0 {
		return nil
	}
	s := &SessionSummary{TurniTotali: len(turns)}

	first, errFirst := turns[0].Time()
	last, errLast := turns[len(turns)-1].Time()
	if errFirst == nil && errLast == nil {
		s.DurataSec = ptr(round(last.Sub(first).Seconds(), 1))
	}

	var (
		deltas, wps, entropies []float64
		llmLat, wavLat, emoLat []float64
		emotions               []string
	)
	for i, t := range turns {
		s.ParoleTotali += t.Words
		s.CharsTotali += t.Chars

		if i > 0 && t.DeltaPrevMs != nil {
			deltas = append(deltas, float64(*t.DeltaPrevMs))
			if *t.DeltaPrevMs > 0 && t.Words > 0 {
				wps = append(wps, float64(t.Words)/(float64(*t.DeltaPrevMs)/1000))
			}
		}
		llmLat = appendPositive(llmLat, t.LatenciesMs["llm"])
		wavLat = appendPositive(wavLat, t.LatenciesMs["wav"])
		emoLat = appendPositive(emoLat, t.LatenciesMs["emo"])

		if snap := t.Emotions.Snapshot; snap != nil {
			if snap.TopEmotion != "" {
				emotions = append(emotions, snap.TopEmotion)
			}
			entropies = append(entropies, snap.Entropy)
		}

		if strings.Contains(t.Transcription, "?") {
			s.DomandeTotali++
		}
		if containsAny(t.Transcription, rules.ClarificationPhrases) {
			s.ChiarimentiStimati++
		}
		if containsAny(t.Transcription, rules.CompletionKeywords) {
			s.TaskCompletato = true
		}
	}

	s.WPSMedia = meanRounded(wps, 2)
	if len(wps) > 1 {
		s.WPSDevStd = ptr(round(stat.StdDev(wps, nil), 2))
	}
	s.DeltaPrevMsMedia = meanRounded(deltas, 0)
	s.LLMLatMsMedia = meanRounded(llmLat, 0)
	s.WavLatMsMedia = meanRounded(wavLat, 0)
	s.EmoLatMsMedia = meanRounded(emoLat, 0)
	s.EntropiaEmozMedia = meanRounded(entropies, 3)
	if dom, ok := mostCommon(emotions); ok {
		s.EmozioneDominante = &dom
	}
	s.ResetCount = turns[len(turns)-1].ResetCount
	return s
}

func appendPositive(xs []float64, v int64) []float64 {
	if v > 0 {
		return append(xs, float64(v))
	}
	return xs
}

func meanRounded(xs []float64, places int) *float64 {
	if len(xs) == 0 {
		return nil
	}
	return ptr(round(stat.Mean(xs, nil), places))
}

// mostCommon returns the most frequent value; ties go to the value seen first.
func mostCommon(values []string) (string, bool) {
	counts := make(map[string]int, len(values))
	var order []string
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestN := "", 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best, bestN > 0
}

// round uses half-to-even so summaries agree with the historical reports.
func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(x*p) / p
}

func ptr[T any](v T) *T { return &v }
