package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mr-assistant/internal/storage"
)

// Rollup aggregates the summaries of one or more sessions.
type Rollup struct {
	Sessioni          int     `json:"sessioni"`
	TurniTotali       int     `json:"turni_totali"`
	DurataSec         *float64 `json:"durata_sec"`
	EmozioneDominante *string `json:"emozione_dominante"`
}

// Report is the analysis of one user document.
type Report struct {
	UserID   string           `json:"user_id"`
	Sessions []SessionSummary `json:"sessions"`
	Rollup   *Rollup          `json:"rollup"`
}

// AnalyzeDocument summarizes every non-empty session of doc.
func AnalyzeDocument(doc *storage.Document, rules Rules) Report {
	r := Report{UserID: doc.UserID}
	for i, turns := range doc.Sessions {
		s := AnalyzeTurns(turns, rules)
		if s == nil {
			continue
		}
		s.UserID = doc.UserID
		s.Session = i + 1
		r.Sessions = append(r.Sessions, *s)
	}
	r.Rollup = RollupOf(r.Sessions)
	return r
}

// RollupOf returns nil when there is nothing to aggregate.
func RollupOf(summaries []SessionSummary) *Rollup {
	if len(summaries) == 0 {
		return nil
	}
	r := &Rollup{Sessioni: len(summaries)}
	var (
		dominant []string
		total    float64
		timed    int
	)
	for _, s := range summaries {
		r.TurniTotali += s.TurniTotali
		if s.DurataSec != nil {
			total += *s.DurataSec
			timed++
		}
		if s.EmozioneDominante != nil {
			dominant = append(dominant, *s.EmozioneDominante)
		}
	}
	if timed > 0 {
		r.DurataSec = ptr(round(total, 1))
	}
	if dom, ok := mostCommon(dominant); ok {
		r.EmozioneDominante = &dom
	}
	return r
}

type field struct {
	key   string
	value any
}

func (s SessionSummary) fields() []field {
	return []field{
		{"turni_totali", s.TurniTotali},
		{"durata_sec", s.DurataSec},
		{"parole_totali", s.ParoleTotali},
		{"chars_totali", s.CharsTotali},
		{"wps_media", s.WPSMedia},
		{"wps_devstd", s.WPSDevStd},
		{"delta_prev_ms_media", s.DeltaPrevMsMedia},
		{"llm_lat_ms_media", s.LLMLatMsMedia},
		{"wav_lat_ms_media", s.WavLatMsMedia},
		{"emo_lat_ms_media", s.EmoLatMsMedia},
		{"emozione_dominante", s.EmozioneDominante},
		{"entropia_emoz_media", s.EntropiaEmozMedia},
		{"domande_totali", s.DomandeTotali},
		{"chiarimenti_stimati", s.ChiarimentiStimati},
		{"reset_count", s.ResetCount},
		{"task_completato", s.TaskCompletato},
	}
}

// formatValue renders a summary value; missing values become "".
func formatValue(v any) string {
	switch x := v.(type) {
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func displayValue(v any) string {
	if s := formatValue(v); s != "" {
		return s
	}
	return "n/d"
}

// WriteText prints the per-session blocks followed by the rollup.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	if r.UserID != "" {
		fmt.Fprintf(&b, "Utente: %s\n", r.UserID)
	}
	for _, s := range r.Sessions {
		header := fmt.Sprintf("=== Sessione %d ===", s.Session)
		b.WriteString(header + "\n")
		for _, f := range s.fields() {
			fmt.Fprintf(&b, "%-25s: %s\n", f.key, displayValue(f.value))
		}
		b.WriteString(strings.Repeat("-", len(header)) + "\n")
	}
	if r.Rollup == nil {
		b.WriteString("Nessuna sessione da analizzare.\n")
	} else {
		b.WriteString("\n=== Riepilogo complessivo ===\n")
		fmt.Fprintf(&b, "Sessioni analizzate    : %d\n", r.Rollup.Sessioni)
		fmt.Fprintf(&b, "Turni totali           : %d\n", r.Rollup.TurniTotali)
		fmt.Fprintf(&b, "Durata complessiva [s] : %s\n", displayValue(r.Rollup.DurataSec))
		if r.Rollup.EmozioneDominante != nil {
			fmt.Fprintf(&b, "Emozione dominante glob: %s\n", *r.Rollup.EmozioneDominante)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes one row per session, keyed by user and session number.
func WriteCSV(w io.Writer, summaries []SessionSummary) error {
	cw := csv.NewWriter(w)
	header := []string{"user_id", "sessione"}
	for _, f := range (SessionSummary{}).fields() {
		header = append(header, f.key)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{s.UserID, strconv.Itoa(s.Session)}
		for _, f := range s.fields() {
			row = append(row, formatValue(f.value))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
