package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"mr-assistant/internal/participants"
	"mr-assistant/internal/storage"
)

// Observation is the objective performance of one session: task completion
// time (first to last turn) and number of turns.
type Observation struct {
	UserID  string
	Session int
	Group   string
	TCT     float64
	Turns   int
}

// Observations extracts one row per session that has at least one valid
// timestamp. groupOf assigns the experimental condition.
func Observations(docs []*storage.Document, groupOf func(string) string) []Observation {
	var out []Observation
	for _, doc := range docs {
		for i, turns := range doc.Sessions {
			var stamps []float64
			for _, t := range turns {
				ts, err := t.Time()
				if err != nil {
					continue
				}
				stamps = append(stamps, float64(ts.Unix()))
			}
			if len(stamps) == 0 {
				continue
			}
			sort.Float64s(stamps)
			out = append(out, Observation{
				UserID:  doc.UserID,
				Session: i + 1,
				Group:   groupOf(doc.UserID),
				TCT:     stamps[len(stamps)-1] - stamps[0],
				Turns:   len(turns),
			})
		}
	}
	return out
}

// TestResult compares one variable between the EMO and NEU groups. The
// Welch t statistics and Cohen's d are nil when either group has fewer than
// two values or no spread.
type TestResult struct {
	Var          string   `json:"var"`
	NEmo         int      `json:"n_emo"`
	NNeu         int      `json:"n_neu"`
	MeanEmo      float64  `json:"mean_emo"`
	MeanNeu      float64  `json:"mean_neu"`
	WelchT       *float64 `json:"welch_t"`
	WelchDF      *float64 `json:"welch_df"`
	WelchP       *float64 `json:"welch_p"`
	CohensD      *float64 `json:"cohens_d"`
	MannWhitneyU float64  `json:"mann_whitney_u"`
	MannWhitneyP *float64 `json:"mann_whitney_p"`
	CliffsDelta  float64  `json:"cliffs_delta"`
}

// Compare runs the group comparison for TCT and Turns. Variables where one
// group is empty are skipped.
func Compare(obs []Observation) []TestResult {
	vars := []struct {
		name string
		get  func(Observation) float64
	}{
		{"TCT", func(o Observation) float64 { return o.TCT }},
		{"Turns", func(o Observation) float64 { return float64(o.Turns) }},
	}
	var out []TestResult
	for _, v := range vars {
		var a, b []float64
		for _, o := range obs {
			switch o.Group {
			case participants.GroupEmotion:
				a = append(a, v.get(o))
			case participants.GroupNeutral:
				b = append(b, v.get(o))
			}
		}
		if len(a) == 0 || len(b) == 0 {
			continue
		}
		out = append(out, compareSamples(v.name, a, b))
	}
	return out
}

func compareSamples(name string, a, b []float64) TestResult {
	r := TestResult{
		Var:     name,
		NEmo:    len(a),
		NNeu:    len(b),
		MeanEmo: stat.Mean(a, nil),
		MeanNeu: stat.Mean(b, nil),
	}
	if t, df, p, ok := welch(a, b); ok {
		r.WelchT, r.WelchDF, r.WelchP = &t, &df, &p
	}
	if d, ok := cohensD(a, b); ok {
		r.CohensD = &d
	}
	u, p, ok := mannWhitney(a, b)
	r.MannWhitneyU = u
	if ok {
		r.MannWhitneyP = &p
	}
	r.CliffsDelta = cliffsDelta(a, b)
	return r
}

// welch is the unequal-variance two-sample t-test, two-sided.
func welch(a, b []float64) (t, df, p float64, ok bool) {
	if len(a) < 2 || len(b) < 2 {
		return 0, 0, 0, false
	}
	na, nb := float64(len(a)), float64(len(b))
	va, vb := stat.Variance(a, nil)/na, stat.Variance(b, nil)/nb
	se := math.Sqrt(va + vb)
	if se == 0 {
		return 0, 0, 0, false
	}
	t = (stat.Mean(a, nil) - stat.Mean(b, nil)) / se
	df = (va + vb) * (va + vb) / (va*va/(na-1) + vb*vb/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * dist.Survival(math.Abs(t))
	return t, df, p, true
}

func cohensD(a, b []float64) (float64, bool) {
	na, nb := float64(len(a)), float64(len(b))
	if na+nb-2 <= 0 || na < 2 || nb < 2 {
		return 0, false
	}
	pooled := math.Sqrt(((na-1)*stat.Variance(a, nil) + (nb-1)*stat.Variance(b, nil)) / (na + nb - 2))
	if pooled == 0 {
		return 0, false
	}
	return (stat.Mean(a, nil) - stat.Mean(b, nil)) / pooled, true
}

// mannWhitney returns U for the first sample and the two-sided p-value from
// the tie-corrected normal approximation with continuity correction.
func mannWhitney(a, b []float64) (u, p float64, ok bool) {
	type obs struct {
		v     float64
		first bool
	}
	all := make([]obs, 0, len(a)+len(b))
	for _, v := range a {
		all = append(all, obs{v, true})
	}
	for _, v := range b {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	n := float64(len(all))
	var rankSumA, tieTerm float64
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].v == all[i].v {
			j++
		}
		// ranks i+1..j share their average
		avg := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			if all[k].first {
				rankSumA += avg
			}
		}
		t := float64(j - i)
		tieTerm += t*t*t - t
		i = j
	}

	na, nb := float64(len(a)), float64(len(b))
	u = rankSumA - na*(na+1)/2
	mu := na * nb / 2
	sigma := math.Sqrt(na * nb / 12 * ((n + 1) - tieTerm/(n*(n-1))))
	if sigma == 0 || math.IsNaN(sigma) {
		return u, 0, false
	}
	z := (math.Abs(u-mu) - 0.5) / sigma
	if z < 0 {
		z = 0
	}
	p = 2 * distuv.UnitNormal.Survival(z)
	if p > 1 {
		p = 1
	}
	return u, p, true
}

func cliffsDelta(a, b []float64) float64 {
	var more, less float64
	for _, x := range a {
		for _, y := range b {
			switch {
			case x > y:
				more++
			case x < y:
				less++
			}
		}
	}
	return (more - less) / float64(len(a)*len(b))
}

// WriteCompareCSV writes one row per compared variable.
func WriteCompareCSV(w io.Writer, results []TestResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"var", "n_EMO", "n_NEU", "mean_EMO", "mean_NEU",
		"welch_t", "welch_df", "welch_p", "cohens_d", "mw_U", "mw_p", "cliffs_delta"}); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.Var, strconv.Itoa(r.NEmo), strconv.Itoa(r.NNeu),
			formatValue(r.MeanEmo), formatValue(r.MeanNeu),
			formatValue(r.WelchT), formatValue(r.WelchDF), formatValue(r.WelchP), formatValue(r.CohensD),
			formatValue(r.MannWhitneyU), formatValue(r.MannWhitneyP), formatValue(r.CliffsDelta),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCompareText prints the comparison as aligned lines.
func WriteCompareText(w io.Writer, results []TestResult) error {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString("Nessun confronto possibile: servono sessioni di entrambi i gruppi.\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "=== %s ===\n", r.Var)
		fmt.Fprintf(&b, "EMO n=%d media=%.2f | NEU n=%d media=%.2f\n", r.NEmo, r.MeanEmo, r.NNeu, r.MeanNeu)
		if r.WelchT != nil {
			fmt.Fprintf(&b, "Welch t=%.3f df=%.2f p=%.4f", *r.WelchT, *r.WelchDF, *r.WelchP)
			if r.CohensD != nil {
				fmt.Fprintf(&b, " d=%.3f", *r.CohensD)
			}
			b.WriteString("\n")
		} else {
			b.WriteString("Welch t: n/d\n")
		}
		fmt.Fprintf(&b, "Mann-Whitney U=%s p=%s delta=%.3f\n", formatValue(r.MannWhitneyU), displayValue(r.MannWhitneyP), r.CliffsDelta)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
