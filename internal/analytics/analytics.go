package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mr-assistant/internal/storage"
)

// DailyStats contains the activity of one day across all users
type DailyStats struct {
	Date          string               `json:"date"`
	TotalTurns    int                  `json:"total_turns"`
	UniqueUsers   int                  `json:"unique_users"`
	DegradedTurns int                  `json:"degraded_turns"`
	EmotionTurns  int                  `json:"emotion_turns"`
	Emotions      map[string]int       `json:"emotions"`
	UserStats     map[string]UserStats `json:"user_stats"`
}

// UserStats contains the activity of one user
type UserStats struct {
	UserID        string `json:"user_id"`
	Turns         int    `json:"turns"`
	DegradedTurns int    `json:"degraded_turns"`
	Resets        int    `json:"resets"`
}

// AnalyzeDay counts the turns whose timestamp falls on targetDate
func AnalyzeDay(docs []*storage.Document, targetDate time.Time) *DailyStats {
	loc := targetDate.Location()
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, loc)
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		Emotions:  make(map[string]int),
		UserStats: make(map[string]UserStats),
	}

	for _, doc := range docs {
		for _, session := range doc.Sessions {
			for _, turn := range session {
				ts, err := time.ParseInLocation(storage.TimestampLayout, turn.Timestamp, loc)
				if err != nil || ts.Before(startOfDay) || !ts.Before(endOfDay) {
					continue
				}
				stats.TotalTurns++

				userStat, exists := stats.UserStats[doc.UserID]
				if !exists {
					userStat = UserStats{UserID: doc.UserID}
				}
				userStat.Turns++
				if turn.ResetCount > userStat.Resets {
					userStat.Resets = turn.ResetCount
				}
				if turn.Degraded {
					stats.DegradedTurns++
					userStat.DegradedTurns++
				}
				if snap := turn.Emotions.Snapshot; snap != nil {
					stats.EmotionTurns++
					if snap.TopEmotion != "" {
						stats.Emotions[snap.TopEmotion]++
					}
				}
				stats.UserStats[doc.UserID] = userStat
			}
		}
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// GenerateReportSummary renders the digest sent to the experimenter
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attività dell'assistente del %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Turni totali: %d\n", ds.TotalTurns)
	fmt.Fprintf(&b, "- Partecipanti attivi: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- Risposte degradate: %d\n", ds.DegradedTurns)
	fmt.Fprintf(&b, "- Turni con emozioni rilevate: %d\n", ds.EmotionTurns)

	if len(ds.Emotions) > 0 {
		b.WriteString("\nEmozioni prevalenti:\n")
		labels := make([]string, 0, len(ds.Emotions))
		for l := range ds.Emotions {
			labels = append(labels, l)
		}
		sort.Slice(labels, func(i, j int) bool {
			if ds.Emotions[labels[i]] != ds.Emotions[labels[j]] {
				return ds.Emotions[labels[i]] > ds.Emotions[labels[j]]
			}
			return labels[i] < labels[j]
		})
		for _, l := range labels {
			fmt.Fprintf(&b, "- %s: %d\n", l, ds.Emotions[l])
		}
	}

	if len(ds.UserStats) > 0 {
		fmt.Fprintf(&b, "\nPartecipanti (%d):\n", len(ds.UserStats))
		ids := make([]string, 0, len(ds.UserStats))
		for id := range ds.UserStats {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			us := ds.UserStats[id]
			fmt.Fprintf(&b, "- %s: %d turni", id, us.Turns)
			if us.DegradedTurns > 0 {
				fmt.Fprintf(&b, ", %d degradati", us.DegradedTurns)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ToJSON serializes the stats for detailed inspection
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
