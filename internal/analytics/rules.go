package analytics

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules holds the phrase lists used to classify transcriptions.
type Rules struct {
	ClarificationPhrases []string `yaml:"clarification_phrases"`
	CompletionKeywords   []string `yaml:"completion_keywords"`
}

func DefaultRules() Rules {
	return Rules{
		ClarificationPhrases: []string{"qual è", "cosa devo", "come faccio"},
		CompletionKeywords:   []string{"bellissimo"},
	}
}

// LoadRules reads a YAML rules file. Lists left out of the file keep their
// defaults; an empty path yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules: %w", err)
	}
	var parsed Rules
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return rules, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if len(parsed.ClarificationPhrases) > 0 {
		rules.ClarificationPhrases = parsed.ClarificationPhrases
	}
	if len(parsed.CompletionKeywords) > 0 {
		rules.CompletionKeywords = parsed.CompletionKeywords
	}
	return rules, nil
}

// containsAny matches case-insensitively.
func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
