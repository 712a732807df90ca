package diagnosis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LabelScore is one candidate condition with its estimated probability.
type LabelScore struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// extractFenced returns the body of the first triple-backtick block in s,
// with any language tag stripped. When s has no fence the trimmed input is
// returned as is.
func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return strings.TrimSpace(s)
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// First line after the fence is a language tag when it has no
		// payload characters of its own.
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "[]{}\",") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// parseKeywords decodes a model reply into a keyword list. Replies using
// single-quoted list syntax are tolerated.
func parseKeywords(raw string) ([]string, error) {
	body := extractFenced(raw)
	var keywords []string
	if err := json.Unmarshal([]byte(body), &keywords); err != nil {
		if !strings.Contains(body, "'") {
			return nil, fmt.Errorf("failed to parse keyword list: %w", err)
		}
		relaxed := strings.ReplaceAll(body, "'", `"`)
		if err := json.Unmarshal([]byte(relaxed), &keywords); err != nil {
			return nil, fmt.Errorf("failed to parse keyword list: %w", err)
		}
	}
	return keywords, nil
}

// parseLabelScores decodes a model reply into label scores.
func parseLabelScores(raw string) ([]LabelScore, error) {
	body := extractFenced(raw)
	var scores []LabelScore
	if err := json.Unmarshal([]byte(body), &scores); err != nil {
		return nil, fmt.Errorf("failed to parse label scores: %w", err)
	}
	return scores, nil
}
