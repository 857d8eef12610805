package classifier

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"mailwatch/pkg/util"
)

const (
	maxSummaryLen     = 200
	maxKeywords       = 10
	defaultConfidence = 50
)

var errNoJSON = errors.New("no JSON object in response")

// ParseResponse extracts the classification from raw model output. It never
// fails: anything unusable yields the parse-failure default.
func ParseResponse(text string) Result {
	res, err := parseResponse(text)
	if err != nil {
		return parseFailureResult()
	}
	return res
}

func parseResponse(text string) (Result, error) {
	block, ok := firstJSONObject(text)
	if !ok {
		return Result{}, errNoJSON
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return Result{}, err
	}

	label, _ := raw["importance"].(string)
	importance, ok := NormalizeImportance(label)
	if !ok {
		return Result{}, errors.New("invalid importance")
	}

	summary, ok := raw["summary"].(string)
	if !ok {
		return Result{}, errors.New("invalid summary")
	}

	return Result{
		Importance: importance,
		Summary:    util.Truncate(strings.TrimSpace(summary), maxSummaryLen),
		Confidence: normalizeConfidence(raw["confidence"]),
		Keywords:   normalizeKeywords(raw["keywords"]),
	}, nil
}

// NormalizeImportance maps provider labels onto the three canonical values.
func NormalizeImportance(label string) (Importance, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high", "alta":
		return ImportanceHigh, true
	case "medium", "média", "media":
		return ImportanceMedium, true
	case "low", "baixa":
		return ImportanceLow, true
	default:
		return "", false
	}
}

func normalizeConfidence(v any) int {
	n, ok := v.(float64)
	if !ok || math.IsNaN(n) || n < 0 || n > 100 {
		return defaultConfidence
	}
	return int(math.Round(n))
}

func normalizeKeywords(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(s))
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// firstJSONObject returns the first balanced {...} block, honouring braces
// inside string literals.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
