package usecase

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSONObject pulls the first JSON object out of model output. It tries
// fenced code blocks, then the whole text, then the widest {...} span.
func ExtractJSONObject(text string) (map[string]any, bool) {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if obj, ok := parseObject(m[1]); ok {
			return obj, true
		}
	}

	if obj, ok := parseObject(text); ok {
		return obj, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if obj, ok := parseObject(text[start : end+1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
