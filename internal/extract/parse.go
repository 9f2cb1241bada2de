package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object in model response")

// parseObject pulls a JSON object out of a model response. Models often
// wrap the answer in a ```json fence or surround it with prose; the fenced
// block is preferred, then the span from the first '{' to the last '}'.
func parseObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)

	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decoding model JSON: %w", err)
	}
	return pruneEmpty(out), nil
}

// pruneEmpty drops null and blank string values so that key fields the
// model could not find do not count as present.
func pruneEmpty(m map[string]any) map[string]any {
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			delete(m, k)
		case string:
			if strings.TrimSpace(x) == "" {
				delete(m, k)
			}
		}
	}
	return m
}
