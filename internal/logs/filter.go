package logs

import (
	"encoding/json"
	"strings"
)

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	JobID    string
	MinLevel string
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

// Match reports whether line passes the filter.
func (f Filter) Match(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if f.JobID == "" && f.MinLevel == "" {
		return true
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return f.matchText(line)
	}
	if f.JobID != "" {
		if id, _ := record["job_id"].(string); id != f.JobID {
			return false
		}
	}
	if f.MinLevel != "" {
		level, _ := record["level"].(string)
		return rank(level) >= rank(f.MinLevel)
	}
	return true
}

func (f Filter) matchText(line string) bool {
	if f.JobID != "" && !strings.Contains(line, f.JobID) {
		return false
	}
	if f.MinLevel == "" {
		return true
	}
	upper := strings.ToUpper(line)
	for level, r := range levelRank {
		if r >= rank(f.MinLevel) && strings.Contains(upper, level) {
			return true
		}
	}
	return false
}

func rank(level string) int {
	if r, ok := levelRank[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return r
	}
	return 0
}
