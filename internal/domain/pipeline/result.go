package pipeline

import (
	"encoding/json"
	"strings"
)

// RiskSummary is the overall rating an analysis result may carry under
// its "risk" key.
type RiskSummary struct {
	Level   string `json:"level"`
	Details string `json:"details,omitempty"`
}

// Risk reads the risk summary of a final result. It reports false when the
// result has no usable risk level.
func Risk(result json.RawMessage) (RiskSummary, bool) {
	if len(result) == 0 {
		return RiskSummary{}, false
	}
	var doc struct {
		Risk *RiskSummary `json:"risk"`
	}
	if err := json.Unmarshal(result, &doc); err != nil || doc.Risk == nil {
		return RiskSummary{}, false
	}
	doc.Risk.Level = strings.TrimSpace(doc.Risk.Level)
	if doc.Risk.Level == "" {
		return RiskSummary{}, false
	}
	return *doc.Risk, true
}
