// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
)

// GateType selects the aggregate a quality gate checks.
type GateType string

const (
	// GateErrorRate fails when the percentage of failed items exceeds Threshold.
	GateErrorRate GateType = "error_rate"

	// GateSuccessRate fails when the percentage of succeeded items is below Threshold.
	GateSuccessRate GateType = "success_rate"

	// GateDataQuality fails when the average item score is below Threshold.
	GateDataQuality GateType = "data_quality"

	// GateCompleteness fails when missing fields per processed item, as a
	// percentage, exceed Threshold.
	GateCompleteness GateType = "completeness"

	// GateMinItems fails when fewer than Threshold items were processed.
	GateMinItems GateType = "min_items"
)

// QualityGate is a threshold predicate evaluated after a wave's batches complete.
type QualityGate struct {
	Type      GateType `json:"type" validate:"required,oneof=error_rate success_rate data_quality completeness min_items"`
	Threshold float64  `json:"threshold" validate:"gte=0"`
}

func (g QualityGate) validate() error {
	switch g.Type {
	case GateErrorRate, GateSuccessRate, GateCompleteness:
		if g.Threshold > 100 {
			return fmt.Errorf("%s threshold is a percentage, got %v", g.Type, g.Threshold)
		}
	}
	return nil
}

// GateResult is the outcome of one gate.
type GateResult struct {
	Gate      GateType `json:"gate"`
	Passed    bool     `json:"passed"`
	Observed  float64  `json:"observed"`
	Threshold float64  `json:"threshold"`
}

// BatchOutcome is what a batch handler reports as its result.
type BatchOutcome struct {
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Scores        []float64 `json:"scores,omitempty"`
	MissingFields int       `json:"missing_fields"`
}

// Metrics aggregates batch outcomes over a wave.
type Metrics struct {
	Processed     int     `json:"processed"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	MissingFields int     `json:"missing_fields"`
	Scored        int     `json:"scored"`
	ScoreSum      float64 `json:"score_sum"`
}

// Add folds one batch outcome into m.
func (m *Metrics) Add(o BatchOutcome) {
	m.Succeeded += o.Succeeded
	m.Failed += o.Failed
	m.Processed += o.Succeeded + o.Failed
	m.MissingFields += o.MissingFields
	for _, s := range o.Scores {
		m.Scored++
		m.ScoreSum += s
	}
}

// AddResult decodes a batch handler's result and folds it in. An empty
// result counts as nothing processed.
func (m *Metrics) AddResult(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var o BatchOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("decode batch outcome: %w", err)
	}
	m.Add(o)
	return nil
}

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return round(float64(n) * 100 / float64(of))
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// ErrorRate is the percentage of processed items that failed.
func (m Metrics) ErrorRate() float64 { return percent(m.Failed, m.Processed) }

// SuccessRate is the percentage of processed items that succeeded.
func (m Metrics) SuccessRate() float64 { return percent(m.Succeeded, m.Processed) }

// MissingRate is missing fields per processed item, as a percentage.
func (m Metrics) MissingRate() float64 { return percent(m.MissingFields, m.Processed) }

// AverageScore is the mean item score, or 0 when nothing was scored.
func (m Metrics) AverageScore() float64 {
	if m.Scored == 0 {
		return 0
	}
	return round(m.ScoreSum / float64(m.Scored))
}

// Evaluate checks every gate against m. A data_quality gate fails when no
// item was scored.
func Evaluate(gates []QualityGate, m Metrics) []GateResult {
	results := make([]GateResult, 0, len(gates))
	for _, g := range gates {
		r := GateResult{Gate: g.Type, Threshold: g.Threshold}
		switch g.Type {
		case GateErrorRate:
			r.Observed = m.ErrorRate()
			r.Passed = r.Observed <= g.Threshold
		case GateSuccessRate:
			r.Observed = m.SuccessRate()
			r.Passed = m.Processed > 0 && r.Observed >= g.Threshold
		case GateDataQuality:
			r.Observed = m.AverageScore()
			r.Passed = m.Scored > 0 && r.Observed >= g.Threshold
		case GateCompleteness:
			r.Observed = m.MissingRate()
			r.Passed = r.Observed <= g.Threshold
		case GateMinItems:
			r.Observed = float64(m.Processed)
			r.Passed = r.Observed >= g.Threshold
		}
		results = append(results, r)
	}
	return results
}

// failedGates lists the gates that did not pass.
func failedGates(results []GateResult) string {
	var names []string
	for _, r := range results {
		if !r.Passed {
			names = append(names, fmt.Sprintf("%s (observed %v, threshold %v)", r.Gate, r.Observed, r.Threshold))
		}
	}
	return strings.Join(names, ", ")
}
