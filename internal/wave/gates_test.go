// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package wave

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestMetricsAddResult(t *testing.T) {
	var m Metrics
	for _, raw := range []string{
		`{"succeeded":9,"failed":1,"scores":[0.5,1.0],"missing_fields":2}`,
		`{"succeeded":10,"failed":0}`,
		`null`,
		``,
	} {
		if err := m.AddResult(json.RawMessage(raw)); err != nil {
			t.Fatalf("AddResult(%q) failed: %v", raw, err)
		}
	}
	if m.Processed != 20 || m.Succeeded != 19 || m.Failed != 1 || m.MissingFields != 2 || m.Scored != 2 {
		t.Errorf("Metrics = %+v", m)
	}
	if got := m.ErrorRate(); got != 5 {
		t.Errorf("ErrorRate = %v, want 5", got)
	}
	if got := m.SuccessRate(); got != 95 {
		t.Errorf("SuccessRate = %v, want 95", got)
	}
	if got := m.MissingRate(); got != 10 {
		t.Errorf("MissingRate = %v, want 10", got)
	}
	if got := m.AverageScore(); got != 0.75 {
		t.Errorf("AverageScore = %v, want 0.75", got)
	}

	if err := m.AddResult(json.RawMessage(`"oops"`)); err == nil {
		t.Error("AddResult accepted a non-object result")
	}
}

func TestEvaluate(t *testing.T) {
	m := Metrics{Processed: 100, Succeeded: 92, Failed: 8, MissingFields: 3, Scored: 4, ScoreSum: 3.2}

	tests := []struct {
		name     string
		gate     QualityGate
		metrics  Metrics
		passed   bool
		observed float64
	}{
		{"error rate above max", QualityGate{GateErrorRate, 5}, m, false, 8},
		{"error rate at max", QualityGate{GateErrorRate, 8}, m, true, 8},
		{"success rate above min", QualityGate{GateSuccessRate, 90}, m, true, 92},
		{"success rate below min", QualityGate{GateSuccessRate, 95}, m, false, 92},
		{"success rate with nothing processed", QualityGate{GateSuccessRate, 0}, Metrics{}, false, 0},
		{"average score", QualityGate{GateDataQuality, 0.8}, m, true, 0.8},
		{"no scores", QualityGate{GateDataQuality, 0}, Metrics{Processed: 1, Succeeded: 1}, false, 0},
		{"completeness", QualityGate{GateCompleteness, 2}, m, false, 3},
		{"min items met", QualityGate{GateMinItems, 100}, m, true, 100},
		{"min items missed", QualityGate{GateMinItems, 101}, m, false, 100},
		{"error rate with nothing processed", QualityGate{GateErrorRate, 0}, Metrics{}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]QualityGate{tt.gate}, tt.metrics)
			if len(got) != 1 {
				t.Fatalf("results = %+v", got)
			}
			r := got[0]
			if r.Passed != tt.passed || r.Observed != tt.observed || r.Gate != tt.gate.Type || r.Threshold != tt.gate.Threshold {
				t.Errorf("result = %+v, want passed=%v observed=%v", r, tt.passed, tt.observed)
			}
		})
	}
}

func TestFailedGates(t *testing.T) {
	results := Evaluate([]QualityGate{
		{GateErrorRate, 5},
		{GateMinItems, 10},
	}, Metrics{Processed: 20, Succeeded: 18, Failed: 2})

	if got := failedGates(results); !strings.Contains(got, "error_rate") || strings.Contains(got, "min_items") {
		t.Errorf("failedGates = %q", got)
	}
	if got := failedGates(results[1:]); got != "" {
		t.Errorf("failedGates of passing gates = %q", got)
	}
}

func TestGateThresholdRange(t *testing.T) {
	for _, g := range []QualityGate{{GateErrorRate, 101}, {GateSuccessRate, 100.5}, {GateCompleteness, 200}} {
		if err := g.validate(); err == nil {
			t.Errorf("%s threshold %v accepted", g.Type, g.Threshold)
		}
	}
	for _, g := range []QualityGate{{GateMinItems, 5000}, {GateDataQuality, 250}, {GateErrorRate, 100}} {
		if err := g.validate(); err != nil {
			t.Errorf("%s threshold %v rejected: %v", g.Type, g.Threshold, err)
		}
	}
}
