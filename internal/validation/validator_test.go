// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

type testRequest struct {
	Namespace string   `validate:"required,keysafe,max=32"`
	Target    string   `validate:"required,target"`
	Backoff   string   `validate:"backoff"`
	Items     []string `validate:"min=1,max=3"`
	Retries   int      `validate:"gte=0,lte=10"`
}

func validRequest() testRequest {
	return testRequest{
		Namespace: "policy_migration",
		Target:    "legacy.export",
		Backoff:   "exponential",
		Items:     []string{"a"},
		Retries:   3,
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *testRequest)
		wantTag string
	}{
		{name: "valid", mutate: func(r *testRequest) {}},
		{name: "empty backoff allowed", mutate: func(r *testRequest) { r.Backoff = "" }},
		{name: "target with colon", mutate: func(r *testRequest) { r.Target = "queue:migrations/v1" }},
		{name: "missing namespace", mutate: func(r *testRequest) { r.Namespace = "" }, wantTag: "required"},
		{name: "NUL in namespace", mutate: func(r *testRequest) { r.Namespace = "a\x00b" }, wantTag: "keysafe"},
		{name: "newline in namespace", mutate: func(r *testRequest) { r.Namespace = "a\nb" }, wantTag: "keysafe"},
		{name: "bad target", mutate: func(r *testRequest) { r.Target = ".hidden target" }, wantTag: "target"},
		{name: "unknown backoff", mutate: func(r *testRequest) { r.Backoff = "random" }, wantTag: "backoff"},
		{name: "too many items", mutate: func(r *testRequest) { r.Items = []string{"a", "b", "c", "d"} }, wantTag: "max"},
		{name: "negative retries", mutate: func(r *testRequest) { r.Retries = -1 }, wantTag: "gte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := ValidateStruct(&req)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %s error, got nil", tt.wantTag)
			}
			if got := err.Fields[0].Tag; got != tt.wantTag {
				t.Errorf("tag = %q, want %q", got, tt.wantTag)
			}
		})
	}
}

func TestValidate_NilOnSuccess(t *testing.T) {
	req := validRequest()
	if err := Validate(&req); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	req.Namespace = ""
	if err := Validate(&req); err == nil {
		t.Fatal("Validate() = nil, want error")
	}
}

func TestToAPIError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		req := validRequest()
		req.Target = ""

		apiErr := ValidateStruct(&req).ToAPIError()
		if apiErr.Code != "VALIDATION_ERROR" {
			t.Errorf("Code = %q", apiErr.Code)
		}
		if apiErr.Message != "Target is required" {
			t.Errorf("Message = %q", apiErr.Message)
		}
		fields, ok := apiErr.Details["fields"].([]FieldError)
		if !ok || len(fields) != 1 || fields[0].Tag != "required" {
			t.Errorf("Details[fields] = %v", apiErr.Details["fields"])
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		req := validRequest()
		req.Target = ""
		req.Retries = 11

		apiErr := ValidateStruct(&req).ToAPIError()
		if !strings.Contains(apiErr.Message, "Target is required") ||
			!strings.Contains(apiErr.Message, "Retries must be less than or equal to 10") {
			t.Errorf("Message = %q", apiErr.Message)
		}
		fields, ok := apiErr.Details["fields"].([]FieldError)
		if !ok || len(fields) != 2 {
			t.Errorf("Details[fields] = %v", apiErr.Details["fields"])
		}
	})
}

type step struct {
	Ref string `json:"forward_ref" validate:"required,target"`
}

type plan struct {
	Name  string `json:"name" validate:"required"`
	Steps []step `json:"milestones" validate:"min=1,dive"`
}

func TestFieldPathsUseJSONNames(t *testing.T) {
	err := ValidateStruct(&plan{Name: "", Steps: []step{{Ref: "ok"}, {Ref: ""}}})
	if err == nil || len(err.Fields) != 2 {
		t.Fatalf("ValidateStruct = %v", err)
	}
	if err.Fields[0].Field != "name" || err.Fields[0].Message != "name is required" {
		t.Errorf("Fields[0] = %+v", err.Fields[0])
	}
	if err.Fields[1].Field != "milestones[1].forward_ref" {
		t.Errorf("Fields[1].Field = %q", err.Fields[1].Field)
	}

	err = ValidateStruct(&plan{Name: "p"})
	if err == nil || err.Fields[0].Message != "milestones must contain at least 1 items" {
		t.Errorf("empty milestones = %v", err)
	}
}
