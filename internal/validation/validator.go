// Wavesaga - Durable Saga and Wave Migration Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/wavesaga

// Package validation provides struct validation using go-playground/validator v10.
// It exposes a thread-safe singleton validator with the custom tags used by
// saga definitions, wave requests and WAL writes.
//
// Custom tags:
//   - keysafe: printable text without the NUL separator used in WAL index keys
//   - target: handler target reference (letters, digits, '.', '_', '-', ':', '/')
//   - backoff: one of fixed, linear, exponential
//
// Example usage:
//
//	type DesignRequest struct {
//	    Type string `validate:"required,keysafe,max=128"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    apiErr := err.ToAPIError()
//	    respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
//	    return
//	}
//
// Field paths in errors use JSON names, e.g. "milestones[1].forward_ref".
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	targetPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]*$`)
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// RequestValidationError collects every failed rule of one struct.
type RequestValidationError struct {
	Fields []FieldError
}

func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// APIError mirrors the HTTP error envelope without importing the api package.
type APIError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// ToAPIError converts the failures to the VALIDATION_ERROR envelope. The
// message joins all failures; details list them per field.
func (ve *RequestValidationError) ToAPIError() *APIError {
	return &APIError{
		Code:    "VALIDATION_ERROR",
		Message: ve.Error(),
		Details: map[string]interface{}{"fields": ve.Fields},
	}
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)

		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("keysafe", validateKeySafe)
		_ = validate.RegisterValidation("target", validateTarget)
		_ = validate.RegisterValidation("backoff", validateBackoff)
	})
	return validate
}

// jsonName reports fields under their JSON name, or the Go name when the
// field has no json tag.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// validateKeySafe rejects control characters, which includes the NUL key separator.
func validateKeySafe(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), unicode.IsControl) < 0
}

func validateTarget(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || targetPattern.MatchString(v)
}

func validateBackoff(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "fixed", "linear", "exponential":
		return true
	}
	return false
}

// ValidateStruct validates s. It returns nil when s is valid.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{Fields: []FieldError{{Field: "", Tag: "invalid", Message: err.Error()}}}
	}

	out := &RequestValidationError{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fieldPath(fe.Namespace()),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		}
	}
	return out
}

// Validate is ValidateStruct returning a plain error, nil when valid.
// It avoids the typed-nil trap when callers only need the error interface.
func Validate(s interface{}) error {
	if verr := ValidateStruct(s); verr != nil {
		return verr
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// messages maps a tag to a template over the field name (%[1]s) and the
// tag parameter (%[2]s).
var messages = map[string]string{
	"required": "%[1]s is required",
	"keysafe":  "%[1]s must not contain control characters",
	"target":   "%[1]s must be a handler target (letters, digits, '.', '_', '-', ':', '/')",
	"backoff":  "%[1]s must be one of: fixed, linear, exponential",
	"unique":   "%[1]s must not contain duplicates",
	"oneof":    "%[1]s must be one of: %[2]s",
	"gte":      "%[1]s must be greater than or equal to %[2]s",
	"lte":      "%[1]s must be less than or equal to %[2]s",
	"gt":       "%[1]s must be greater than %[2]s",
	"lt":       "%[1]s must be less than %[2]s",
}

func message(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, param)
	}

	var bound string
	switch fe.Tag() {
	case "min":
		bound = "at least"
	case "max":
		bound = "at most"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
	switch fe.Kind() {
	case reflect.Slice, reflect.Map:
		return fmt.Sprintf("%s must contain %s %s items", field, bound, param)
	case reflect.String:
		return fmt.Sprintf("%s must be %s %s characters", field, bound, param)
	}
	return fmt.Sprintf("%s must be %s %s", field, bound, param)
}
