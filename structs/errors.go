// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"errors"
	"fmt"
)

const (
	ErrCodeBadIdentifier = "bad_identifier"
	ErrCodeBadEnum       = "bad_enum"
	ErrCodeBadValue      = "bad_value"
	ErrCodeBadDateRange  = "bad_date_range"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeForbidden     = "forbidden"
	ErrCodeSwapState     = "bad_swap_state"
	ErrCodeSwapWindow    = "rollback_window_expired"
	ErrCodeSwapLimit     = "pending_swap_limit"
)

var (
	// ErrCASConflict is returned by the record store when an optimistic
	// concurrency check fails.
	ErrCASConflict = errors.New("compare-and-swap conflict")

	// ErrRunTerminal is returned when an operation targets a run that has
	// already reached a terminal status.
	ErrRunTerminal = errors.New("run is in a terminal state")

	// ErrUnsupportedSwapKind is returned when execution is requested for a
	// swap kind that has no executor (multi-way).
	ErrUnsupportedSwapKind = errors.New("swap kind has no executor")
)

// ValidationError describes malformed caller-supplied data. It is surfaced
// verbatim and never retried.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (v *ValidationError) Error() string {
	if v.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Code, v.Message, v.Field)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// MutationResult is the structured outcome of a mutation request.
type MutationResult struct {
	Success  bool               `json:"success"`
	Errors   []*ValidationError `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// MutationOK is the zero-failure result.
func MutationOK() *MutationResult {
	return &MutationResult{Success: true}
}

// MutationFailed builds a failed result from one or more errors.
func MutationFailed(errs ...*ValidationError) *MutationResult {
	return &MutationResult{Success: false, Errors: errs}
}

// AddWarning appends a warning to the result and returns it for chaining.
func (m *MutationResult) AddWarning(w string) *MutationResult {
	m.Warnings = append(m.Warnings, w)
	return m
}
