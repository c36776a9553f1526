// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the JSON bodies of the values API.
package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Requests
// =============================================================================

// ErrIndexMissing is returned by IndexText when the body has no index.
var ErrIndexMissing = errors.New("index is required")

// ErrIndexType is returned by IndexText for an index that is neither a
// string nor a number.
var ErrIndexType = errors.New("index must be a string or a number")

// SubmitRequest is the body of POST /values.
//
// Index accepts both {"index": "5"} and {"index": 5}, as browsers posting
// form values send strings and scripted clients send numbers.
type SubmitRequest struct {
	Index json.RawMessage `json:"index"`
}

// IndexText returns the submitted index as text for values.ParseIndex.
//
// # Outputs
//
//   - string: The string contents, or the literal JSON number.
//   - error: ErrIndexMissing for an absent or null index, ErrIndexType for
//     objects, arrays and booleans.
//
// # Examples
//
//	{"index": "7"}   -> "7"
//	{"index": 7}     -> "7"
//	{"index": 41.0}  -> "41"
//	{"index": 1e3}   -> "1000"
//	{"index": 7.5}   -> "7.5" (rejected later by ParseIndex)
//	{"index": true}  -> ErrIndexType
func (r SubmitRequest) IndexText() (string, error) {
	raw := bytes.TrimSpace(r.Index)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrIndexMissing
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return integralNumber(n.String()), nil
	default:
		return "", ErrIndexType
	}
}

// maxIntegerDigits is one more digit than int64 can hold. Integral numbers
// longer than this are cut to it, which still overflows in ParseIndex.
const maxIntegerDigits = 20

// maxExponent bounds exponent arithmetic. Anything past it is either far
// beyond int64 or far below 1.
const maxExponent = 1 << 20

// integralNumber rewrites a JSON number that has a fraction or exponent as a
// plain decimal integer when its value is integral, so 41.0 and 4.1e1 both
// become "41". Non-integral numbers are returned unchanged.
func integralNumber(num string) string {
	if !strings.ContainsAny(num, ".eE") {
		return num
	}

	mantissa, exp := num, 0
	if i := strings.IndexAny(num, "eE"); i >= 0 {
		mantissa = num[:i]
		e, err := strconv.Atoi(num[i+1:])
		switch {
		case err != nil && strings.HasPrefix(num[i+1:], "-"):
			e = -maxExponent
		case err != nil:
			e = maxExponent
		}
		exp = max(-maxExponent, min(e, maxExponent))
	}

	sign := ""
	if strings.HasPrefix(mantissa, "-") {
		sign, mantissa = "-", mantissa[1:]
	}
	intPart, fracPart, _ := strings.Cut(mantissa, ".")
	all := intPart + fracPart
	digits := strings.TrimLeft(all, "0")
	if digits == "" {
		return "0"
	}

	// point is where the decimal point falls within digits.
	point := len(intPart) + exp - (len(all) - len(digits))
	switch {
	case point <= 0:
		return num
	case point < len(digits):
		if strings.Trim(digits[point:], "0") != "" {
			return num
		}
		return sign + digits[:point]
	default:
		if point > maxIntegerDigits {
			point = max(maxIntegerDigits, len(digits))
		}
		return sign + digits + strings.Repeat("0", point-len(digits))
	}
}

// =============================================================================
// Responses
// =============================================================================

// SubmitResponse is returned once a submission has been fully recorded.
type SubmitResponse struct {
	Working bool `json:"working"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	// Error is the human-readable reason.
	Error string `json:"error"`

	// Code is the machine-readable reason, e.g. INDEX_TOO_HIGH.
	Code string `json:"code,omitempty"`

	// Details carries the internal cause when detail exposure is enabled.
	Details string `json:"details,omitempty"`
}

// DependencyStatus describes one dependency in health and readiness output.
type DependencyStatus struct {
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

// HealthResponse is returned by GET /health. The process answering is the
// health signal; dependency states are informational.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// ReadyResponse is returned by GET /ready.
type ReadyResponse struct {
	Ready        bool                        `json:"ready"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}
