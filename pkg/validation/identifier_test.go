// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"default table", "values", false},
		{"underscore lead", "_ledger", false},
		{"mixed", "Fib_Values_2", false},
		{"max length", "a" + strings.Repeat("b", 62), false},

		{"empty", "", true},
		{"too long", "a" + strings.Repeat("b", 63), true},
		{"digit lead", "2values", true},
		{"space", "fib values", true},
		{"statement", "values; DROP TABLE x", true},
		{"quote", `values"`, true},
		{"schema qualified", "public.values", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.ident, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"wildcard", "*", false},
		{"https", "https://app.example.com", false},
		{"http with port", "http://localhost:3000", false},
		{"trailing slash", "https://app.example.com/", false},

		{"no scheme", "app.example.com", true},
		{"ftp", "ftp://files.example.com", true},
		{"path", "https://app.example.com/login", true},
		{"query", "https://app.example.com?x=1", true},
		{"no host", "https://", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrigin(%q) error = %v, wantErr %v", tt.origin, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOrigins(t *testing.T) {
	if err := ValidateOrigins(nil); err != nil {
		t.Errorf("ValidateOrigins(nil) = %v, want nil", err)
	}
	err := ValidateOrigins([]string{"*", "bad", "https://ok.example.com", "worse"})
	if err == nil {
		t.Fatal("ValidateOrigins() = nil, want error")
	}
	if !strings.Contains(err.Error(), "bad") || !strings.Contains(err.Error(), "worse") {
		t.Errorf("error %q should list every invalid origin", err)
	}
}
