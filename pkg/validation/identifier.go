// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks configuration values that end up in SQL text or
// HTTP headers.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// identifierPattern matches an unquoted PostgreSQL identifier that fits
// NAMEDATALEN (63 bytes).
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier validates a table or column name.
//
// Valid identifiers:
//   - 1-63 characters
//   - Letters, digits and underscores
//   - Not starting with a digit
//
// Example:
//
//	if err := validation.ValidateIdentifier(cfg.Table); err != nil {
//	    return fmt.Errorf("ledger table: %w", err)
//	}
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier: %q (must be 1-63 letters, digits or underscores, not starting with a digit)", name)
	}
	return nil
}

// ValidateOrigin validates one CORS allowed origin. "*" is accepted;
// anything else must be an http or https origin with a host and no path,
// query or fragment. A single trailing slash is tolerated.
func ValidateOrigin(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid origin %q: scheme must be http or https", origin)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid origin %q: missing host", origin)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid origin %q: must not carry a path, query or fragment", origin)
	}
	return nil
}

// ValidateOrigins validates every origin and lists all invalid ones.
func ValidateOrigins(origins []string) error {
	var invalid []string
	for _, o := range origins {
		if err := ValidateOrigin(o); err != nil {
			invalid = append(invalid, o)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid origins: %v", invalid)
	}
	return nil
}
