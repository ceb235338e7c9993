// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers and
// configuration structs.
//
// Identifiers validated here end up in Badger keys, InfluxDB tags and file
// paths, so they are restricted to a conservative character set.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// namePattern matches scenario IDs and dataset names.
// Allows: lowercase letters, digits, dot, underscore, hyphen.
// Max length: 64 characters.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateRunID validates a run identifier (UUID).
//
// Example:
//
//	if err := validation.ValidateRunID(c.Param("runId")); err != nil {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	    return
//	}
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}
	return nil
}

// ValidateName validates a scenario ID or dataset name.
//
// Valid names:
//   - 1-64 characters
//   - lowercase letters a-z and digits 0-9
//   - dots, underscores and hyphens after the first character
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name format: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores or hyphens)", name)
	}
	return nil
}

// SanitizeName normalizes and validates a name.
// Returns the lowercase name if valid.
func SanitizeName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
