// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import "errors"

// Size limits applied by the PHP parser.
const (
	// DefaultMaxFileSize is the largest source unit the parser accepts (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged before parsing.
	WarnFileSize = 1024 * 1024
)

var (
	// ErrParseFailure is returned when a source unit cannot be turned into a
	// usable syntax tree. The more specific errors below wrap alongside it.
	ErrParseFailure = errors.New("parse failure")

	// ErrFileTooLarge indicates the source exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the source is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)
