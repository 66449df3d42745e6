// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codeparser

import "errors"

var (
	// ErrUnsupportedSyntax is returned when a recognised construct is
	// encountered that the resolvers deliberately do not handle, such as a
	// multi-clause use statement or a method call on a static call result.
	ErrUnsupportedSyntax = errors.New("unsupported syntax")

	// ErrNilTree is returned by New when no syntax tree is supplied.
	ErrNilTree = errors.New("syntax tree must not be nil")
)
