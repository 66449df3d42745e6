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

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// PHPParserOption configures a PHPParser instance.
type PHPParserOption func(*PHPParser)

// WithMaxFileSize sets the maximum source size the parser will accept.
//
// Parameters:
//   - bytes: Maximum size in bytes. Non-positive values are ignored.
//
// Example:
//
//	parser := NewPHPParser(WithMaxFileSize(2 * 1024 * 1024))
func WithMaxFileSize(bytes int64) PHPParserOption {
	return func(p *PHPParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithTolerateSyntaxErrors makes the parser return trees that contain
// ERROR nodes instead of failing with ErrParseFailure.
func WithTolerateSyntaxErrors(tolerate bool) PHPParserOption {
	return func(p *PHPParser) {
		p.tolerateErrors = tolerate
	}
}

// WithParserLogger sets the logger used for parse diagnostics.
func WithParserLogger(logger *slog.Logger) PHPParserOption {
	return func(p *PHPParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// PHPParser is the syntax tree provider for PHP source units.
//
// Description:
//
//	Wraps the tree-sitter PHP grammar. Each Parse call creates its own
//	tree-sitter parser, so one PHPParser can be shared. By default a unit
//	containing syntax errors is rejected, since the resolvers would
//	otherwise report calls from half-recovered trees.
//
// Thread Safety:
//
//	Safe for concurrent use.
type PHPParser struct {
	maxFileSize    int64
	tolerateErrors bool
	logger         *slog.Logger
}

// NewPHPParser creates a PHPParser with the given options.
//
// Example:
//
//	parser := NewPHPParser()
//	tree, err := parser.Parse(ctx, src, "App\\Listeners\\SendMail")
//	if err != nil {
//	    return err
//	}
//	defer tree.Close()
func NewPHPParser(opts ...PHPParserOption) *PHPParser {
	p := &PHPParser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse turns one PHP source unit into a SyntaxTree.
//
// Description:
//
//	Validates size and encoding, parses with tree-sitter and checks the
//	result for syntax errors. The returned tree owns native memory and must
//	be closed by the caller once resolution of the unit completes.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - content: Raw PHP source.
//   - unit: Label for the unit (class name or file path), used in errors,
//     logs and spans.
//
// Outputs:
//   - *SyntaxTree: The parsed tree. Never nil on success.
//   - error: Wraps ErrParseFailure for every failure; ErrFileTooLarge and
//     ErrInvalidContent are wrapped alongside it when they apply.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *PHPParser) Parse(ctx context.Context, content []byte, unit string) (*SyntaxTree, error) {
	ctx, span := startParseSpan(ctx, unit, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("parse of %s canceled: %w", unit, err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: %w: size %d exceeds limit %d",
			ErrParseFailure, unit, ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("unit", unit),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: %w: content is not valid UTF-8", ErrParseFailure, unit, ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(php.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: tree-sitter: %v", ErrParseFailure, unit, err)
	}

	root := tree.RootNode()
	if root == nil {
		tree.Close()
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: tree-sitter returned nil root node", ErrParseFailure, unit)
	}

	if root.HasError() && !p.tolerateErrors {
		line := firstErrorLine(root)
		tree.Close()
		recordParseMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("%w: %s: syntax error near line %d", ErrParseFailure, unit, line)
	}

	st := &SyntaxTree{
		unit:    unit,
		content: content,
		tree:    tree,
		hash:    hex.EncodeToString(hash[:]),
	}

	setParseSpanResult(span, root.HasError())
	recordParseMetrics(ctx, time.Since(start), true)

	return st, nil
}

// firstErrorLine finds the 1-based line of the first ERROR or missing node.
func firstErrorLine(root *sitter.Node) int {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "ERROR" || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			c := n.Child(i)
			if c == nil {
				continue
			}
			if c.HasError() || c.IsMissing() {
				stack = append(stack, c)
			}
		}
	}
	return int(root.StartPoint().Row) + 1
}

// SyntaxTree is an immutable parsed PHP unit.
//
// Description:
//
//	Lives for the analysis of one class. Nodes obtained from the tree are
//	only valid until Close is called.
//
// Thread Safety:
//
//	Safe for concurrent reads. Close must not race with readers.
type SyntaxTree struct {
	unit    string
	content []byte
	tree    *sitter.Tree
	hash    string
}

// Root returns the program node.
func (t *SyntaxTree) Root() Node {
	if t == nil || t.tree == nil {
		return Node{}
	}
	return newNode(t.tree.RootNode(), t.content)
}

// Unit returns the label the tree was parsed under.
func (t *SyntaxTree) Unit() string {
	return t.unit
}

// Source returns the parsed source bytes.
func (t *SyntaxTree) Source() []byte {
	return t.content
}

// Hash returns the hex SHA256 of the source.
func (t *SyntaxTree) Hash() string {
	return t.hash
}

// Close releases the native tree-sitter tree.
func (t *SyntaxTree) Close() {
	if t != nil && t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}
