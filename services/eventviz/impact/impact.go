// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact maps a unified diff onto a dispatch graph and reports
// which events, listeners and jobs a change touches.
package impact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/index"
)

const devNull = "/dev/null"

var (
	// ErrNilGraph is returned when no graph is given.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrInvalidDiff is returned when the diff cannot be parsed.
	ErrInvalidDiff = errors.New("invalid diff")
)

// FileStatus is how a diff changes a file.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// ClassLookup returns the classes declared in an absolute file path.
// *index.ClassIndex satisfies it.
type ClassLookup interface {
	ClassesIn(path string) []string
}

// ChangedFile is one file of the diff.
type ChangedFile struct {
	Path         string     `json:"path"`
	OldPath      string     `json:"old_path,omitempty"`
	Status       FileStatus `json:"status"`
	LinesAdded   int        `json:"lines_added"`
	LinesRemoved int        `json:"lines_removed"`
	Classes      []string   `json:"classes"`
}

// AffectedNode is a graph node whose class the diff changes.
type AffectedNode struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
	Type  string `json:"type"`

	// Downstream holds the IDs of every node reachable from this one.
	Downstream []string `json:"downstream"`

	// Upstream holds the IDs of every node that reaches this one.
	Upstream []string `json:"upstream"`
}

// Report is the result of Analyze.
type Report struct {
	Files    []ChangedFile  `json:"files"`
	Affected []AffectedNode `json:"affected"`

	// Unmapped lists changed PHP files no class could be found for.
	Unmapped []string `json:"unmapped"`
}

// Options configures Analyze.
type Options struct {
	// ProjectRoot is joined with the relative diff paths.
	ProjectRoot string

	// Roots map files to classes when the lookup has no entry, as for
	// files added or deleted after indexing.
	Roots []index.Root
}

// Analyze reports the graph nodes touched by a unified diff.
//
// Description:
//
//	Each file of the diff is mapped to the classes it declares, first
//	through lookup and then through the PSR-4 roots. Every graph node
//	whose class is among them is reported with its transitive downstream
//	and upstream nodes. Non-PHP files are listed without classes.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - raw: A unified diff as produced by git diff.
//   - lookup: File to class mapping. May be nil when Roots are set.
//   - g: The dispatch graph.
//   - opts: Project root and PSR-4 roots.
//
// Outputs:
//   - *Report: Files, affected nodes sorted by ID, unmapped files.
//   - error: ErrInvalidDiff, ErrNilGraph or a context error.
func Analyze(ctx context.Context, raw []byte, lookup ClassLookup, g *graph.Graph, opts Options) (*Report, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	fileDiffs, err := diff.ParseMultiFileDiff(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiff, err)
	}

	byClass := make(map[string][]string)
	for _, n := range g.Nodes() {
		byClass[n.ClassName()] = append(byClass[n.ClassName()], n.ID())
	}

	report := &Report{Files: make([]ChangedFile, 0, len(fileDiffs))}
	touched := make(map[string]string)

	for _, fd := range fileDiffs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("impact analysis canceled: %w", err)
		}

		cf := changedFile(fd)
		if strings.HasSuffix(cf.Path, ".php") || strings.HasSuffix(cf.OldPath, ".php") {
			cf.Classes = classesOf(lookup, opts, cf)
			if len(cf.Classes) == 0 {
				report.Unmapped = append(report.Unmapped, cf.Path)
			}
		}
		for _, class := range cf.Classes {
			for _, id := range byClass[class] {
				touched[id] = class
			}
		}
		report.Files = append(report.Files, cf)
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n, _ := g.GetNode(id)
		report.Affected = append(report.Affected, AffectedNode{
			ID:         id,
			Name:       n.Name(),
			Class:      touched[id],
			Type:       n.Type.String(),
			Downstream: reach(g, id, func(n *graph.Node) []string { return n.Outgoing }),
			Upstream:   reach(g, id, func(n *graph.Node) []string { return n.Incoming }),
		})
	}
	return report, nil
}

func changedFile(fd *diff.FileDiff) ChangedFile {
	oldName := stripPrefix(fd.OrigName)
	newName := stripPrefix(fd.NewName)

	cf := ChangedFile{Path: newName, Status: StatusModified}
	switch {
	case fd.OrigName == devNull:
		cf.Status = StatusAdded
	case fd.NewName == devNull:
		cf.Status = StatusDeleted
		cf.Path = oldName
	case oldName != newName:
		cf.Status = StatusRenamed
		cf.OldPath = oldName
	}

	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				cf.LinesAdded++
			case strings.HasPrefix(line, "-"):
				cf.LinesRemoved++
			}
		}
	}
	return cf
}

// stripPrefix removes git's a/ and b/ path prefixes.
func stripPrefix(name string) string {
	if name == devNull {
		return ""
	}
	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, p) {
			return name[len(p):]
		}
	}
	return name
}

func classesOf(lookup ClassLookup, opts Options, cf ChangedFile) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(classes ...string) {
		for _, c := range classes {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}

	for _, rel := range []string{cf.Path, cf.OldPath} {
		if rel == "" {
			continue
		}
		abs := rel
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(opts.ProjectRoot, filepath.FromSlash(rel))
		}
		if lookup != nil {
			if classes := lookup.ClassesIn(abs); len(classes) > 0 {
				add(classes...)
				continue
			}
		}
		for _, root := range opts.Roots {
			if class, ok := root.ClassFor(abs); ok {
				add(class)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// reach returns the IDs reachable from start through next, sorted,
// start excluded.
func reach(g *graph.Graph, start string, next func(*graph.Node) []string) []string {
	seen := map[string]struct{}{start: {}}
	queue := []string{start}
	out := []string{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, ok := g.GetNode(id)
		if !ok {
			continue
		}
		for _, nb := range next(n) {
			if _, ok := seen[nb]; ok {
				continue
			}
			seen[nb] = struct{}{}
			out = append(out, nb)
			queue = append(queue, nb)
		}
	}
	sort.Strings(out)
	return out
}
