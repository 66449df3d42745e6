// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strings"
)

// NodeType tags a VisualizerNode.
type NodeType int

const (
	// NodeTypeEvent is a published event class.
	NodeTypeEvent NodeType = iota

	// NodeTypeListener is a class, optionally with a handler method,
	// registered against an event.
	NodeTypeListener

	// NodeTypeJob is a queued or synchronously dispatched job class.
	NodeTypeJob
)

// String returns the mermaid class name of the type.
func (t NodeType) String() string {
	switch t {
	case NodeTypeEvent:
		return "event"
	case NodeTypeListener:
		return "listener"
	case NodeTypeJob:
		return "job"
	default:
		return "unknown"
	}
}

// ParseNodeType converts a string produced by NodeType.String.
func ParseNodeType(s string) (NodeType, error) {
	switch s {
	case "event":
		return NodeTypeEvent, nil
	case "listener":
		return NodeTypeListener, nil
	case "job":
		return NodeTypeJob, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

// handlerSeparator separates a listener class from its handler method.
const handlerSeparator = "@"

// VisualizerNode is one class in the dispatch graph.
//
// Description:
//
//	Class is the fully-qualified class name, optionally suffixed with
//	"@handlerMethod" for subscriber style listeners. ShowHandler selects
//	whether the handler suffix appears in the display name.
type VisualizerNode struct {
	Type        NodeType
	Class       string
	ShowHandler bool
}

// NewEvent creates an event node.
func NewEvent(class string) VisualizerNode {
	return VisualizerNode{Type: NodeTypeEvent, Class: class}
}

// NewListener creates a listener node.
func NewListener(class string, showHandler bool) VisualizerNode {
	return VisualizerNode{Type: NodeTypeListener, Class: class, ShowHandler: showHandler}
}

// NewJob creates a job node.
func NewJob(class string) VisualizerNode {
	return VisualizerNode{Type: NodeTypeJob, Class: class}
}

// Name returns the display name: the short class name, with the handler
// rendered as "-handler" when shown and dropped otherwise.
//
// Example:
//
//	NewListener(`App\Listeners\Audit@onLogin`, true).Name()  // "Audit-onLogin"
//	NewListener(`App\Listeners\Audit@onLogin`, false).Name() // "Audit"
func (n VisualizerNode) Name() string {
	name := n.Class
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	if n.ShowHandler {
		return strings.ReplaceAll(name, handlerSeparator, "-")
	}
	if i := strings.Index(name, handlerSeparator); i >= 0 {
		return name[:i]
	}
	return name
}

// ID returns the node identity: the type tag and the fully-qualified
// class, with the handler kept only when it is shown.
//
// Example:
//
//	NewJob(`App\Jobs\Notify`).ID()                       // "job:App\\Jobs\\Notify"
//	NewListener(`App\Listeners\Audit@onLogin`, false).ID() // "listener:App\\Listeners\\Audit"
//	NewListener(`App\Listeners\Audit@onLogin`, true).ID()  // "listener:App\\Listeners\\Audit@onLogin"
func (n VisualizerNode) ID() string {
	class := n.Class
	if !n.ShowHandler {
		class = n.ClassName()
	}
	return n.Type.String() + ":" + class
}

// ClassName returns the class without any handler suffix.
func (n VisualizerNode) ClassName() string {
	if i := strings.Index(n.Class, handlerSeparator); i >= 0 {
		return n.Class[:i]
	}
	return n.Class
}

// Handler returns the handler method, or "" when none is set.
func (n VisualizerNode) Handler() string {
	if i := strings.Index(n.Class, handlerSeparator); i >= 0 {
		return n.Class[i+1:]
	}
	return ""
}

// String returns the mermaid node form Name(Name):::type.
func (n VisualizerNode) String() string {
	return n.Mermaid(n.Name())
}

// Mermaid returns the mermaid node form using mermaidID as the node key.
func (n VisualizerNode) Mermaid(mermaidID string) string {
	return fmt.Sprintf("%s(%s):::%s", mermaidID, n.Name(), n.Type)
}
