// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"fmt"
	"html/template"
	"io"
)

// DefaultMermaidVersion is the mermaid release loaded when none is set.
const DefaultMermaidVersion = "9.0.1"

// mermaidCDN is the script location; %s is the version.
const mermaidCDN = "https://cdnjs.cloudflare.com/ajax/libs/mermaid/%s/mermaid.min.js"

var pageTemplate = template.Must(template.New("events").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Events in {{ .Title }}</title>
</head>
<body>
<div>
  <div class="mermaid">
{{ .Diagram }}
  </div>
</div>
<script src="{{ .ScriptURL }}" crossorigin="anonymous" referrerpolicy="no-referrer"></script>
<script>mermaid.initialize({startOnLoad:true});</script>
{{- if .LiveReloadPath }}
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + {{ .LiveReloadPath }});
  ws.onmessage = function () { location.reload(); };
})();
</script>
{{- end }}
</body>
</html>
`))

// Page is the data for the HTML view.
type Page struct {
	// Title names the application.
	Title string

	// Diagram is the mermaid markup, usually from Mermaid.
	Diagram string

	// MermaidVersion selects the CDN release. Empty uses DefaultMermaidVersion.
	MermaidVersion string

	// LiveReloadPath, when set, is the websocket path whose messages
	// reload the page.
	LiveReloadPath string
}

type pageData struct {
	Page
	ScriptURL string
}

// HTML writes the visualizer page to w.
func HTML(w io.Writer, page Page) error {
	version := page.MermaidVersion
	if version == "" {
		version = DefaultMermaidVersion
	}
	if page.Title == "" {
		page.Title = "application"
	}
	data := pageData{Page: page, ScriptURL: fmt.Sprintf(mermaidCDN, version)}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	return nil
}
