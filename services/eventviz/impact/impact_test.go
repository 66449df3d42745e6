// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/eventviz/services/eventviz/graph"
	"github.com/AleutianAI/eventviz/services/eventviz/index"
)

const projectRoot = "/srv/shop"

// impactGraph: OrderPlaced -> Bill -> Charge -> ChargeFailed -> Notify
func impactGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph(projectRoot)
	steps := []struct {
		from, to graph.VisualizerNode
		via      string
	}{
		{graph.NewEvent(`App\Events\OrderPlaced`), graph.NewListener(`App\Listeners\Bill`, false), graph.ViaListens},
		{graph.NewListener(`App\Listeners\Bill`, false), graph.NewJob(`App\Jobs\Charge`), "dispatch"},
		{graph.NewJob(`App\Jobs\Charge`), graph.NewEvent(`App\Events\ChargeFailed`), "event"},
		{graph.NewEvent(`App\Events\ChargeFailed`), graph.NewListener(`App\Listeners\Notify`, false), graph.ViaListens},
	}
	for _, s := range steps {
		_, err := g.Connect(s.from, s.to, s.via)
		require.NoError(t, err)
	}
	g.Freeze()
	return g
}

func impactIndex(t *testing.T) *index.ClassIndex {
	t.Helper()
	idx := index.NewClassIndex()
	require.NoError(t, idx.Add(`App\Jobs\Charge`, filepath.Join(projectRoot, "app/Jobs/Charge.php")))
	require.NoError(t, idx.Add(`App\Listeners\Bill`, filepath.Join(projectRoot, "app/Listeners/Bill.php")))
	return idx
}

const sampleDiff = `diff --git a/app/Jobs/Charge.php b/app/Jobs/Charge.php
index 1111111..2222222 100644
--- a/app/Jobs/Charge.php
+++ b/app/Jobs/Charge.php
@@ -10,3 +10,4 @@ class Charge
     public function handle()
     {
-        event(new ChargeFailed());
+        event(new ChargeFailed($this->order));
+        Log::info('charged');
diff --git a/README.md b/README.md
index 3333333..4444444 100644
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-old
+new
diff --git a/app/Events/ChargeFailed.php b/app/Events/ChargeFailed.php
new file mode 100644
index 0000000..5555555
--- /dev/null
+++ b/app/Events/ChargeFailed.php
@@ -0,0 +1,2 @@
+<?php
+class ChargeFailed {}
diff --git a/app/Support/Helpers.php b/app/Support/Helpers.php
index 6666666..7777777 100644
--- a/app/Support/Helpers.php
+++ b/app/Support/Helpers.php
@@ -1 +1 @@
-<?php
+<?php // helpers
`

func TestAnalyze(t *testing.T) {
	opts := Options{
		ProjectRoot: projectRoot,
		Roots:       []index.Root{{Namespace: `App\Events\`, Dir: filepath.Join(projectRoot, "app/Events")}},
	}

	report, err := Analyze(context.Background(), []byte(sampleDiff), impactIndex(t), impactGraph(t), opts)
	require.NoError(t, err)

	require.Len(t, report.Files, 4)
	charge := report.Files[0]
	assert.Equal(t, "app/Jobs/Charge.php", charge.Path)
	assert.Equal(t, StatusModified, charge.Status)
	assert.Equal(t, 2, charge.LinesAdded)
	assert.Equal(t, 1, charge.LinesRemoved)
	assert.Equal(t, []string{`App\Jobs\Charge`}, charge.Classes)

	assert.Empty(t, report.Files[1].Classes)

	added := report.Files[2]
	assert.Equal(t, StatusAdded, added.Status)
	assert.Equal(t, []string{`App\Events\ChargeFailed`}, added.Classes)

	assert.Equal(t, []string{"app/Support/Helpers.php"}, report.Unmapped)

	require.Len(t, report.Affected, 2)
	assert.Equal(t, `event:App\Events\ChargeFailed`, report.Affected[0].ID)
	assert.Equal(t, "ChargeFailed", report.Affected[0].Name)
	assert.Equal(t, []string{`listener:App\Listeners\Notify`}, report.Affected[0].Downstream)
	assert.Equal(t, AffectedNode{
		ID:         `job:App\Jobs\Charge`,
		Name:       "Charge",
		Class:      `App\Jobs\Charge`,
		Type:       "job",
		Downstream: []string{`event:App\Events\ChargeFailed`, `listener:App\Listeners\Notify`},
		Upstream:   []string{`event:App\Events\OrderPlaced`, `listener:App\Listeners\Bill`},
	}, report.Affected[1])
}

func TestAnalyze_DeletedAndRenamed(t *testing.T) {
	raw := `diff --git a/app/Listeners/Bill.php b/app/Listeners/Bill.php
deleted file mode 100644
index 1111111..0000000
--- a/app/Listeners/Bill.php
+++ /dev/null
@@ -1,2 +0,0 @@
-<?php
-class Bill {}
diff --git a/app/Jobs/Charge.php b/app/Jobs/ChargeCard.php
similarity index 90%
rename from app/Jobs/Charge.php
rename to app/Jobs/ChargeCard.php
index 1111111..2222222 100644
--- a/app/Jobs/Charge.php
+++ b/app/Jobs/ChargeCard.php
@@ -1 +1 @@
-class Charge {}
+class ChargeCard {}
`
	report, err := Analyze(context.Background(), []byte(raw), impactIndex(t), impactGraph(t), Options{ProjectRoot: projectRoot})
	require.NoError(t, err)

	require.Len(t, report.Files, 2)
	assert.Equal(t, StatusDeleted, report.Files[0].Status)
	assert.Equal(t, "app/Listeners/Bill.php", report.Files[0].Path)
	assert.Equal(t, StatusRenamed, report.Files[1].Status)
	assert.Equal(t, "app/Jobs/Charge.php", report.Files[1].OldPath)

	var names []string
	for _, a := range report.Affected {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"Charge", "Bill"}, names)
}

func TestAnalyze_Errors(t *testing.T) {
	_, err := Analyze(context.Background(), []byte(sampleDiff), nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNilGraph)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Analyze(ctx, []byte(sampleDiff), nil, impactGraph(t), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_EmptyDiff(t *testing.T) {
	report, err := Analyze(context.Background(), nil, nil, impactGraph(t), Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Empty(t, report.Affected)
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "app/X.php", stripPrefix("a/app/X.php"))
	assert.Equal(t, "app/X.php", stripPrefix("b/app/X.php"))
	assert.Equal(t, "", stripPrefix(devNull))
	assert.Equal(t, "app/X.php", stripPrefix("app/X.php"))
}
