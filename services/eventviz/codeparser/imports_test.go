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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullyQualify(t *testing.T) {
	tests := []struct {
		name string
		src  string
		in   string
		want string
	}{
		{
			name: "no imports and no namespace returns name unchanged",
			src:  "<?php\nclass A {}\n",
			in:   "SomeClass",
			want: "SomeClass",
		},
		{
			name: "import resolves last segment",
			src:  "<?php\nuse A\\B\\X;\nclass C {}\n",
			in:   "X",
			want: `A\B\X`,
		},
		{
			name: "import with leading separator",
			src:  "<?php\nuse \\Illuminate\\Support\\Facades\\Event;\nclass C {}\n",
			in:   "Event",
			want: `Illuminate\Support\Facades\Event`,
		},
		{
			name: "alias resolves to target",
			src:  "<?php\nuse A\\B\\X as Y;\nclass C {}\n",
			in:   "Y",
			want: `A\B\X`,
		},
		{
			name: "aliased import does not match its last segment",
			src:  "<?php\nnamespace N;\nuse A\\B\\X as Y;\nclass C {}\n",
			in:   "X",
			want: `N\X`,
		},
		{
			name: "namespace fallback",
			src:  "<?php\nnamespace App\\Domain;\nclass C {}\n",
			in:   "X",
			want: `App\Domain\X`,
		},
		{
			name: "import wins over namespace",
			src:  "<?php\nnamespace App\\Domain;\nuse App\\Events\\X;\nclass C {}\n",
			in:   "X",
			want: `App\Events\X`,
		},
		{
			name: "leading separator is already qualified",
			src:  "<?php\nnamespace App\\Domain;\nclass C {}\n",
			in:   `\App\Events\SomeEvent`,
			want: `App\Events\SomeEvent`,
		},
		{
			name: "function imports are ignored",
			src:  "<?php\nnamespace N;\nuse function A\\X;\nclass C {}\n",
			in:   "X",
			want: `N\X`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t, tt.src)
			got, err := p.FullyQualify(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFullyQualify_MultipleImportsInOneLine(t *testing.T) {
	p := newTestParser(t, "<?php\nuse \\Event, \\Bus;\nclass C {}\n")

	_, err := p.FullyQualify("Event")
	require.ErrorIs(t, err, ErrUnsupportedSyntax)
}

func TestFullyQualify_GroupImport(t *testing.T) {
	p := newTestParser(t, "<?php\nuse App\\Events\\{A, B};\nclass C {}\n")

	_, err := p.FullyQualify("A")
	require.ErrorIs(t, err, ErrUnsupportedSyntax)
}

func TestImportTable_Namespace(t *testing.T) {
	p := newTestParser(t, "<?php\nnamespace App\\Listeners;\nuse App\\Jobs\\A;\nuse App\\Jobs\\B as C;\n")

	table, err := p.Imports()
	require.NoError(t, err)
	assert.Equal(t, `App\Listeners`, table.Namespace())
	assert.Equal(t, 2, table.Len())
}

func TestAreClassesSame(t *testing.T) {
	p := newTestParser(t, "<?php\nuse Illuminate\\Support\\Facades\\Event;\nclass C {}\n")

	same, err := p.AreClassesSame("Event", `\Illuminate\Support\Facades\Event`)
	require.NoError(t, err)
	assert.True(t, same)

	same, err = p.AreClassesSame("Event", "Bus")
	require.NoError(t, err)
	assert.False(t, same)
}
