// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/eventviz/services/eventviz/ast"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string][]any
		want graph.EventListenerMap
	}{
		{
			name: "strings kept",
			raw:  map[string][]any{`App\Events\A`: {`App\Listeners\X`, `\App\Listeners\Y`}},
			want: graph.EventListenerMap{`App\Events\A`: {`App\Listeners\X`, `App\Listeners\Y`}},
		},
		{
			name: "pairs joined",
			raw:  map[string][]any{`\App\Events\A`: {[]any{`App\Listeners\X`, "onA"}, []string{`App\Listeners\Y`, "handle"}}},
			want: graph.EventListenerMap{`App\Events\A`: {`App\Listeners\X@onA`, `App\Listeners\Y@handle`}},
		},
		{
			name: "closure drops earlier entries",
			raw:  map[string][]any{`App\Events\A`: {`App\Listeners\X`, Closure{}, `App\Listeners\Y`}},
			want: graph.EventListenerMap{`App\Events\A`: {`App\Listeners\Y`}},
		},
		{
			name: "closure map form",
			raw:  map[string][]any{`App\Events\A`: {`App\Listeners\X`, map[string]any{"closure": true}}},
			want: graph.EventListenerMap{},
		},
		{
			name: "malformed entries ignored",
			raw:  map[string][]any{`App\Events\A`: {42, []any{"only-one"}, []any{1, 2}, `App\Listeners\X`}},
			want: graph.EventListenerMap{`App\Events\A`: {`App\Listeners\X`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "listeners.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
App\Events\UserRegistered:
  - App\Listeners\SendWelcome
  - [App\Listeners\Audit, onRegistered]
App\Events\Closured:
  - {closure: true}
`), 0o644))

	got, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, graph.EventListenerMap{
		`App\Events\UserRegistered`: {`App\Listeners\SendWelcome`, `App\Listeners\Audit@onRegistered`},
	}, got)

	jsonPath := filepath.Join(dir, "listeners.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"App\\Events\\Paid": ["App\\Listeners\\Mail"]}`), 0o644))

	got, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, graph.EventListenerMap{`App\Events\Paid`: {`App\Listeners\Mail`}}, got)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

const providerSource = `<?php

namespace App\Providers;

use App\Events\OrderShipped;
use App\Events\UserRegistered;
use App\Listeners\AuditLog;
use App\Listeners\SendWelcome;
use Illuminate\Foundation\Support\Providers\EventServiceProvider as ServiceProvider;
use Illuminate\Support\Facades\Event;

class EventServiceProvider extends ServiceProvider
{
    protected $listen = [
        UserRegistered::class => [
            SendWelcome::class,
            [AuditLog::class, 'onRegistered'],
        ],
        'App\\Events\\Legacy' => [
            '\\App\\Listeners\\LegacyHandler',
        ],
    ];

    public function boot()
    {
        Event::listen(OrderShipped::class, [AuditLog::class, 'onShipped']);
        Event::listen(OrderShipped::class, \App\Listeners\NotifyCustomer::class);
        Event::listen('App\\Events\\Pinged', function ($event) {
            logger('ping');
        });
        Cache::listen(OrderShipped::class, SendWelcome::class);
    }
}
`

func TestDiscoverFromProvider(t *testing.T) {
	got, err := DiscoverFromProvider(context.Background(), []byte(providerSource), "EventServiceProvider.php")
	require.NoError(t, err)

	assert.Equal(t, graph.EventListenerMap{
		`App\Events\UserRegistered`: {`App\Listeners\SendWelcome`, `App\Listeners\AuditLog@onRegistered`},
		`App\Events\Legacy`:         {`App\Listeners\LegacyHandler`},
		`App\Events\OrderShipped`:   {`App\Listeners\AuditLog@onShipped`, `App\Listeners\NotifyCustomer`},
	}, got)
}

func TestDiscoverFromProvider_ParseError(t *testing.T) {
	_, err := DiscoverFromProvider(context.Background(), []byte("<?php class {"), "broken.php")
	assert.ErrorIs(t, err, ast.ErrParseFailure)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	providerPath := filepath.Join(dir, "app", "Providers", "EventServiceProvider.php")
	require.NoError(t, os.MkdirAll(filepath.Dir(providerPath), 0o755))
	require.NoError(t, os.WriteFile(providerPath, []byte(providerSource), 0o644))

	events, err := Resolve(context.Background(), dir, "", "app/Providers/EventServiceProvider.php", nil)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	filePath := filepath.Join(dir, "listeners.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte("App\\Events\\X: [App\\Listeners\\Y]\n"), 0o644))

	events, err = Resolve(context.Background(), dir, "listeners.yaml", "app/Providers/EventServiceProvider.php", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.EventListenerMap{`App\Events\X`: {`App\Listeners\Y`}}, events)

	_, err = Resolve(context.Background(), dir, "", "missing/Provider.php", nil)
	assert.True(t, errors.Is(err, ErrNoRegistry))
}
