// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var sourceTracer = otel.Tracer("eventviz.source")

var (
	// cacheLookups counts CachingLocator lookups.
	//
	// Labels:
	//   - result: "hit" or "miss"
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "source",
			Name:      "cache_lookups_total",
			Help:      "Source cache lookups by result.",
		},
		[]string{"result"},
	)

	// lookupsTotal counts ComposerLocator lookups.
	//
	// Labels:
	//   - result: "found", "rescanned" or "not_found"
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "source",
			Name:      "lookups_total",
			Help:      "Class source lookups by result.",
		},
		[]string{"result"},
	)

	// watchEvents counts debounced change batches delivered by Watcher.
	watchEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eventviz",
			Subsystem: "source",
			Name:      "watch_batches_total",
			Help:      "Debounced file change batches delivered.",
		},
	)
)
