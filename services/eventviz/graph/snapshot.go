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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key layout for graph snapshots.
const (
	keyPrefixSnap      = "eventviz:snap:"
	keyPrefixSnapIndex = "eventviz:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"

	defaultListLimit = 100
)

// ErrSnapshotNotFound is returned when a snapshot ID or latest pointer
// does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes a saved graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(ProjectRoot:BuiltAtMilli)[:16].
	SnapshotID string `json:"snapshot_id"`

	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16], used for key grouping.
	ProjectHash string `json:"project_hash"`

	GraphHash      string `json:"graph_hash"`
	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
	SchemaVersion  string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// snapshotKeys are the badger keys of one snapshot.
type snapshotKeys struct {
	data, meta, latest, index string
}

func keysFor(projectHash, snapshotID string) snapshotKeys {
	base := keyPrefixSnap + projectHash + ":"
	return snapshotKeys{
		data:   base + snapshotID + keySuffixData,
		meta:   base + snapshotID + keySuffixMeta,
		latest: keyPrefixSnap + projectHash + keySuffixLatest,
		index:  keyPrefixSnapIndex + snapshotID,
	}
}

// SnapshotManager stores dispatch graphs in BadgerDB.
//
// Description:
//
//	Each snapshot is the gzip-compressed JSON SerializableGraph plus a
//	metadata record. A per-project latest pointer and a reverse index
//	from snapshot ID to project are kept alongside.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a manager over an opened BadgerDB. The
// caller owns the DB.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a frozen graph and moves the project's latest pointer to it.
//
// Key Schema:
//
//	eventviz:snap:{projectHash}:{snapshotID}:data → gzip(JSON(SerializableGraph))
//	eventviz:snap:{projectHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	eventviz:snap:{projectHash}:latest            → snapshotID
//	eventviz:snap:index:{snapshotID}              → projectHash
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if !g.IsFrozen() {
		return nil, fmt.Errorf("graph must be frozen before saving")
	}

	sg := g.ToSerializable()
	payload, err := compressGraph(sg)
	if err != nil {
		return nil, err
	}

	projectHash := ProjectHash(g.ProjectRoot)
	snapshotID := hashString(fmt.Sprintf("%s:%d", g.ProjectRoot, g.BuiltAtMilli))[:16]

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectRoot:    g.ProjectRoot,
		ProjectHash:    projectHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	keys := keysFor(projectHash, snapshotID)
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, kv := range []struct {
			key string
			val []byte
		}{
			{keys.data, payload},
			{keys.meta, metaJSON},
			{keys.latest, []byte(snapshotID)},
			{keys.index, []byte(projectHash)},
		} {
			if err := txn.Set([]byte(kv.key), kv.val); err != nil {
				return fmt.Errorf("storing %s: %w", kv.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_root", g.ProjectRoot),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Outputs:
//   - error: Wraps ErrSnapshotNotFound for unknown IDs.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return m.loadByKeys(keysFor(projectHash, snapshotID), snapshotID)
}

// LoadLatest loads the most recent snapshot saved for a project hash.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectHash string) (*Graph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if projectHash == "" {
		return nil, nil, fmt.Errorf("project hash must not be empty")
	}

	snapshotID, err := m.readString(keyPrefixSnap + projectHash + keySuffixLatest)
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectHash, err)
	}
	return m.loadByKeys(keysFor(projectHash, snapshotID), snapshotID)
}

// List returns snapshot metadata, newest first. An empty projectHash lists
// every project. A non-positive limit means defaultListLimit.
func (m *SnapshotManager) List(ctx context.Context, projectHash string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	prefix := keyPrefixSnap
	if projectHash != "" {
		prefix = keyPrefixSnap + projectHash + ":"
	}

	results := []*SnapshotMetadata{}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}

			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. The latest pointer is removed too when it
// pointed at the deleted snapshot.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	keys := keysFor(projectHash, snapshotID)

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{keys.data, keys.meta, keys.index} {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get([]byte(keys.latest))
		if err != nil {
			return nil
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("reading latest pointer: %w", err)
		}
		if string(current) == snapshotID {
			if err := txn.Delete([]byte(keys.latest)); err != nil {
				return fmt.Errorf("deleting latest pointer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// loadByKeys reads, verifies and reconstructs one snapshot.
func (m *SnapshotManager) loadByKeys(keys snapshotKeys, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	var payload, metaJSON []byte

	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if payload, err = copyValue(txn, keys.data); err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, err)
		}
		if metaJSON, err = copyValue(txn, keys.meta); err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(payload); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	sg, err := decompressGraph(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding snapshot %s: %w", snapshotID, err)
	}

	g, err := FromSerializable(sg)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

// readString reads a string value, mapping a missing key to
// ErrSnapshotNotFound.
func (m *SnapshotManager) readString(key string) (string, error) {
	var val []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		val, err = copyValue(txn, key)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func copyValue(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func compressGraph(sg *SerializableGraph) ([]byte, error) {
	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressGraph(payload []byte) (*SerializableGraph, error) {
	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	var sg SerializableGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, fmt.Errorf("unmarshaling graph: %w", err)
	}
	return &sg, nil
}

// ProjectHash returns SHA256(projectRoot)[:16], the key prefix of a
// project's snapshots.
func ProjectHash(projectRoot string) string {
	return hashString(projectRoot)[:16]
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
