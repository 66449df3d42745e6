// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/eventviz/services/eventviz"
	"github.com/AleutianAI/eventviz/services/eventviz/graph"
)

type snapshotOptions struct {
	badger string
}

func newSnapshotCmd(root *rootOptions) *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, list, compare and delete stored graphs",
	}
	cmd.PersistentFlags().StringVar(&opts.badger, "badger", "", "Snapshot store directory (default storage.badger_path)")

	cmd.AddCommand(
		newSnapshotSaveCmd(root, opts),
		newSnapshotListCmd(root, opts),
		newSnapshotDiffCmd(root, opts),
		newSnapshotDeleteCmd(root, opts),
	)
	return cmd
}

// withStore opens the snapshot store of the project and runs fn.
func (o *snapshotOptions) withStore(cmd *cobra.Command, root *rootOptions, fn func(projectRoot string, mgr *graph.SnapshotManager) error) error {
	projectRoot, cfg, err := root.loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	db, err := openSnapshotStore(projectRoot, cfg, o.badger)
	if err != nil {
		return err
	}
	defer closeStore(db)

	mgr, err := graph.NewSnapshotManager(db, slog.Default())
	if err != nil {
		return err
	}
	return fn(projectRoot, mgr)
}

func newSnapshotSaveCmd(root *rootOptions, opts *snapshotOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Analyse the project and store the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, root, func(_ string, mgr *graph.SnapshotManager) error {
				ctx := cmd.Context()
				svc, err := root.newService(ctx, eventviz.WithSnapshotManager(mgr))
				if err != nil {
					return err
				}
				defer svc.Close()

				if _, err := svc.Analyze(ctx); err != nil {
					return err
				}
				meta, err := svc.SaveSnapshot(ctx, label)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), meta.SnapshotID)
				slog.Info("snapshot saved",
					slog.String("snapshot_id", meta.SnapshotID),
					slog.Int("nodes", meta.NodeCount),
					slog.Int("edges", meta.EdgeCount))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "Label stored with the snapshot")
	return cmd
}

func newSnapshotListCmd(root *rootOptions, opts *snapshotOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd, root, func(projectRoot string, mgr *graph.SnapshotManager) error {
				snaps, err := mgr.List(cmd.Context(), graph.ProjectHash(projectRoot), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if snaps == nil {
						snaps = []*graph.SnapshotMetadata{}
					}
					return writeJSON(cmd.OutOrStdout(), snaps)
				}
				printSnapshots(cmd.OutOrStdout(), snaps)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum snapshots to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printSnapshots(w io.Writer, snaps []*graph.SnapshotMetadata) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tNODES\tEDGES\tLABEL")
	for _, s := range snaps {
		created := time.UnixMilli(s.CreatedAtMilli).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.SnapshotID, created, s.NodeCount, s.EdgeCount, s.Label)
	}
	tw.Flush()
}

func newSnapshotDiffCmd(root *rootOptions, opts *snapshotOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd, root, func(_ string, mgr *graph.SnapshotManager) error {
				ctx := cmd.Context()
				base, _, err := mgr.Load(ctx, args[0])
				if err != nil {
					return err
				}
				target, _, err := mgr.Load(ctx, args[1])
				if err != nil {
					return err
				}
				diff, err := graph.DiffSnapshots(base, target, args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), diff)
				}
				printDiff(cmd.OutOrStdout(), diff)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printDiff(w io.Writer, d *graph.SnapshotDiff) {
	st := newStyler(w)
	if d.IsEmpty() {
		fmt.Fprintln(w, st.render(okStyle, "Snapshots are identical."))
		return
	}
	for _, id := range d.NodesAdded {
		fmt.Fprintf(w, "%s node %s\n", st.render(okStyle, "+"), id)
	}
	for _, id := range d.NodesRemoved {
		fmt.Fprintf(w, "%s node %s\n", st.render(errStyle, "-"), id)
	}
	for _, m := range d.NodesModified {
		fmt.Fprintf(w, "%s node %s (%s)\n", st.render(warnStyle, "~"), m.NodeID, m.ChangeType)
	}
	for _, e := range d.EdgesAdded {
		fmt.Fprintf(w, "%s edge %s\n", st.render(okStyle, "+"), e)
	}
	for _, e := range d.EdgesRemoved {
		fmt.Fprintf(w, "%s edge %s\n", st.render(errStyle, "-"), e)
	}
	fmt.Fprintf(w, "%d changes (%.0f%% of nodes)\n", d.Summary.TotalChanges, d.Summary.ChangeRatio*100)
}

var errDeleteNotConfirmed = errors.New("delete not confirmed: pass --yes to delete without a prompt")

func newSnapshotDeleteCmd(root *rootOptions, opts *snapshotOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !yes {
				ok, err := confirm(cmd, fmt.Sprintf("Delete snapshot %s?", id))
				if err != nil {
					return err
				}
				if !ok {
					return errDeleteNotConfirmed
				}
			}
			return opts.withStore(cmd, root, func(_ string, mgr *graph.SnapshotManager) error {
				if err := mgr.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking")
	return cmd
}

// confirm asks a yes/no question on an interactive terminal. Without one
// the answer is no.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(in) || !isTerminal(cmd.OutOrStdout()) {
		return false, nil
	}
	var answer bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Delete").
		Negative("Keep").
		Value(&answer).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return answer, nil
}
