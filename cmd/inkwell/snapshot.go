package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage project snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list PROJECT",
	Short: "List snapshots of a project, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListSnapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		usage := a.SnapshotUsage(args[0])
		if usage.SnapshotCount == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, m := range usage.Details {
			kind := "manual"
			if m.IsAutomatic {
				kind = "auto"
			}
			tags := ""
			if len(m.Tags) > 0 {
				tags = "  [" + strings.Join(m.Tags, ",") + "]"
			}
			fmt.Printf("%s  %-6s  %6d words  %8s  %s%s\n",
				m.ID,
				kind,
				m.WordCount,
				humanize.Bytes(uint64(m.Size)),
				m.Description,
				tags,
			)
		}
		fmt.Printf("\n%d snapshot(s), %s\n", usage.SnapshotCount, humanize.Bytes(uint64(usage.TotalSize)))
		return nil
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create PROJECT",
	Short: "Take a manual snapshot of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		a, err := newApp(cmd, "CreateSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.CreateSnapshot(cmd.Context(), args[0], description, tags)
		if err != nil {
			return err
		}
		fmt.Printf("Created snapshot %s (%s)\n", m.ID, m.Checksum)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Print a snapshot's content, or make it current with --apply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, _ := cmd.Flags().GetBool("apply")

		a, err := newApp(cmd, "RestoreSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.RestoreSnapshot(cmd.Context(), args[0], apply)
		if err != nil {
			return err
		}
		if apply {
			fmt.Printf("Restored %s from snapshot %s\n", p.ID, args[0])
			return nil
		}
		fmt.Print(p.Content)
		return nil
	},
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify ID",
	Short: "Recompute a snapshot's checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "VerifySnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.VerifySnapshot(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("snapshot %s failed checksum verification", args[0])
		}
		fmt.Printf("Snapshot %s OK\n", args[0])
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteSnapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteSnapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted snapshot %s\n", args[0])
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune PROJECT",
	Short: "Keep only the newest snapshots of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		a, err := newApp(cmd, "PruneSnapshots")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.PruneSnapshots(args[0], keep)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d snapshot(s)\n", n)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCreateCmd.Flags().StringP("description", "d", "", "Snapshot description")
	snapshotCreateCmd.Flags().StringSlice("tag", nil, "Tag to attach (repeatable)")
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().Bool("apply", false, "Save the snapshot back as the current version")
	snapshotCmd.AddCommand(snapshotVerifyCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
	snapshotPruneCmd.Flags().IntP("keep", "k", 0, "Snapshots to keep (default from config)")
}
