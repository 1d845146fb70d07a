package main

import (
	"fmt"
	"os"

	"inkwell/internal/durable"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Prune snapshots when storage is filling up",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Maintenance")
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.PerformMaintenance(cmd.Context())
		for _, action := range report.Actions {
			fmt.Println(action)
		}
		if !report.Success {
			return fmt.Errorf("maintenance did not complete")
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "StorageStats")
		if err != nil {
			return err
		}
		defer a.Close()

		s := a.StorageStats(cmd.Context())
		fmt.Printf("Projects:  %d\n", s.TotalProjects)
		fmt.Printf("Words:     %s\n", humanize.Comma(int64(s.TotalWordCount)))
		fmt.Printf("Snapshots: %d\n", s.SnapshotCount)
		fmt.Printf("Storage:   %s\n", humanize.Bytes(uint64(s.StorageUsed)))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check storage and connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Health")
		if err != nil {
			return err
		}
		defer a.Close()

		h := a.Health(cmd.Context())
		status := "healthy"
		if !h.Storage.Healthy {
			status = "UNHEALTHY: " + h.Storage.Error
		}
		online := "offline"
		if h.Connectivity.IsOnline {
			online = "online"
		}
		fmt.Printf("Storage: %s\n", status)
		fmt.Printf("Quota:   %s of %s used (%.0f%%, %s)\n",
			humanize.Bytes(uint64(h.Quota.Usage)),
			humanize.Bytes(uint64(h.Quota.Quota)),
			h.Quota.PercentUsed*100,
			h.Level,
		)
		fmt.Printf("Network: %s\n", online)
		fmt.Printf("Queued:  %d write(s)\n", h.Queued)
		if !h.Storage.Healthy {
			return fmt.Errorf("storage health check failed")
		}
		return nil
	},
}

var shadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Manage the shadow copy used for recovery",
}

var shadowSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Replace the shadow copy with the current store contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SaveShadowCopy")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.SaveShadowCopy()
		if err != nil {
			return err
		}
		fmt.Printf("Shadow copy saved: %d project(s), %d chapter(s)\n", s.Projects, s.Chapters)
		return nil
	},
}

var shadowInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the stored shadow copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShadowCopyInfo")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ShadowCopyInfo()
		if err != nil {
			return err
		}
		fmt.Printf("Saved:    %s (%s)\n", s.Timestamp.Format("2006-01-02 15:04:05"), humanize.Time(s.Timestamp))
		fmt.Printf("Version:  %s\n", s.Version)
		fmt.Printf("Projects: %d\n", s.Projects)
		fmt.Printf("Chapters: %d\n", s.Chapters)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Restore data from the remote, the shadow copy, or a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		noRemote, _ := cmd.Flags().GetBool("no-remote")
		noShadow, _ := cmd.Flags().GetBool("no-shadow")
		upload, _ := cmd.Flags().GetString("upload")

		opts := durable.RecoveryOptions{
			AttemptRemote:     !noRemote,
			AttemptShadowCopy: !noShadow,
		}
		if upload != "" {
			data, err := readInput(upload)
			if err != nil {
				return fmt.Errorf("reading backup: %w", err)
			}
			opts.RequireUserUpload = true
			opts.UserUpload = string(data)
		}

		a, err := newApp(cmd, "Recover")
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Recover(cmd.Context(), opts)
		if !res.Success {
			fmt.Println(res.Message)
			return fmt.Errorf("recovery failed: %s", res.Error)
		}
		fmt.Printf("Recovered %d project(s) and %d chapter(s) from %s\n",
			res.RecoveredProjects, res.RecoveredChapters, res.Tier)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a backup document",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "ExportBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		data, err := a.ExportBackup()
		if err != nil {
			return err
		}
		if output == "" || output == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0600); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
		fmt.Printf("Backup written to %s (%s)\n", output, humanize.Bytes(uint64(len(data))))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Restore a backup document written by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[0])
		if err != nil {
			return fmt.Errorf("reading backup: %w", err)
		}

		a, err := newApp(cmd, "ImportBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ImportBackup(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d project(s) and %d chapter(s)\n", res.RecoveredProjects, res.RecoveredChapters)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange the encrypted bundle with the remote",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload every project and chapter to the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SyncPush")
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.SyncPush(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pushed %d project(s) and %d chapter(s)\n", len(b.Projects), len(b.Chapters))
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the remote bundle into local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SyncPull")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SyncPull(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pulled %d project(s) and %d chapter(s)\n", res.RecoveredProjects, res.RecoveredChapters)
		return nil
	},
}

func init() {
	shadowCmd.AddCommand(shadowSaveCmd)
	shadowCmd.AddCommand(shadowInfoCmd)

	recoverCmd.Flags().Bool("no-remote", false, "Skip the remote tier")
	recoverCmd.Flags().Bool("no-shadow", false, "Skip the shadow copy tier")
	recoverCmd.Flags().String("upload", "", "Backup file to use when the other tiers fail (- for stdin)")

	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")

	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
}
