package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListQueue")
		if err != nil {
			return err
		}
		defer a.Close()

		writes := a.QueuedWrites()
		if len(writes) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, w := range writes {
			size := "-"
			if w.Data != nil {
				size = humanize.Bytes(uint64(len(*w.Data)))
			}
			fmt.Printf("%s  %-6s  %-40s  %8s  retries:%d\n",
				w.Timestamp.Format("2006-01-02 15:04:05"),
				w.Operation,
				w.Key,
				size,
				w.RetryCount,
			)
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued write",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ClearQueue")
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.ClearQueue()
		fmt.Printf("Discarded %d queued write(s)\n", n)
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued writes now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DrainQueue")
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.DrainQueue(cmd.Context())
		if report.Skipped {
			if !a.IsOnline() {
				fmt.Println("Offline: queue not drained.")
			} else {
				fmt.Println("Another drain is in progress.")
			}
			return nil
		}
		fmt.Printf("Attempted %d, succeeded %d, dropped %d, remaining %d\n",
			report.Attempted, report.Succeeded, report.Dropped, report.Remaining)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueDrainCmd)
}
