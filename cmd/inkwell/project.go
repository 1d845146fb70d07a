package main

import (
	"bytes"
	"fmt"
	"io"

	"inkwell/internal/durable"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectSaveCmd = &cobra.Command{
	Use:   "save ID",
	Short: "Save a project, reading content from a file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")

		var content io.Reader
		if file != "" {
			data, err := readInput(file)
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			content = bytes.NewReader(data)
		}

		a, err := newApp(cmd, "SaveProject")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SaveProject(cmd.Context(), args[0], title, content)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("save failed: %s", res.Error)
		}
		if res.Message == durable.SaveMsgQueued {
			fmt.Printf("Offline: save of %s queued\n", args[0])
			return nil
		}
		fmt.Printf("Saved %s\n", args[0])
		return nil
	},
}

var projectLoadCmd = &cobra.Command{
	Use:   "load ID",
	Short: "Print a project's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "LoadProject")
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.LoadProject(args[0])
		if err != nil {
			return err
		}
		if meta, _ := cmd.Flags().GetBool("meta"); meta {
			fmt.Printf("ID:      %s\n", p.ID)
			fmt.Printf("Title:   %s\n", p.Title)
			fmt.Printf("Words:   %d\n", p.CurrentWordCount)
			fmt.Printf("Created: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated: %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		}
		fmt.Print(p.Content)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListProjects")
		if err != nil {
			return err
		}
		defer a.Close()

		projects := a.ListProjects()
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%-24s  %7d words  %-20s  %s\n",
				p.ID,
				p.CurrentWordCount,
				humanize.Time(p.UpdatedAt),
				p.Title,
			)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a project after taking a backup snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "DeleteProject")
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.DeleteProject(cmd.Context(), args[0])
		if !res.Success {
			return fmt.Errorf("delete failed: %s", res.Error)
		}
		if res.Message == durable.SaveMsgQueued {
			fmt.Printf("Offline: delete of %s queued\n", args[0])
			return nil
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var chapterCmd = &cobra.Command{
	Use:   "chapter",
	Short: "Manage chapters of a project",
}

var chapterSaveCmd = &cobra.Command{
	Use:   "save PROJECT CHAPTER",
	Short: "Save a chapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")
		order, _ := cmd.Flags().GetInt("order")

		c := durable.Chapter{ID: args[1], ProjectID: args[0], Title: title, Order: order}
		if file != "" {
			data, err := readInput(file)
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			c.Content = string(data)
		}

		a, err := newApp(cmd, "SaveChapter")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SaveChapter(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Printf("Saved chapter %s of %s\n", c.ID, c.ProjectID)
		return nil
	},
}

var chapterListCmd = &cobra.Command{
	Use:   "list PROJECT",
	Short: "List the chapters of a project in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "LoadChapters")
		if err != nil {
			return err
		}
		defer a.Close()

		chapters := a.LoadChapters(args[0])
		if len(chapters) == 0 {
			fmt.Println("No chapters.")
			return nil
		}
		for _, c := range chapters {
			fmt.Printf("%3d  %-20s  %6d words  %s\n", c.Order, c.ID, c.WordCount, c.Title)
		}
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectSaveCmd)
	projectSaveCmd.Flags().StringP("title", "t", "", "Project title")
	projectSaveCmd.Flags().StringP("file", "f", "", "Read content from file (- for stdin)")
	projectCmd.AddCommand(projectLoadCmd)
	projectLoadCmd.Flags().Bool("meta", false, "Print metadata instead of content")
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	projectCmd.AddCommand(chapterCmd)
	chapterCmd.AddCommand(chapterSaveCmd)
	chapterSaveCmd.Flags().StringP("title", "t", "", "Chapter title")
	chapterSaveCmd.Flags().StringP("file", "f", "", "Read content from file (- for stdin)")
	chapterSaveCmd.Flags().IntP("order", "o", 0, "Position within the project")
	chapterCmd.AddCommand(chapterListCmd)
}
