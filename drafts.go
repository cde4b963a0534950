package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newDraftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Manage locally stored drafts",
	}
	cmd.AddCommand(newDraftsListCmd())
	cmd.AddCommand(newDraftsDiscardCmd())
	return cmd
}

func newDraftsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			drafts, err := a.drafts.List()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Folder", "Size", "Saved"})
			total := 0
			for _, d := range drafts {
				total += d.Size
				t.AppendRow(table.Row{d.Folder, humanBytes(d.Size), time.Unix(d.UpdatedAt, 0).Format(time.DateTime)})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d draft(s)", len(drafts)), humanBytes(total), fmt.Sprintf("quota %s", humanBytes(int(a.cfg.DraftMaxBytes)))})
			t.Render()
			return nil
		},
	}
}

func newDraftsDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <folder>",
		Short: "Delete the stored draft of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.drafts.Discard(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded draft of %s\n", args[0])
			return nil
		},
	}
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
