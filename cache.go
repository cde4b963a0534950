package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local thumbnail cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge <folder>",
		Short: "Drop every cached thumbnail of a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			db, _, cache, err := a.openCache()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := cache.Purge(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached thumbnail(s) of %s\n", n, args[0])
			return nil
		},
	})
	return cmd
}
