package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newStaffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "staff", Short: "Manage staff accounts"}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a staff account (the first one needs no --staff)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exists, err := a.mgr.HasStaff(ctx)
			if err != nil {
				return err
			}
			if exists {
				if err := a.requireStaff(ctx); err != nil {
					return err
				}
			}

			password, err := readPassword(fmt.Sprintf("Enter password for %s: ", args[0]))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			st, err := a.mgr.AddStaff(ctx, args[0], password)
			if err != nil {
				return err
			}
			return a.print(cmd, st, func(w io.Writer) {
				fmt.Fprintf(w, "Added staff '%s' with ID %d\n", st.Username, st.ID)
			})
		},
	}

	cmd.AddCommand(add)
	return cmd
}
