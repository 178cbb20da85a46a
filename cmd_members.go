package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"library-loans/library"

	"github.com/spf13/cobra"
)

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage members"}

	add := &cobra.Command{
		Use:   "add <full-name> <email>",
		Short: "Register a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.mgr.AddMember(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.print(cmd, m, func(w io.Writer) {
				fmt.Fprintf(w, "Added member '%s' with ID %d\n", m.FullName, m.ID)
			})
		},
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := a.mgr.ListMembers(cmd.Context(), search)
			if err != nil {
				return err
			}
			return a.print(cmd, members, func(w io.Writer) {
				if len(members) == 0 {
					fmt.Fprintln(w, "No members.")
					return
				}
				fmt.Fprintf(w, "%-5s %-30s %s\n", "ID", "Name", "Email")
				fmt.Fprintln(w, strings.Repeat("-", 70))
				for _, m := range members {
					fmt.Fprintf(w, "%-5d %-30s %s\n", m.ID, m.FullName, m.Email)
				}
			})
		},
	}
	list.Flags().StringVar(&search, "search", "", "match name or email")

	show := &cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member with profile and loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			m, err := a.mgr.GetMember(ctx, id)
			if err != nil {
				return err
			}
			profile, err := a.mgr.GetProfile(ctx, id)
			if err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			loans, err := a.mgr.ListLoans(ctx, library.LoanFilter{MemberID: id, ActiveOnly: true})
			if err != nil {
				return err
			}
			total, err := a.mgr.MemberLoanCount(ctx, id)
			if err != nil {
				return err
			}
			view := struct {
				*library.Member
				Profile     *library.MemberProfile `json:"profile,omitempty"`
				ActiveLoans []*library.Loan        `json:"active_loans"`
				TotalLoans  int                    `json:"total_loans"`
			}{m, profile, loans, total}
			return a.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "Member %d: %s <%s>\n", m.ID, m.FullName, m.Email)
				if profile != nil {
					nick := "-"
					if profile.Nickname != nil {
						nick = *profile.Nickname
					}
					fmt.Fprintf(w, "  Nickname: %s  Risk: %s\n", nick, profile.RiskLevel)
				}
				fmt.Fprintf(w, "  Loans: %d total, %d active\n", total, len(loans))
				now := a.mgr.Now()
				for _, l := range loans {
					fmt.Fprintf(w, "  %s\n", library.PrettyLoan(l, now))
				}
			})
		},
	}

	var nickname, risk string
	profile := &cobra.Command{
		Use:   "profile <member-id>",
		Short: "Set a member's nickname and risk level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.mgr.SaveProfile(cmd.Context(), id, optional(nickname), library.RiskLevel(strings.ToUpper(risk)))
			if err != nil {
				return err
			}
			return a.print(cmd, p, func(w io.Writer) {
				fmt.Fprintf(w, "Saved profile for member %d (risk %s)\n", p.MemberID, p.RiskLevel)
			})
		},
	}
	profile.Flags().StringVar(&nickname, "nickname", "", "display name")
	profile.Flags().StringVar(&risk, "risk", string(library.RiskLow), "LOW, MED or HIGH")

	del := &cobra.Command{
		Use:   "delete <member-id>",
		Short: "Delete a member and their loan history (staff only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.requireStaff(cmd.Context()); err != nil {
				return err
			}
			if err := a.mgr.DeleteMember(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted member %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, show, profile, del)
	return cmd
}
