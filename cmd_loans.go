package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"library-loans/library"

	"github.com/spf13/cobra"
)

func newLoanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Lend and return books"}

	var days int
	var due string
	lend := &cobra.Command{
		Use:   "lend <book-id> <member-id>",
		Short: "Lend a book to a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			memberID, err := parseID(args[1])
			if err != nil {
				return err
			}

			var loan *library.Loan
			if due != "" {
				dueAt, err := time.ParseInLocation(time.DateOnly, due, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --due %q, want YYYY-MM-DD", due)
				}
				loan, err = a.mgr.LendUntil(cmd.Context(), bookID, memberID, a.mgr.Now(), dueAt)
				if err != nil {
					return err
				}
			} else {
				loan, err = a.mgr.Lend(cmd.Context(), bookID, memberID, time.Duration(days)*24*time.Hour)
				if err != nil {
					return err
				}
			}
			return a.print(cmd, loan, func(w io.Writer) {
				fmt.Fprintf(w, "Loan %d: book %d lent to member %d, due %s\n",
					loan.ID, loan.BookID, loan.MemberID, loan.DueAt.Local().Format(time.DateOnly))
			})
		},
	}
	lend.Flags().IntVar(&days, "days", int(library.DefaultLoanPeriod/(24*time.Hour)), "loan period in days")
	lend.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD), overrides --days")

	var byBook bool
	ret := &cobra.Command{
		Use:   "return <loan-id>...",
		Short: "Return loans (or, with --book, whatever loan a book is on)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, s := range args {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			var loans []*library.Loan
			switch {
			case byBook:
				if len(ids) != 1 {
					return fmt.Errorf("--book takes exactly one book ID")
				}
				loan, err := a.mgr.ReturnByBook(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				loans = append(loans, loan)
			case len(ids) == 1:
				// A single loan reports a second return as an error.
				loan, err := a.mgr.Return(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				loans = append(loans, loan)
			default:
				var err error
				if loans, err = a.mgr.ReturnMany(cmd.Context(), ids...); err != nil {
					return err
				}
			}
			return a.print(cmd, loans, func(w io.Writer) {
				for _, loan := range loans {
					msg := "Returned"
					if loan.ReturnedAt.After(loan.DueAt) {
						msg = "Returned late"
					}
					fmt.Fprintf(w, "%s: loan %d, book %d\n", msg, loan.ID, loan.BookID)
				}
				if len(ids) > 1 {
					fmt.Fprintf(w, "%d loan(s) marked as returned.\n", len(loans))
				}
			})
		},
	}
	ret.Flags().BoolVar(&byBook, "book", false, "treat the argument as a book ID")

	var filter library.LoanFilter
	var overdue bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List loans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := a.mgr.Now()
			if overdue {
				filter.OverdueAt = now
			}
			loans, err := a.mgr.ListLoans(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.print(cmd, loans, func(w io.Writer) {
				if len(loans) == 0 {
					fmt.Fprintln(w, "No loans.")
					return
				}
				fmt.Fprintf(w, "%-5s %-6s %-6s %-10s %-10s %s\n", "ID", "Book", "Member", "Loaned", "Due", "State")
				fmt.Fprintln(w, strings.Repeat("-", 60))
				for _, l := range loans {
					fmt.Fprintln(w, library.PrettyLoan(l, now))
				}
			})
		},
	}
	list.Flags().Int64Var(&filter.BookID, "book", 0, "book ID")
	list.Flags().Int64Var(&filter.MemberID, "member", 0, "member ID")
	list.Flags().BoolVar(&filter.ActiveOnly, "active", false, "only loans not yet returned")
	list.Flags().BoolVar(&overdue, "overdue", false, "only overdue loans")

	cmd.AddCommand(lend, ret, list)
	return cmd
}
