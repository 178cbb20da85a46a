package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"library-loans/library"

	"github.com/spf13/cobra"
)

func newAuthorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "author", Short: "Manage authors"}

	var country string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			au, err := a.mgr.AddAuthor(cmd.Context(), args[0], optional(country))
			if err != nil {
				return err
			}
			return a.print(cmd, au, func(w io.Writer) {
				fmt.Fprintf(w, "Added author '%s' with ID %d\n", au.Name, au.ID)
			})
		},
	}
	add.Flags().StringVar(&country, "country", "", "country of origin")

	list := &cobra.Command{
		Use:   "list",
		Short: "List authors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			authors, err := a.mgr.ListAuthors(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, authors, func(w io.Writer) {
				if len(authors) == 0 {
					fmt.Fprintln(w, "No authors.")
					return
				}
				fmt.Fprintf(w, "%-5s %-30s %s\n", "ID", "Name", "Country")
				fmt.Fprintln(w, strings.Repeat("-", 50))
				for _, au := range authors {
					c := ""
					if au.Country != nil {
						c = *au.Country
					}
					fmt.Fprintf(w, "%-5d %-30s %s\n", au.ID, au.Name, c)
				}
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <author-id>",
		Short: "Delete an author without books (staff only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.requireStaff(cmd.Context()); err != nil {
				return err
			}
			if err := a.mgr.DeleteAuthor(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted author %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage books"}

	var isbn string
	var authorID int64
	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.mgr.AddBook(cmd.Context(), args[0], isbn, authorID)
			if err != nil {
				return err
			}
			return a.print(cmd, b, func(w io.Writer) {
				fmt.Fprintf(w, "Added book ID %d\n", b.ID)
			})
		},
	}
	add.Flags().StringVar(&isbn, "isbn", "", "ISBN (unique)")
	add.Flags().Int64Var(&authorID, "author", 0, "author ID")
	_ = add.MarkFlagRequired("isbn")
	_ = add.MarkFlagRequired("author")

	var filter library.BookFilter
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = library.BookStatus(strings.ToUpper(status))
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			books, err := a.mgr.ListBooks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.print(cmd, books, func(w io.Writer) {
				if len(books) == 0 {
					fmt.Fprintln(w, "No books in library.")
					return
				}
				fmt.Fprintf(w, "%-5s %-30s %-20s %-25s %-10s\n", "ID", "Title", "ISBN", "Author", "Status")
				fmt.Fprintln(w, strings.Repeat("-", 95))
				for _, b := range books {
					fmt.Fprintln(w, library.PrettyBook(b))
				}
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "AVAILABLE, LOANED or LOST")
	list.Flags().Int64Var(&filter.AuthorID, "author", 0, "author ID")
	list.Flags().StringVar(&filter.Tag, "tag", "", "tag name")
	list.Flags().StringVar(&filter.Search, "search", "", "match title, ISBN or author")

	show := &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show a book with its tags and current loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			b, err := a.mgr.GetBook(ctx, id)
			if err != nil {
				return err
			}
			tags, err := a.mgr.BookTags(ctx, id)
			if err != nil {
				return err
			}
			loan, err := a.mgr.ActiveLoanForBook(ctx, id)
			if err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			view := struct {
				*library.Book
				Tags []*library.Tag `json:"tags"`
				Loan *library.Loan  `json:"active_loan,omitempty"`
			}{b, tags, loan}
			return a.print(cmd, view, func(w io.Writer) {
				fmt.Fprintf(w, "Book %d: %s\n", b.ID, b.Title)
				fmt.Fprintf(w, "  ISBN:   %s\n", b.ISBN)
				fmt.Fprintf(w, "  Author: %s (ID: %d)\n", b.AuthorName, b.AuthorID)
				fmt.Fprintf(w, "  Status: %s\n", b.Status)
				names := make([]string, 0, len(tags))
				for _, t := range tags {
					names = append(names, t.Name)
				}
				if len(names) > 0 {
					fmt.Fprintf(w, "  Tags:   %s\n", strings.Join(names, ", "))
				}
				if loan != nil {
					fmt.Fprintf(w, "  Loan:   %d to member %d, due %s\n", loan.ID, loan.MemberID, loan.DueAt.Local().Format("2006-01-02"))
				}
			})
		},
	}

	tag := &cobra.Command{
		Use:   "tag <book-id> <tag>",
		Short: "Attach a tag to a book, creating the tag if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := a.mgr.GetTagByName(ctx, args[1])
			if errors.Is(err, library.ErrNotFound) {
				t, err = a.mgr.AddTag(ctx, args[1], "")
			}
			if err != nil {
				return err
			}
			if _, err := a.mgr.TagBook(ctx, id, t.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tagged book %d with '%s'\n", id, t.Name)
			return nil
		},
	}

	lost := &cobra.Command{
		Use:   "lost <book-id>",
		Short: "Mark a book as lost (staff only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.requireStaff(cmd.Context()); err != nil {
				return err
			}
			b, err := a.mgr.NewSession().MarkLost(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(cmd, b, func(w io.Writer) {
				fmt.Fprintf(w, "Book %d '%s' is now %s\n", b.ID, b.Title, b.Status)
			})
		},
	}

	setStatus := &cobra.Command{
		Use:   "set-status <status> <book-id>...",
		Short: "Overwrite the status of books without touching loans (staff only)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := library.BookStatus(strings.ToUpper(args[0]))
			ids := make([]int64, 0, len(args)-1)
			for _, s := range args[1:] {
				id, err := parseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if err := a.requireStaff(cmd.Context()); err != nil {
				return err
			}
			n, err := a.mgr.NewSession().SetBookStatus(cmd.Context(), st, ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d book(s) to %s\n", n, st)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book that was never lent (staff only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.requireStaff(cmd.Context()); err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted book %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, show, tag, lost, setStatus, del)
	return cmd
}

func newTagCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "tag", Short: "Manage tags"}

	var description string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.mgr.AddTag(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			return a.print(cmd, t, func(w io.Writer) {
				fmt.Fprintf(w, "Added tag '%s' with ID %d\n", t.Name, t.ID)
			})
		},
	}
	add.Flags().StringVar(&description, "description", "", "what the tag means")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tags, err := a.mgr.ListTags(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, tags, func(w io.Writer) {
				for _, t := range tags {
					fmt.Fprintf(w, "%-5d %-20s %-6d %s\n", t.ID, t.Name, t.BookCount, t.Description)
				}
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import books from CSV (title,isbn,author,country,tags)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.mgr.ImportCatalog(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.print(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Import complete!\n")
				fmt.Fprintf(w, "Successfully imported: %d books\n", res.Imported)
				fmt.Fprintf(w, "Skipped (already present): %d\n", res.Skipped)
				fmt.Fprintf(w, "Errors: %d\n", res.Failed)
				for _, e := range res.Errors {
					fmt.Fprintf(w, "  %s\n", e)
				}
			})
		},
	}
}
