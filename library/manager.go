package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// LibraryManager is a thin façade over the Database, keeping CLI code simple.
type LibraryManager struct {
	*Database
}

// NewLibraryManager opens the store described by cfg.
func NewLibraryManager(ctx context.Context, cfg Config) (*LibraryManager, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{Database: db}, nil
}

// ------------------ Circulation ------------------

// Lend loans a book to a member for period, starting now. A non-positive
// period means DefaultLoanPeriod.
func (lm *LibraryManager) Lend(ctx context.Context, bookID, memberID int64, period time.Duration) (*Loan, error) {
	if period <= 0 {
		period = DefaultLoanPeriod
	}
	now := lm.now()
	return lm.LendUntil(ctx, bookID, memberID, now, now.Add(period))
}

// LendUntil loans a book to a member from loanedAt until dueAt.
func (lm *LibraryManager) LendUntil(ctx context.Context, bookID, memberID int64, loanedAt, dueAt time.Time) (*Loan, error) {
	book, err := lm.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	member, err := lm.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return lm.NewSession().CreateLoan(ctx, book, member, loanedAt, dueAt)
}

// Return closes the loan with the given id.
func (lm *LibraryManager) Return(ctx context.Context, loanID int64) (*Loan, error) {
	loan, err := lm.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return lm.NewSession().ReturnLoan(ctx, loan)
}

// ReturnByBook closes whatever loan is active on the book.
func (lm *LibraryManager) ReturnByBook(ctx context.Context, bookID int64) (*Loan, error) {
	loan, err := lm.ActiveLoanForBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return lm.NewSession().ReturnLoan(ctx, loan)
}

// ReturnMany returns every still-active loan among loanIDs through one
// session and reports the loans it closed. Loans already returned are
// skipped. An unknown id stops the run; loans closed before it stay closed.
func (lm *LibraryManager) ReturnMany(ctx context.Context, loanIDs ...int64) ([]*Loan, error) {
	s := lm.NewSession()
	returned := make([]*Loan, 0, len(loanIDs))
	for _, id := range loanIDs {
		loan, err := lm.GetLoan(ctx, id)
		if err != nil {
			return returned, err
		}
		if !loan.Active() {
			continue
		}
		loan, err = s.ReturnLoan(ctx, loan)
		if errors.Is(err, ErrAlreadyReturned) {
			continue
		}
		if err != nil {
			return returned, err
		}
		returned = append(returned, loan)
	}
	return returned, nil
}

// ------------------ Import ------------------

// ImportResult summarises an ImportCatalog run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

var importHeader = []string{"title", "isbn", "author", "country", "tags"}

// ImportCatalog loads books from CSV with the header
// title,isbn,author,country,tags. Tags are separated by ';'. Authors and tags
// are created on first use; rows whose ISBN already exists are skipped. A bad
// row is recorded and the import carries on.
func (lm *LibraryManager) ImportCatalog(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, h := range importHeader[:3] {
		if _, ok := cols[h]; !ok {
			return nil, fmt.Errorf("missing column %q: %w", h, ErrInvalidInput)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	res := &ImportResult{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		err = lm.importRow(ctx, field(rec, "title"), field(rec, "isbn"), field(rec, "author"),
			field(rec, "country"), field(rec, "tags"))
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, ErrDuplicate):
			res.Skipped++
		default:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
		}
	}

	lm.log.Info("catalog imported", "imported", res.Imported, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (lm *LibraryManager) importRow(ctx context.Context, title, isbn, authorName, country, tags string) error {
	if title == "" || isbn == "" || authorName == "" {
		return fmt.Errorf("title, isbn and author must be provided: %w", ErrInvalidInput)
	}
	if _, err := lm.GetBookByISBN(ctx, isbn); err == nil {
		return fmt.Errorf("isbn %q: %w", isbn, ErrDuplicate)
	}

	author, err := lm.GetAuthorByName(ctx, authorName)
	if errors.Is(err, ErrNotFound) {
		author, err = lm.AddAuthor(ctx, authorName, &country)
	}
	if err != nil {
		return err
	}

	book, err := lm.AddBook(ctx, title, isbn, author.ID)
	if err != nil {
		return err
	}
	for _, name := range strings.Split(tags, ";") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		tag, err := lm.ensureTag(ctx, name)
		if err != nil {
			return err
		}
		if _, err := lm.TagBook(ctx, book.ID, tag.ID); err != nil && !errors.Is(err, ErrDuplicate) {
			return err
		}
	}
	return nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-20s %-25s %-10s", b.ID, truncate(b.Title, 30), b.ISBN, truncate(b.AuthorName, 25), b.Status)
}

// PrettyLoan formats a loan for lists. Overdue loans are flagged against now.
func PrettyLoan(l *Loan, now time.Time) string {
	state := "active"
	switch {
	case l.ReturnedAt != nil:
		state = "returned " + l.ReturnedAt.Local().Format(time.DateOnly)
	case l.IsOverdue(now):
		state = "OVERDUE"
	}
	return fmt.Sprintf("%-5d %-6d %-6d %-10s %-10s %s", l.ID, l.BookID, l.MemberID,
		l.LoanedAt.Local().Format(time.DateOnly), l.DueAt.Local().Format(time.DateOnly), state)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
