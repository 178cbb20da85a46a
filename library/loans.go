package library

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// CreateLoan lends book to member from loanedAt until dueAt. A zero loanedAt
// means now.
//
// The caller's snapshot of book is validated first so obviously invalid
// requests never open a transaction. Inside the transaction the book is read
// again and validated against the fresh row, then the loan is inserted and the
// book flipped to LOANED. Both writes commit together or not at all.
//
// A request that saw the book AVAILABLE but finds it LOANED once inside the
// transaction lost a race and gets a *UniqueActiveLoanViolation, as does any
// insert rejected by the one-active-loan-per-book index.
func (s *Session) CreateLoan(ctx context.Context, book *Book, member *Member, loanedAt, dueAt time.Time) (*Loan, error) {
	if book == nil || member == nil {
		return nil, fmt.Errorf("book and member must be provided: %w", ErrInvalidInput)
	}
	if loanedAt.IsZero() {
		loanedAt = s.db.now()
	}
	if err := ValidateLoanCreation(book, dueAt, loanedAt); err != nil {
		s.log.Info("loan rejected", "book_id", book.ID, "member_id", member.ID, "error", err)
		return nil, err
	}

	loan := &Loan{BookID: book.ID, MemberID: member.ID, LoanedAt: utc(loanedAt), DueAt: utc(dueAt)}
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.db.getBook(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if err := ValidateLoanCreation(current, dueAt, loanedAt); err != nil {
			if current.Status == StatusLoaned {
				return &UniqueActiveLoanViolation{BookID: book.ID, Err: err}
			}
			return err
		}

		id, err := s.db.insertID(ctx, tx,
			`INSERT INTO loans(book_id,member_id,loaned_at,due_at) VALUES(?,?,?,?) RETURNING id`,
			loan.BookID, loan.MemberID, loan.LoanedAt, loan.DueAt)
		if err != nil {
			if v, ok := s.db.dialect.classify(err); ok {
				switch {
				case v.kind == violationUnique && v.constraint == constraintActiveLoan:
					return &UniqueActiveLoanViolation{BookID: book.ID, Err: err}
				case v.kind == violationForeignKey:
					return fmt.Errorf("member %d: %w", member.ID, ErrNotFound)
				case v.kind == violationCheck:
					return &InvalidDateRangeError{LoanedAt: loanedAt, DueAt: dueAt}
				}
			}
			return fmt.Errorf("insert loan: %w", err)
		}
		loan.ID = id

		res, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE books SET status=? WHERE id=? AND status=?`),
			StatusLoaned, book.ID, StatusAvailable)
		if err != nil {
			return fmt.Errorf("update book status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			// Status changed under us after the insert, e.g. a concurrent
			// LOST override on an engine without write locks at BEGIN.
			if fresh, err := s.db.getBook(ctx, tx, book.ID); err == nil {
				return &BookNotAvailableError{BookID: fresh.ID, Title: fresh.Title, Status: fresh.Status}
			}
			return &BookNotAvailableError{BookID: book.ID, Title: book.Title}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("loan not created", "book_id", book.ID, "member_id", member.ID, "error", err)
		return nil, err
	}

	book.Status = StatusLoaned
	s.log.Info("loan created", "loan_id", loan.ID, "book_id", loan.BookID, "member_id", loan.MemberID,
		"due_at", loan.DueAt)
	return loan, nil
}

// ReturnLoan closes an active loan and makes its book AVAILABLE again. A book
// marked LOST in the meantime stays LOST. Returning twice fails with
// *AlreadyReturnedError.
func (s *Session) ReturnLoan(ctx context.Context, loan *Loan) (*Loan, error) {
	if loan == nil {
		return nil, fmt.Errorf("loan must be provided: %w", ErrInvalidInput)
	}
	if loan.ReturnedAt != nil {
		return nil, &AlreadyReturnedError{LoanID: loan.ID, ReturnedAt: *loan.ReturnedAt}
	}

	now := utc(s.db.now())
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE loans SET returned_at=? WHERE id=? AND returned_at IS NULL`),
			now, loan.ID)
		if err != nil {
			return fmt.Errorf("close loan: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			current, err := s.db.getLoan(ctx, tx, loan.ID)
			if err != nil {
				return err
			}
			e := &AlreadyReturnedError{LoanID: loan.ID}
			if current.ReturnedAt != nil {
				e.ReturnedAt = *current.ReturnedAt
			}
			return e
		}

		_, err = tx.ExecContext(ctx, s.db.rebind(`UPDATE books SET status=?
            WHERE status=? AND id=(SELECT book_id FROM loans WHERE id=?)`),
			StatusAvailable, StatusLoaned, loan.ID)
		if err != nil {
			return fmt.Errorf("update book status: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("loan not returned", "loan_id", loan.ID, "error", err)
		return nil, err
	}

	loan.ReturnedAt = &now
	s.log.Info("loan returned", "loan_id", loan.ID, "book_id", loan.BookID, "overdue", now.After(loan.DueAt))
	return loan, nil
}

// MarkLost flags a book as LOST. Loans are left untouched; an active loan on a
// lost book can still be returned but the book stays LOST. Marking a LOST book
// again is a no-op.
func (s *Session) MarkLost(ctx context.Context, bookID int64) (*Book, error) {
	var book *Book
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		b, err := s.db.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		book = b
		if !canMarkLost(b.Status) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE books SET status=? WHERE id=?`), StatusLost, bookID); err != nil {
			return fmt.Errorf("mark lost: %w", err)
		}
		s.log.Info("book marked lost", "book_id", bookID, "previous_status", b.Status)
		b.Status = StatusLost
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// SetBookStatus overwrites the status of many books at once. It does not look
// at loans, so it can leave a LOANED book without an active loan or the
// reverse; it exists for staff corrections only. Returns the number of rows
// changed.
func (s *Session) SetBookStatus(ctx context.Context, status BookStatus, bookIDs ...int64) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("status %q: %w", status, ErrInvalidInput)
	}
	if len(bookIDs) == 0 {
		return 0, nil
	}

	query, args, err := s.db.dialect.builder.
		Update("books").
		Set(goqu.Record{"status": string(status)}).
		Where(goqu.C("id").In(bookIDs)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build status update: %w", err)
	}
	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("set book status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.Warn("book status overridden", "status", status, "book_ids", bookIDs, "updated", n)
	return n, nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

const loanColumns = `id, book_id, member_id, loaned_at, due_at, returned_at`

func (d *Database) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return d.getLoan(ctx, d.db, id)
}

func (d *Database) getLoan(ctx context.Context, q sqlx.QueryerContext, id int64) (*Loan, error) {
	var l Loan
	if err := sqlx.GetContext(ctx, q, &l, d.rebind(`SELECT `+loanColumns+` FROM loans WHERE id=?`), id); err != nil {
		return nil, notFound(err, "loan", id)
	}
	return &l, nil
}

// ActiveLoanForBook returns the unreturned loan of a book, or ErrNotFound.
func (d *Database) ActiveLoanForBook(ctx context.Context, bookID int64) (*Loan, error) {
	var l Loan
	err := d.db.GetContext(ctx, &l,
		d.rebind(`SELECT `+loanColumns+` FROM loans WHERE book_id=? AND returned_at IS NULL`), bookID)
	if err != nil {
		return nil, notFound(err, "active loan for book", bookID)
	}
	return &l, nil
}

// LoanFilter narrows ListLoans. Zero fields are ignored.
type LoanFilter struct {
	BookID     int64
	MemberID   int64
	ActiveOnly bool
	// OverdueAt keeps only loans overdue at this instant.
	OverdueAt time.Time
}

// ListLoans returns loans newest first.
func (d *Database) ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error) {
	ds := d.dialect.builder.
		From("loans").
		Select("id", "book_id", "member_id", "loaned_at", "due_at", "returned_at").
		Order(goqu.C("loaned_at").Desc(), goqu.C("id").Desc())
	if f.BookID != 0 {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.MemberID != 0 {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID))
	}
	if f.ActiveOnly || !f.OverdueAt.IsZero() {
		ds = ds.Where(goqu.C("returned_at").IsNull())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	var loans []*Loan
	if err := d.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, err
	}
	if f.OverdueAt.IsZero() {
		return loans, nil
	}

	overdue := loans[:0]
	for _, l := range loans {
		if IsOverdue(l, f.OverdueAt) {
			overdue = append(overdue, l)
		}
	}
	return overdue, nil
}

// MemberLoanCount returns how many loans a member has ever taken.
func (d *Database) MemberLoanCount(ctx context.Context, memberID int64) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, d.rebind(`SELECT COUNT(*) FROM loans WHERE member_id=?`), memberID); err != nil {
		return 0, err
	}
	return n, nil
}
