package library

import (
	"fmt"
	"time"
)

// DefaultLoanPeriod is used when a caller does not pick a due date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// ValidateLoanCreation checks whether book may be lent from loanedAt until
// dueAt. A zero loanedAt means now. It has no side effects and must be called
// again against fresh state on every write attempt.
func ValidateLoanCreation(book *Book, dueAt, loanedAt time.Time) error {
	if book == nil {
		return fmt.Errorf("book must be provided: %w", ErrInvalidInput)
	}
	if loanedAt.IsZero() {
		loanedAt = time.Now()
	}
	if book.Status != StatusAvailable {
		return &BookNotAvailableError{BookID: book.ID, Title: book.Title, Status: book.Status}
	}
	if !dueAt.After(loanedAt) {
		return &InvalidDateRangeError{LoanedAt: loanedAt, DueAt: dueAt}
	}
	return nil
}

// IsOverdue reports whether loan is still active and its due time has passed
// at now.
func IsOverdue(loan *Loan, now time.Time) bool {
	return loan.ReturnedAt == nil && now.After(loan.DueAt)
}

// canMarkLost reports whether a manual LOST override applies. LOST is
// terminal, so only AVAILABLE and LOANED books move.
func canMarkLost(s BookStatus) bool {
	return s == StatusAvailable || s == StatusLoaned
}
