package library

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("library: record not found")
	ErrDuplicate          = errors.New("library: duplicate record")
	ErrBookNotAvailable   = errors.New("library: book not available")
	ErrInvalidDateRange   = errors.New("library: due date must be after loan date")
	ErrAlreadyReturned    = errors.New("library: loan already returned")
	ErrProtected          = errors.New("library: record is referenced and cannot be deleted")
	ErrInvalidCredentials = errors.New("library: invalid credentials")
	ErrInvalidInput       = errors.New("library: invalid input")
)

// BookNotAvailableError is returned when a loan is requested for a book whose
// status is not AVAILABLE.
type BookNotAvailableError struct {
	BookID int64
	Title  string
	Status BookStatus
}

func (e *BookNotAvailableError) Error() string {
	return fmt.Sprintf("book %d %q is not available (status: %s)", e.BookID, e.Title, e.Status)
}

func (e *BookNotAvailableError) Is(target error) bool { return target == ErrBookNotAvailable }

// InvalidDateRangeError is returned when the due time is not strictly after
// the loan time.
type InvalidDateRangeError struct {
	LoanedAt time.Time
	DueAt    time.Time
}

func (e *InvalidDateRangeError) Error() string {
	return fmt.Sprintf("due date %s must be after loan date %s",
		e.DueAt.Format(time.RFC3339), e.LoanedAt.Format(time.RFC3339))
}

func (e *InvalidDateRangeError) Is(target error) bool { return target == ErrInvalidDateRange }

// UniqueActiveLoanViolation means the store already holds an active loan for
// the book. Callers should treat it like ErrBookNotAvailable: reload the book
// before trying again, never replay the same write.
type UniqueActiveLoanViolation struct {
	BookID int64
	Err    error
}

func (e *UniqueActiveLoanViolation) Error() string {
	return fmt.Sprintf("book %d already has an active loan", e.BookID)
}

func (e *UniqueActiveLoanViolation) Unwrap() error { return e.Err }

func (e *UniqueActiveLoanViolation) Is(target error) bool { return target == ErrBookNotAvailable }

// AlreadyReturnedError is returned when returning a loan twice.
type AlreadyReturnedError struct {
	LoanID     int64
	ReturnedAt time.Time
}

func (e *AlreadyReturnedError) Error() string {
	if e.ReturnedAt.IsZero() {
		return fmt.Sprintf("loan %d was already returned", e.LoanID)
	}
	return fmt.Sprintf("loan %d was already returned at %s", e.LoanID, e.ReturnedAt.Format(time.RFC3339))
}

func (e *AlreadyReturnedError) Is(target error) bool { return target == ErrAlreadyReturned }

// ProtectedError reports a delete blocked by rows that still reference the
// record.
type ProtectedError struct {
	Entity string
	ID     int64
	By     string
	Err    error
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("cannot delete %s %d: still referenced by %s", e.Entity, e.ID, e.By)
}

func (e *ProtectedError) Unwrap() error { return e.Err }

func (e *ProtectedError) Is(target error) bool { return target == ErrProtected }
