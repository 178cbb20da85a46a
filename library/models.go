package library

import "time"

// BookStatus is the lending state of a physical book.
type BookStatus string

const (
	StatusAvailable BookStatus = "AVAILABLE"
	StatusLoaned    BookStatus = "LOANED"
	StatusLost      BookStatus = "LOST"
)

// Valid reports whether s is one of the known statuses.
func (s BookStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusLoaned, StatusLost:
		return true
	}
	return false
}

// RiskLevel grades a member based on their loan history.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MED"
	RiskHigh   RiskLevel = "HIGH"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Author groups books. It cannot be deleted while books reference it.
type Author struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Country   *string   `json:"country,omitempty" db:"country"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Book represents a physical lendable item.
type Book struct {
	ID         int64      `json:"id" db:"id"`
	Title      string     `json:"title" db:"title"`
	ISBN       string     `json:"isbn" db:"isbn"`
	AuthorID   int64      `json:"author_id" db:"author_id"`
	AuthorName string     `json:"author_name" db:"author_name"`
	Status     BookStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Available reports whether the book can be lent right now.
func (b *Book) Available() bool { return b.Status == StatusAvailable }

// Member represents a registered borrower.
type Member struct {
	ID       int64     `json:"id" db:"id"`
	FullName string    `json:"full_name" db:"full_name"`
	Email    string    `json:"email" db:"email"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// MemberProfile holds optional per-member details. It is removed together
// with its member.
type MemberProfile struct {
	ID        int64     `json:"id" db:"id"`
	MemberID  int64     `json:"member_id" db:"member_id"`
	Nickname  *string   `json:"nickname,omitempty" db:"nickname"`
	RiskLevel RiskLevel `json:"risk_level" db:"risk_level"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Tag struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// TagSummary is a tag with the number of books it is attached to.
type TagSummary struct {
	Tag
	BookCount int `json:"book_count" db:"book_count"`
}

// BookTag links a book to a tag. A pair can only be linked once.
type BookTag struct {
	ID      int64     `json:"id" db:"id"`
	BookID  int64     `json:"book_id" db:"book_id"`
	TagID   int64     `json:"tag_id" db:"tag_id"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}

// Loan is one borrowing event. A nil ReturnedAt means the loan is active.
type Loan struct {
	ID         int64      `json:"id" db:"id"`
	BookID     int64      `json:"book_id" db:"book_id"`
	MemberID   int64      `json:"member_id" db:"member_id"`
	LoanedAt   time.Time  `json:"loaned_at" db:"loaned_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty" db:"returned_at"`
}

// Active reports whether the loan has not been returned yet.
func (l *Loan) Active() bool { return l.ReturnedAt == nil }

// IsOverdue reports whether the loan is active and past its due time.
func (l *Loan) IsOverdue(now time.Time) bool { return IsOverdue(l, now) }

// Staff is a librarian account allowed to run status overrides and deletes.
type Staff struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
