package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// clock is a settable time source for Config.Now.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time      { return c.now }
func (c *clock) Add(d time.Duration) { c.now = c.now.Add(d) }

func tempDB(t *testing.T) *Database {
	t.Helper()
	db, _ := tempDBClock(t)
	return db
}

func tempDBClock(t *testing.T) (*Database, *clock) {
	t.Helper()
	c := &clock{now: t0}
	db, err := Open(context.Background(), Config{
		DSN: filepath.Join(t.TempDir(), "test.db"),
		Now: c.Now,
	})
	require.NoError(t, err, "new db")
	t.Cleanup(func() { db.Close() })
	return db, c
}

// seedBook adds an author and one AVAILABLE book.
func seedBook(t *testing.T, db *Database, isbn string) *Book {
	t.Helper()
	ctx := context.Background()
	a, err := db.AddAuthor(ctx, "Ursula K. Le Guin", nil)
	require.NoError(t, err)
	b, err := db.AddBook(ctx, "The Dispossessed", isbn, a.ID)
	require.NoError(t, err)
	return b
}

func seedMember(t *testing.T, db *Database, email string) *Member {
	t.Helper()
	m, err := db.AddMember(context.Background(), "Reader "+email, email)
	require.NoError(t, err)
	return m
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	ctx := context.Background()

	db, err := NewDatabase(path)
	require.NoError(t, err)
	_, err = db.AddAuthor(ctx, "Octavia Butler", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	authors, err := db.ListAuthors(ctx)
	require.NoError(t, err)
	assert.Len(t, authors, 1)
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAddBookValidation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	a, err := db.AddAuthor(ctx, "Iain Banks", nil)
	require.NoError(t, err)

	_, err = db.AddBook(ctx, "  ", "isbn-1", a.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = db.AddBook(ctx, "Excession", "isbn-1", 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := db.AddBook(ctx, "Excession", "isbn-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, b.Status)
	assert.Equal(t, "Iain Banks", b.AuthorName)

	_, err = db.AddBook(ctx, "Excession (reprint)", "isbn-1", a.ID)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestListBooksFilters(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	le, err := db.AddAuthor(ctx, "Ursula K. Le Guin", nil)
	require.NoError(t, err)
	tol, err := db.AddAuthor(ctx, "J.R.R. Tolkien", nil)
	require.NoError(t, err)

	earthsea, err := db.AddBook(ctx, "A Wizard of Earthsea", "978-0553383041", le.ID)
	require.NoError(t, err)
	_, err = db.AddBook(ctx, "The Hobbit", "978-0547928227", tol.ID)
	require.NoError(t, err)

	fantasy, err := db.AddTag(ctx, "fantasy", "")
	require.NoError(t, err)
	_, err = db.TagBook(ctx, earthsea.ID, fantasy.ID)
	require.NoError(t, err)
	_, err = db.TagBook(ctx, earthsea.ID, fantasy.ID)
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := db.ListBooks(ctx, BookFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byAuthor, err := db.ListBooks(ctx, BookFilter{AuthorID: tol.ID})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, "The Hobbit", byAuthor[0].Title)

	byTag, err := db.ListBooks(ctx, BookFilter{Tag: "fantasy"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, earthsea.ID, byTag[0].ID)

	bySearch, err := db.ListBooks(ctx, BookFilter{Search: "le guin"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, earthsea.ID, bySearch[0].ID)

	lost, err := db.ListBooks(ctx, BookFilter{Status: StatusLost})
	require.NoError(t, err)
	assert.Empty(t, lost)

	tags, err := db.BookTags(ctx, earthsea.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "fantasy", tags[0].Name)
}

func TestDeleteAuthorProtected(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "isbn-1")

	err := db.DeleteAuthor(ctx, b.AuthorID)
	require.ErrorIs(t, err, ErrProtected)
	var pe *ProtectedError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "books", pe.By)

	require.NoError(t, db.DeleteBook(ctx, b.ID))
	require.NoError(t, db.DeleteAuthor(ctx, b.AuthorID))
	assert.ErrorIs(t, db.DeleteAuthor(ctx, b.AuthorID), ErrNotFound)
}

func TestDeleteBookProtectedByLoanHistory(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "isbn-1")
	m := seedMember(t, db, "ann@example.com")

	s := db.NewSession()
	loan, err := s.CreateLoan(ctx, b, m, t0, t0.Add(DefaultLoanPeriod))
	require.NoError(t, err)
	_, err = s.ReturnLoan(ctx, loan)
	require.NoError(t, err)

	assert.ErrorIs(t, db.DeleteBook(ctx, b.ID), ErrProtected)
	assert.ErrorIs(t, db.DeleteBook(ctx, 4242), ErrNotFound)
}

func TestMembers(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	_, err := db.AddMember(ctx, "Ann", "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidInput)

	m := seedMember(t, db, "ann@example.com")
	_, err = db.AddMember(ctx, "Ann Again", "ann@example.com")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := db.GetMemberByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.True(t, got.JoinedAt.Equal(t0))

	found, err := db.ListMembers(ctx, "ANN@")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = db.GetMember(ctx, 777)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfiles(t *testing.T) {
	db, c := tempDBClock(t)
	ctx := context.Background()
	m := seedMember(t, db, "ann@example.com")

	_, err := db.GetProfile(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := db.SaveProfile(ctx, m.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, p.RiskLevel)
	assert.Nil(t, p.Nickname)

	c.Add(time.Hour)
	nick := "annie"
	p, err = db.SaveProfile(ctx, m.ID, &nick, RiskHigh)
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, p.RiskLevel)
	require.NotNil(t, p.Nickname)
	assert.Equal(t, "annie", *p.Nickname)
	assert.True(t, p.CreatedAt.Equal(t0))
	assert.True(t, p.UpdatedAt.Equal(t0.Add(time.Hour)))

	_, err = db.SaveProfile(ctx, m.ID, nil, RiskLevel("EXTREME"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = db.SaveProfile(ctx, 999, nil, RiskLow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMemberCascadesAndReleasesBooks(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "isbn-1")
	m := seedMember(t, db, "ann@example.com")
	_, err := db.SaveProfile(ctx, m.ID, nil, RiskMedium)
	require.NoError(t, err)

	loan, err := db.NewSession().CreateLoan(ctx, b, m, t0, t0.Add(DefaultLoanPeriod))
	require.NoError(t, err)

	require.NoError(t, db.DeleteMember(ctx, m.ID))

	_, err = db.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetProfile(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)

	assert.ErrorIs(t, db.DeleteMember(ctx, m.ID), ErrNotFound)
}

func TestTags(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	_, err := db.AddTag(ctx, "sci-fi", "Science fiction")
	require.NoError(t, err)
	_, err = db.AddTag(ctx, "sci-fi", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	tag, err := db.ensureTag(ctx, "sci-fi")
	require.NoError(t, err)
	assert.Equal(t, "Science fiction", tag.Description)

	_, err = db.ensureTag(ctx, "classics")
	require.NoError(t, err)

	tags, err := db.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "classics", tags[0].Name)

	_, err = db.TagBook(ctx, 123, tag.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestrictedDeleteIsForeignKeyViolation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "isbn-1")
	m := seedMember(t, db, "ann@example.com")
	_, err := db.NewSession().CreateLoan(ctx, b, m, t0, t0.Add(DefaultLoanPeriod))
	require.NoError(t, err)

	deletes := []struct {
		query string
		id    int64
	}{
		{`DELETE FROM authors WHERE id=?`, b.AuthorID},
		{`DELETE FROM books WHERE id=?`, b.ID},
	}
	for _, d := range deletes {
		_, err := db.db.ExecContext(ctx, db.rebind(d.query), d.id)
		require.Error(t, err, d.query)
		v, ok := db.dialect.classify(err)
		require.True(t, ok, "%s: unclassified %v", d.query, err)
		assert.Equal(t, violationForeignKey, v.kind, d.query)
	}
}

func TestDeleteMemberWithReturnedLoans(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "isbn-1")
	m := seedMember(t, db, "ann@example.com")
	s := db.NewSession()

	loan, err := s.CreateLoan(ctx, b, m, t0, t0.Add(DefaultLoanPeriod))
	require.NoError(t, err)
	_, err = s.ReturnLoan(ctx, loan)
	require.NoError(t, err)

	require.NoError(t, db.DeleteMember(ctx, m.ID))

	_, err = db.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := db.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)

	// With its loan history gone the book can be deleted too.
	require.NoError(t, db.DeleteBook(ctx, b.ID))
}

func TestOpenFailsOnUnreadableSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	db, err := NewDatabase(path)
	require.NoError(t, err)
	_, err = db.db.Exec(`UPDATE meta SET value='not-a-number' WHERE key='schema_version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewDatabase(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read schema version")
}

func TestListTagsCountsBooks(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b1 := seedBook(t, db, "isbn-1")
	b2 := seedBook(t, db, "isbn-2")

	classics, err := db.AddTag(ctx, "classics", "")
	require.NoError(t, err)
	_, err = db.AddTag(ctx, "unused", "")
	require.NoError(t, err)
	_, err = db.TagBook(ctx, b1.ID, classics.ID)
	require.NoError(t, err)
	_, err = db.TagBook(ctx, b2.ID, classics.ID)
	require.NoError(t, err)

	tags, err := db.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "classics", tags[0].Name)
	assert.Equal(t, 2, tags[0].BookCount)
	assert.Equal(t, "unused", tags[1].Name)
	assert.Zero(t, tags[1].BookCount)
}
