package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Authors
// ---------------------------------------------------------------------------

const authorColumns = `id, name, country, created_at`

// AddAuthor inserts an author. country may be nil.
func (d *Database) AddAuthor(ctx context.Context, name string, country *string) (*Author, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("author name must be provided: %w", ErrInvalidInput)
	}
	if country != nil && strings.TrimSpace(*country) == "" {
		country = nil
	}

	a := &Author{Name: name, Country: country, CreatedAt: utc(d.now())}
	id, err := d.insertID(ctx, d.db,
		`INSERT INTO authors(name,country,created_at) VALUES(?,?,?) RETURNING id`,
		a.Name, a.Country, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert author: %w", err)
	}
	a.ID = id
	return a, nil
}

func (d *Database) GetAuthor(ctx context.Context, id int64) (*Author, error) {
	var a Author
	err := d.db.GetContext(ctx, &a, d.rebind(`SELECT `+authorColumns+` FROM authors WHERE id=?`), id)
	if err != nil {
		return nil, notFound(err, "author", id)
	}
	return &a, nil
}

// GetAuthorByName returns the first author with exactly this name.
func (d *Database) GetAuthorByName(ctx context.Context, name string) (*Author, error) {
	var a Author
	err := d.db.GetContext(ctx, &a,
		d.rebind(`SELECT `+authorColumns+` FROM authors WHERE name=? ORDER BY id LIMIT 1`), name)
	if err != nil {
		return nil, notFound(err, "author", name)
	}
	return &a, nil
}

func (d *Database) ListAuthors(ctx context.Context) ([]*Author, error) {
	var authors []*Author
	if err := d.db.SelectContext(ctx, &authors, `SELECT `+authorColumns+` FROM authors ORDER BY name, id`); err != nil {
		return nil, err
	}
	return authors, nil
}

// DeleteAuthor removes an author that no book references.
func (d *Database) DeleteAuthor(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM authors WHERE id=?`), id)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationForeignKey {
			return &ProtectedError{Entity: "author", ID: id, By: "books", Err: err}
		}
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("author %d: %w", id, ErrNotFound)
	}
	d.log.Info("author deleted", "author_id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookSelect = `SELECT b.id, b.title, b.isbn, b.author_id, a.name AS author_name, b.status, b.created_at
        FROM books b JOIN authors a ON a.id = b.author_id`

// AddBook inserts an AVAILABLE book for an existing author.
func (d *Database) AddBook(ctx context.Context, title, isbn string, authorID int64) (*Book, error) {
	title, isbn = strings.TrimSpace(title), strings.TrimSpace(isbn)
	if title == "" {
		return nil, fmt.Errorf("book title must be provided: %w", ErrInvalidInput)
	}
	if isbn == "" {
		return nil, fmt.Errorf("book isbn must be provided: %w", ErrInvalidInput)
	}

	id, err := d.insertID(ctx, d.db,
		`INSERT INTO books(title,isbn,author_id,status,created_at) VALUES(?,?,?,?,?) RETURNING id`,
		title, isbn, authorID, StatusAvailable, utc(d.now()))
	if err != nil {
		if v, ok := d.dialect.classify(err); ok {
			switch {
			case v.kind == violationUnique && v.constraint == constraintISBN:
				return nil, fmt.Errorf("isbn %q: %w", isbn, ErrDuplicate)
			case v.kind == violationForeignKey:
				return nil, fmt.Errorf("author %d: %w", authorID, ErrNotFound)
			}
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return d.GetBook(ctx, id)
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	return d.getBook(ctx, d.db, id)
}

func (d *Database) getBook(ctx context.Context, q sqlx.QueryerContext, id int64) (*Book, error) {
	var b Book
	if err := sqlx.GetContext(ctx, q, &b, d.rebind(bookSelect+` WHERE b.id=?`), id); err != nil {
		return nil, notFound(err, "book", id)
	}
	return &b, nil
}

func (d *Database) GetBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	var b Book
	if err := d.db.GetContext(ctx, &b, d.rebind(bookSelect+` WHERE b.isbn=?`), strings.TrimSpace(isbn)); err != nil {
		return nil, notFound(err, "isbn", isbn)
	}
	return &b, nil
}

// BookFilter narrows ListBooks. Zero fields are ignored.
type BookFilter struct {
	Status   BookStatus
	AuthorID int64
	Tag      string
	// Search matches title, ISBN or author name, case-insensitively.
	Search string
}

func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	ds := d.dialect.builder.
		From(goqu.T("books").As("b")).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.isbn"), goqu.I("b.author_id"),
			goqu.I("a.name").As("author_name"), goqu.I("b.status"), goqu.I("b.created_at"),
		).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc())

	if f.Status != "" {
		ds = ds.Where(goqu.I("b.status").Eq(string(f.Status)))
	}
	if f.AuthorID != 0 {
		ds = ds.Where(goqu.I("b.author_id").Eq(f.AuthorID))
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		tagged := d.dialect.builder.
			From(goqu.T("book_tags").As("bt")).
			Join(goqu.T("tags").As("t"), goqu.On(goqu.I("t.id").Eq(goqu.I("bt.tag_id")))).
			Select(goqu.I("bt.book_id")).
			Where(goqu.I("t.name").Eq(tag))
		ds = ds.Where(goqu.I("b.id").In(tagged))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		ds = ds.Where(goqu.Or(
			goqu.L("LOWER(b.title)").Like(pattern),
			goqu.L("LOWER(b.isbn)").Like(pattern),
			goqu.L("LOWER(a.name)").Like(pattern),
		))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	var books []*Book
	if err := d.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, err
	}
	return books, nil
}

// DeleteBook removes a book that has never been lent. Books with loan history
// are kept; mark them LOST instead.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM books WHERE id=?`), id)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationForeignKey {
			return &ProtectedError{Entity: "book", ID: id, By: "loans", Err: err}
		}
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	d.log.Info("book deleted", "book_id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

func (d *Database) AddTag(ctx context.Context, name, description string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name must be provided: %w", ErrInvalidInput)
	}
	t := &Tag{Name: name, Description: strings.TrimSpace(description)}
	id, err := d.insertID(ctx, d.db, `INSERT INTO tags(name,description) VALUES(?,?) RETURNING id`, t.Name, t.Description)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationUnique {
			return nil, fmt.Errorf("tag %q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	t.ID = id
	return t, nil
}

func (d *Database) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	var t Tag
	if err := d.db.GetContext(ctx, &t, d.rebind(`SELECT id, name, description FROM tags WHERE name=?`), name); err != nil {
		return nil, notFound(err, "tag", name)
	}
	return &t, nil
}

// ListTags returns every tag with the number of books carrying it.
func (d *Database) ListTags(ctx context.Context) ([]*TagSummary, error) {
	var tags []*TagSummary
	err := d.db.SelectContext(ctx, &tags, `SELECT t.id, t.name, t.description, COUNT(bt.id) AS book_count
        FROM tags t LEFT JOIN book_tags bt ON bt.tag_id = t.id
        GROUP BY t.id, t.name, t.description
        ORDER BY t.name`)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// TagBook links a book to a tag once.
func (d *Database) TagBook(ctx context.Context, bookID, tagID int64) (*BookTag, error) {
	bt := &BookTag{BookID: bookID, TagID: tagID, AddedAt: utc(d.now())}
	id, err := d.insertID(ctx, d.db,
		`INSERT INTO book_tags(book_id,tag_id,added_at) VALUES(?,?,?) RETURNING id`,
		bt.BookID, bt.TagID, bt.AddedAt)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok {
			switch v.kind {
			case violationUnique:
				return nil, fmt.Errorf("book %d already tagged with %d: %w", bookID, tagID, ErrDuplicate)
			case violationForeignKey:
				return nil, fmt.Errorf("book %d or tag %d: %w", bookID, tagID, ErrNotFound)
			}
		}
		return nil, fmt.Errorf("insert book tag: %w", err)
	}
	bt.ID = id
	return bt, nil
}

// BookTags returns the tags attached to a book ordered by name.
func (d *Database) BookTags(ctx context.Context, bookID int64) ([]*Tag, error) {
	var tags []*Tag
	err := d.db.SelectContext(ctx, &tags, d.rebind(`SELECT t.id, t.name, t.description
        FROM book_tags bt JOIN tags t ON t.id = bt.tag_id
        WHERE bt.book_id=? ORDER BY t.name`), bookID)
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// ensureTag returns the tag called name, creating it when missing.
func (d *Database) ensureTag(ctx context.Context, name string) (*Tag, error) {
	t, err := d.GetTagByName(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return d.AddTag(ctx, name, "")
}
