package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

func validatePassword(password string) error {
	switch n := len(password); {
	case n < 8:
		return fmt.Errorf("password must be at least 8 bytes long: %w", ErrInvalidInput)
	case n > 72:
		return fmt.Errorf("password must not be more than 72 bytes long: %w", ErrInvalidInput)
	}
	return nil
}

// AddStaff creates a staff account allowed to run administrative overrides.
func (d *Database) AddStaff(ctx context.Context, username, password string) (*Staff, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username must be provided: %w", ErrInvalidInput)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	st := &Staff{Username: username, PasswordHash: hash, CreatedAt: utc(d.now())}
	id, err := d.insertID(ctx, d.db,
		`INSERT INTO staff(username,password_hash,created_at) VALUES(?,?,?) RETURNING id`,
		st.Username, st.PasswordHash, st.CreatedAt)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationUnique {
			return nil, fmt.Errorf("staff %q: %w", username, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert staff: %w", err)
	}
	st.ID = id
	d.log.Info("staff added", "staff_id", id, "username", username)
	return st, nil
}

// HasStaff reports whether any staff account exists yet.
func (d *Database) HasStaff(ctx context.Context) (bool, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM staff`); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AuthenticateStaff checks a username/password pair. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (d *Database) AuthenticateStaff(ctx context.Context, username, password string) (*Staff, error) {
	var st Staff
	err := d.db.GetContext(ctx, &st,
		d.rebind(`SELECT id, username, password_hash, created_at FROM staff WHERE username=?`), strings.TrimSpace(username))
	if err != nil {
		if errors.Is(notFound(err, "staff", username), ErrNotFound) {
			d.log.Warn("staff authentication failed", "username", username)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(st.PasswordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			d.log.Warn("staff authentication failed", "username", username)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return &st, nil
}
