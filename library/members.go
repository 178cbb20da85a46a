package library

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

var emailRX = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

const memberColumns = `id, full_name, email, joined_at`

// AddMember registers a borrower. Emails are unique.
func (d *Database) AddMember(ctx context.Context, fullName, email string) (*Member, error) {
	fullName, email = strings.TrimSpace(fullName), strings.TrimSpace(email)
	if fullName == "" {
		return nil, fmt.Errorf("member name must be provided: %w", ErrInvalidInput)
	}
	if !emailRX.MatchString(email) {
		return nil, fmt.Errorf("email %q must be a valid email address: %w", email, ErrInvalidInput)
	}

	m := &Member{FullName: fullName, Email: email, JoinedAt: utc(d.now())}
	id, err := d.insertID(ctx, d.db,
		`INSERT INTO members(full_name,email,joined_at) VALUES(?,?,?) RETURNING id`,
		m.FullName, m.Email, m.JoinedAt)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationUnique {
			return nil, fmt.Errorf("email %q: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}
	m.ID = id
	return m, nil
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	if err := d.db.GetContext(ctx, &m, d.rebind(`SELECT `+memberColumns+` FROM members WHERE id=?`), id); err != nil {
		return nil, notFound(err, "member", id)
	}
	return &m, nil
}

func (d *Database) GetMemberByEmail(ctx context.Context, email string) (*Member, error) {
	var m Member
	err := d.db.GetContext(ctx, &m, d.rebind(`SELECT `+memberColumns+` FROM members WHERE email=?`), strings.TrimSpace(email))
	if err != nil {
		return nil, notFound(err, "member", email)
	}
	return &m, nil
}

// ListMembers returns members ordered by name, optionally filtered by a
// case-insensitive match on name or email.
func (d *Database) ListMembers(ctx context.Context, search string) ([]*Member, error) {
	ds := d.dialect.builder.
		From("members").
		Select("id", "full_name", "email", "joined_at").
		Order(goqu.C("full_name").Asc(), goqu.C("id").Asc())
	if s := strings.TrimSpace(search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		ds = ds.Where(goqu.Or(
			goqu.L("LOWER(full_name)").Like(pattern),
			goqu.L("LOWER(email)").Like(pattern),
		))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var members []*Member
	if err := d.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, err
	}
	return members, nil
}

// DeleteMember removes a member together with their loans and profile. Books
// still on loan to the member are released back to AVAILABLE in the same
// transaction, otherwise they would stay LOANED without an active loan.
func (d *Database) DeleteMember(ctx context.Context, id int64) error {
	var released int64
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, d.rebind(`UPDATE books SET status=?
            WHERE status=? AND id IN (SELECT book_id FROM loans WHERE member_id=? AND returned_at IS NULL)`),
			StatusAvailable, StatusLoaned, id)
		if err != nil {
			return fmt.Errorf("release books: %w", err)
		}
		if released, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, d.rebind(`DELETE FROM members WHERE id=?`), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("member %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.log.Info("member deleted", "member_id", id, "released_books", released)
	return nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// SaveProfile creates or replaces the profile of a member. An empty risk
// level means RiskLow.
func (d *Database) SaveProfile(ctx context.Context, memberID int64, nickname *string, risk RiskLevel) (*MemberProfile, error) {
	if risk == "" {
		risk = RiskLow
	}
	if !risk.Valid() {
		return nil, fmt.Errorf("risk level %q: %w", risk, ErrInvalidInput)
	}
	if nickname != nil && strings.TrimSpace(*nickname) == "" {
		nickname = nil
	}

	now := utc(d.now())
	_, err := d.db.ExecContext(ctx, d.rebind(`INSERT INTO member_profiles(member_id,nickname,risk_level,created_at,updated_at)
        VALUES(?,?,?,?,?)
        ON CONFLICT(member_id) DO UPDATE SET nickname=excluded.nickname, risk_level=excluded.risk_level, updated_at=excluded.updated_at`),
		memberID, nickname, risk, now, now)
	if err != nil {
		if v, ok := d.dialect.classify(err); ok && v.kind == violationForeignKey {
			return nil, fmt.Errorf("member %d: %w", memberID, ErrNotFound)
		}
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return d.GetProfile(ctx, memberID)
}

func (d *Database) GetProfile(ctx context.Context, memberID int64) (*MemberProfile, error) {
	var p MemberProfile
	err := d.db.GetContext(ctx, &p, d.rebind(`SELECT id, member_id, nickname, risk_level, created_at, updated_at
        FROM member_profiles WHERE member_id=?`), memberID)
	if err != nil {
		return nil, notFound(err, "profile for member", memberID)
	}
	return &p, nil
}
