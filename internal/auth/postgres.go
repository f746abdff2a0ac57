package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
)

var _ Directory = (*PGDirectory)(nil)

// PGDirectory implements Directory on PostgreSQL.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

func (d *PGDirectory) Find(ctx context.Context, id UserID) (User, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, roles, contact_groups, created_at, updated_at
		 from users where id=$1`, string(id))
	return scanUser(row)
}

func (d *PGDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, roles, contact_groups, created_at, updated_at
		 from users where lower(email)=lower($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (d *PGDirectory) Authenticate(ctx context.Context, email, password string) (User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return User{}, ErrUnauthorized
	}
	u, err := d.FindByEmail(ctx, email)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	if u.Status != UserStatusActive {
		return User{}, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return User{}, ErrUnauthorized
	}
	return u, nil
}

// May resolves an explicit override first, then the union of role grants.
// Unreachable storage counts as "no": an authorization layer must fail closed.
func (d *PGDirectory) May(user UserID, permission string) bool {
	ctx := context.Background()

	var allowed bool
	err := d.db.QueryRowContext(ctx,
		`select allowed from user_permission_overrides where user_id=$1 and permission=$2`,
		string(user), permission).Scan(&allowed)
	if err == nil {
		return allowed
	}
	if err != sql.ErrNoRows {
		return false
	}

	var n int
	err = d.db.QueryRowContext(ctx,
		`select count(*) from role_permissions rp
		 where rp.permission=$2
		   and rp.role in (select jsonb_array_elements_text(roles) from users where id=$1)`,
		string(user), permission).Scan(&n)
	if err != nil {
		return false
	}
	return n > 0
}

func (d *PGDirectory) ContactGroupsOf(user UserID) []string {
	var raw []byte
	err := d.db.QueryRowContext(context.Background(),
		`select contact_groups from users where id=$1`, string(user)).Scan(&raw)
	if err != nil {
		return nil
	}
	var groups []string
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil
	}
	return groups
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u      User
		id     string
		roles  []byte
		groups []byte
	)
	if err := row.Scan(&id, &u.Email, &u.PasswordHash, &u.Status, &roles, &groups,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.ID = UserID(id)
	_ = json.Unmarshal(roles, &u.Roles)
	_ = json.Unmarshal(groups, &u.ContactGroups)
	return u, nil
}
