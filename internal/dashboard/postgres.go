package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/visuals"
)

var _ Table = (*PGTable)(nil)

// PGTable implements Table on PostgreSQL. The widget list is stored as
// jsonb; the visibility columns mirror the visuals table so the resolver
// projection stays cheap.
type PGTable struct {
	db *sql.DB
}

func NewPGTable(db *sql.DB) *PGTable {
	return &PGTable{db: db}
}

func (t *PGTable) All(ctx context.Context) (map[visuals.Key]Dashboard, error) {
	rows, err := t.db.QueryContext(ctx,
		`select owner, name, title, publication, hidden, modified_at, public_token_id, widgets
		 from dashboards`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[visuals.Key]Dashboard)
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out[visuals.Key{Owner: d.Owner, Name: d.Name}] = d
	}
	return out, rows.Err()
}

func (t *PGTable) Get(ctx context.Context, key visuals.Key) (Dashboard, error) {
	row := t.db.QueryRowContext(ctx,
		`select owner, name, title, publication, hidden, modified_at, public_token_id, widgets
		 from dashboards where owner=$1 and name=$2`,
		string(key.Owner), key.Name)
	d, err := scanDashboard(row)
	if err == sql.ErrNoRows {
		return Dashboard{}, visuals.ErrNotFound
	}
	return d, err
}

func (t *PGTable) Put(ctx context.Context, d Dashboard) error {
	publication, err := json.Marshal(d.Public)
	if err != nil {
		return err
	}
	widgets, err := json.Marshal(d.Widgets)
	if err != nil {
		return err
	}
	var modified any
	if !d.ModifiedAt.IsZero() {
		modified = d.ModifiedAt.UTC()
	}
	_, err = t.db.ExecContext(ctx,
		`insert into dashboards(owner, name, title, publication, hidden, modified_at, public_token_id, widgets)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (owner, name) do update
		 set title=excluded.title, publication=excluded.publication, hidden=excluded.hidden,
		     modified_at=excluded.modified_at, public_token_id=excluded.public_token_id,
		     widgets=excluded.widgets`,
		string(d.Owner), d.Name, d.Title, publication, d.Hidden, modified,
		nullableString(d.PublicTokenID), widgets)
	return err
}

// SetTokenID is a compare-and-swap on public_token_id: the update only
// matches when the stored reference still equals the caller's snapshot, so
// concurrent issuances collide here instead of both writing.
func (t *PGTable) SetTokenID(ctx context.Context, key visuals.Key, previous, next string) error {
	res, err := t.db.ExecContext(ctx,
		`update dashboards set public_token_id=$3
		 where owner=$1 and name=$2 and public_token_id is not distinct from $4`,
		string(key.Owner), key.Name, nullableString(next), nullableString(previous))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, gerr := t.Get(ctx, key); gerr != nil {
			return gerr
		}
		return ErrStaleTokenReference
	}
	return nil
}

func (t *PGTable) Delete(ctx context.Context, key visuals.Key) error {
	res, err := t.db.ExecContext(ctx,
		`delete from dashboards where owner=$1 and name=$2`, string(key.Owner), key.Name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return visuals.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDashboard(row rowScanner) (Dashboard, error) {
	var (
		d           Dashboard
		owner       string
		publication []byte
		modified    sql.NullTime
		tokenID     sql.NullString
		widgets     []byte
	)
	if err := row.Scan(&owner, &d.Name, &d.Title, &publication, &d.Hidden, &modified,
		&tokenID, &widgets); err != nil {
		return Dashboard{}, err
	}
	d.Owner = auth.UserID(owner)
	if err := json.Unmarshal(publication, &d.Public); err != nil {
		return Dashboard{}, err
	}
	if modified.Valid {
		d.ModifiedAt = modified.Time.UTC()
	}
	if tokenID.Valid {
		d.PublicTokenID = tokenID.String
	}
	if err := json.Unmarshal(widgets, &d.Widgets); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
