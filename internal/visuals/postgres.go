package visuals

import (
	"context"
	"database/sql"
	"encoding/json"

	"sharedview.org/internal/auth"
)

var _ Table = (*PGTable)(nil)

// PGTable implements Table on PostgreSQL. One row per visual, keyed by
// (kind, owner, name); the publication policy is stored as jsonb.
type PGTable struct {
	db *sql.DB
}

func NewPGTable(db *sql.DB) *PGTable {
	return &PGTable{db: db}
}

func (t *PGTable) All(ctx context.Context, kind string) (map[Key]Visual, error) {
	rows, err := t.db.QueryContext(ctx,
		`select owner, name, title, publication, hidden, modified_at
		 from visuals where kind=$1`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Key]Visual)
	for rows.Next() {
		v, err := scanVisual(rows)
		if err != nil {
			return nil, err
		}
		out[Key{Owner: v.Owner, Name: v.Name}] = v
	}
	return out, rows.Err()
}

func (t *PGTable) Get(ctx context.Context, kind string, key Key) (Visual, error) {
	row := t.db.QueryRowContext(ctx,
		`select owner, name, title, publication, hidden, modified_at
		 from visuals where kind=$1 and owner=$2 and name=$3`,
		kind, string(key.Owner), key.Name)
	v, err := scanVisual(row)
	if err == sql.ErrNoRows {
		return Visual{}, ErrNotFound
	}
	return v, err
}

func (t *PGTable) Put(ctx context.Context, kind string, visual Visual) error {
	publication, err := json.Marshal(visual.Public)
	if err != nil {
		return err
	}
	var modified any
	if !visual.ModifiedAt.IsZero() {
		modified = visual.ModifiedAt.UTC()
	}
	_, err = t.db.ExecContext(ctx,
		`insert into visuals(kind, owner, name, title, publication, hidden, modified_at)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (kind, owner, name) do update
		 set title=excluded.title, publication=excluded.publication,
		     hidden=excluded.hidden, modified_at=excluded.modified_at`,
		kind, string(visual.Owner), visual.Name, visual.Title, publication, visual.Hidden, modified)
	return err
}

func (t *PGTable) Delete(ctx context.Context, kind string, key Key) error {
	res, err := t.db.ExecContext(ctx,
		`delete from visuals where kind=$1 and owner=$2 and name=$3`,
		kind, string(key.Owner), key.Name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisual(row rowScanner) (Visual, error) {
	var (
		v           Visual
		owner       string
		publication []byte
		modified    sql.NullTime
	)
	if err := row.Scan(&owner, &v.Name, &v.Title, &publication, &v.Hidden, &modified); err != nil {
		return Visual{}, err
	}
	v.Owner = auth.UserID(owner)
	if err := json.Unmarshal(publication, &v.Public); err != nil {
		return Visual{}, err
	}
	if modified.Valid {
		v.ModifiedAt = modified.Time.UTC()
	}
	return v, nil
}
