package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"sharedview.org/internal/visuals"
)

func TestPGTableSetTokenID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update dashboards set public_token_id").
		WithArgs("alice", "ops", "01JTESTTESTTESTTESTTESTTES", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	table := NewPGTable(db)
	key := visuals.Key{Owner: "alice", Name: "ops"}
	if err := table.SetTokenID(context.Background(), key, "", "01JTESTTESTTESTTESTTESTTES"); err != nil {
		t.Fatalf("set token id: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGTableSetTokenIDStaleReference(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// The conditional update misses because another writer changed the
	// reference; the row itself still exists.
	mock.ExpectExec("update dashboards set public_token_id").
		WithArgs("alice", "ops", "01JTESTTESTTESTTESTTESTTES", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from dashboards where").
		WithArgs("alice", "ops").
		WillReturnRows(sqlmock.NewRows([]string{
			"owner", "name", "title", "publication", "hidden",
			"modified_at", "public_token_id", "widgets",
		}).AddRow("alice", "ops", "Operations", []byte(`{}`), false,
			nil, "01JOTHERTOKENTOKENTOKENTOK", []byte(`[]`)))

	table := NewPGTable(db)
	key := visuals.Key{Owner: "alice", Name: "ops"}
	err = table.SetTokenID(context.Background(), key, "", "01JTESTTESTTESTTESTTESTTES")
	if !errors.Is(err, ErrStaleTokenReference) {
		t.Fatalf("want ErrStaleTokenReference, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGTableSetTokenIDMissingDashboard(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update dashboards set public_token_id").
		WithArgs("ghost", "ops", "01JTESTTESTTESTTESTTESTTES", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select (.+) from dashboards where").
		WithArgs("ghost", "ops").
		WillReturnRows(sqlmock.NewRows([]string{
			"owner", "name", "title", "publication", "hidden",
			"modified_at", "public_token_id", "widgets",
		}))

	table := NewPGTable(db)
	key := visuals.Key{Owner: "ghost", Name: "ops"}
	err = table.SetTokenID(context.Background(), key, "", "01JTESTTESTTESTTESTTESTTES")
	if !errors.Is(err, visuals.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
