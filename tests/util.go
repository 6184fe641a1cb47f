package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core/ledger"
	"github.com/trezcool/feedesk/storage/database"
)

// PrepareDB opens a migrated SQLite database in a temp dir, closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, nil); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateStudent(t *testing.T, repo ledger.Repository, id, name, class, totalFee string) ledger.Student {
	t.Helper()

	std, err := repo.UpsertStudent(context.Background(), ledger.Student{
		ID:        id,
		Name:      name,
		ClassName: class,
		TotalFee:  decimal.RequireFromString(totalFee),
	})
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return std
}

func CreatePayment(t *testing.T, repo ledger.Repository, studentID, amount, mode string) ledger.Payment {
	t.Helper()

	pmt, err := ledger.NewService(repo).AppendPayment(context.Background(), ledger.NewPayment{
		StudentID: studentID,
		Amount:    decimal.RequireFromString(amount),
		Mode:      mode,
	})
	if err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}
	return pmt
}
