package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// schema written by earlier versions of the desk, before migrations existed
const legacySchema = `
CREATE TABLE students (
    student_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    class TEXT,
    total_fee REAL NOT NULL,
    photo_path TEXT
);
CREATE TABLE payments (
    receipt_no INTEGER PRIMARY KEY AUTOINCREMENT,
    student_id TEXT,
    amount_paid REAL,
    payment_date TEXT,
    mode_of_payment TEXT,
    FOREIGN KEY(student_id) REFERENCES students(student_id)
);
INSERT INTO students VALUES ('S1', 'Asha', 'BSc I', 1000.0, NULL);
INSERT INTO payments (student_id, amount_paid, payment_date, mode_of_payment) VALUES ('S1', 400.0, '2024-01-05 10:00:00', 'Cash');
`

func TestMigrate(t *testing.T) {
	tests := []struct {
		name         string
		legacy       bool
		wantPayments int
	}{
		{name: "new database", wantPayments: 0},
		{name: "legacy database", legacy: true, wantPayments: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := OpenPath(filepath.Join(t.TempDir(), "sub", "fees.db"))
			if err != nil {
				t.Fatalf("OpenPath() failed: %v", err)
			}
			defer db.Close()

			if tt.legacy {
				if _, err = db.Exec(legacySchema); err != nil {
					t.Fatalf("creating legacy schema failed: %v", err)
				}
			}

			// twice: must be idempotent
			for i := 0; i < 2; i++ {
				if err = Migrate(db, nil); err != nil {
					t.Fatalf("Migrate() #%d error = %v", i+1, err)
				}
			}

			var count int
			if err = db.Get(&count, "SELECT COUNT(*) FROM payments"); err != nil {
				t.Fatalf("counting payments failed: %v", err)
			}
			assert.Equal(t, tt.wantPayments, count)

			var fk int
			if err = db.Get(&fk, "PRAGMA foreign_keys"); err != nil {
				t.Fatalf("reading foreign_keys pragma failed: %v", err)
			}
			assert.Equal(t, 1, fk)
		})
	}
}

func TestOpenPath_memory(t *testing.T) {
	db, err := OpenPath(MemoryPath)
	if err != nil {
		t.Fatalf("OpenPath() failed: %v", err)
	}
	defer db.Close()

	if err = Migrate(db, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err = db.Exec("INSERT INTO students (student_id, name, total_fee) VALUES ('S1', 'Asha', 10)"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	// orphan payments are rejected by the store too
	_, err = db.Exec("INSERT INTO payments (student_id, amount_paid, payment_date, mode_of_payment) VALUES ('lol', 1, '2024-01-01 00:00:00', 'Cash')")
	assert.Error(t, err)
}
