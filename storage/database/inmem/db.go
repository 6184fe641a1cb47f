package inmemdb

import (
	"sync"

	"github.com/trezcool/feedesk/core/ledger"
)

type (
	DB struct {
		ledger *ledgerTables
	}

	ledgerTables struct {
		sync.RWMutex
		students     map[string]ledger.Student
		payments     []ledger.Payment // receipt_no ascending
		lastReceipts int64
	}
)

func Open() (*DB, error) {
	db := &DB{
		ledger: &ledgerTables{students: make(map[string]ledger.Student)},
	}
	return db, nil
}

// snapshot copies the tables so that a failed Atomic call can be undone.
func (t *ledgerTables) snapshot() ledgerTables {
	snap := ledgerTables{
		students:     make(map[string]ledger.Student, len(t.students)),
		payments:     make([]ledger.Payment, len(t.payments)),
		lastReceipts: t.lastReceipts,
	}
	for id, std := range t.students {
		snap.students[id] = std
	}
	copy(snap.payments, t.payments)
	return snap
}

// restore also rewinds the receipt counter, like a rolled back sqlite_sequence.
func (t *ledgerTables) restore(snap ledgerTables) {
	t.students = snap.students
	t.payments = snap.payments
	t.lastReceipts = snap.lastReceipts
}
