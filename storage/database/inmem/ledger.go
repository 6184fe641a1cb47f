package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core/ledger"
)

type ledgerRepository struct {
	db   *ledgerTables
	inTx bool // the lock is already held by Atomic
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *DB) ledger.Repository {
	return &ledgerRepository{db: db.ledger}
}

func (repo *ledgerRepository) rlock() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.RLock()
	return repo.db.RUnlock
}

func (repo *ledgerRepository) lock() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.Lock()
	return repo.db.Unlock
}

func (repo *ledgerRepository) UpsertStudent(_ context.Context, std ledger.Student) (ledger.Student, error) {
	defer repo.lock()()
	repo.db.students[std.ID] = std
	return std, nil
}

func (repo *ledgerRepository) GetStudent(_ context.Context, id string) (ledger.Student, error) {
	defer repo.rlock()()
	if std, ok := repo.db.students[id]; ok {
		return std, nil
	}
	return ledger.Student{}, ledger.ErrStudentNotFound
}

func (repo *ledgerRepository) QueryStudents(_ context.Context, filter ledger.StudentFilter) ([]ledger.Student, error) {
	defer repo.rlock()()

	search := strings.ToLower(filter.Search)
	stds := make([]ledger.Student, 0)
	for _, std := range repo.db.students {
		if search != "" &&
			!strings.Contains(strings.ToLower(std.ID), search) &&
			!strings.Contains(strings.ToLower(std.Name), search) {
			continue
		}
		if filter.ClassName != "" && std.ClassName != filter.ClassName {
			continue
		}
		stds = append(stds, std)
	}
	sort.Slice(stds, func(i, j int) bool { return stds[i].ID < stds[j].ID })
	return stds, nil
}

func (repo *ledgerRepository) InsertPayment(_ context.Context, pmt ledger.Payment) (ledger.Payment, error) {
	defer repo.lock()()
	if _, ok := repo.db.students[pmt.StudentID]; !ok {
		return ledger.Payment{}, ledger.ErrStudentNotFound
	}
	repo.db.lastReceipts++
	pmt.ReceiptNo = repo.db.lastReceipts
	repo.db.payments = append(repo.db.payments, pmt)
	return pmt, nil
}

func (repo *ledgerRepository) GetPayment(_ context.Context, receiptNo int64) (ledger.Payment, error) {
	defer repo.rlock()()
	idx := sort.Search(len(repo.db.payments), func(i int) bool { return repo.db.payments[i].ReceiptNo >= receiptNo })
	if idx < len(repo.db.payments) && repo.db.payments[idx].ReceiptNo == receiptNo {
		return repo.db.payments[idx], nil
	}
	return ledger.Payment{}, ledger.ErrPaymentNotFound
}

func (repo *ledgerRepository) GetLastPayment(_ context.Context, studentID string) (ledger.Payment, error) {
	defer repo.rlock()()
	for i := len(repo.db.payments) - 1; i >= 0; i-- {
		if repo.db.payments[i].StudentID == studentID {
			return repo.db.payments[i], nil
		}
	}
	return ledger.Payment{}, ledger.ErrPaymentNotFound
}

func (repo *ledgerRepository) QueryPayments(_ context.Context, filter ledger.PaymentFilter) ([]ledger.Payment, error) {
	defer repo.rlock()()

	pmts := make([]ledger.Payment, 0)
	for i := len(repo.db.payments) - 1; i >= 0; i-- {
		pmt := repo.db.payments[i]
		if filter.StudentID != "" && pmt.StudentID != filter.StudentID {
			continue
		}
		if !filter.From.IsZero() && pmt.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !pmt.Date.Before(filter.To) {
			continue
		}
		pmts = append(pmts, pmt)
	}
	return pmts, nil
}

func (repo *ledgerRepository) SumPayments(_ context.Context, studentID string) (decimal.Decimal, error) {
	defer repo.rlock()()
	total := decimal.Zero
	for _, pmt := range repo.db.payments {
		if pmt.StudentID == studentID {
			total = total.Add(pmt.Amount)
		}
	}
	return total, nil
}

func (repo *ledgerRepository) Atomic(_ context.Context, fn func(repo ledger.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}

	repo.db.Lock()
	defer repo.db.Unlock()

	snap := repo.db.snapshot()
	if err := fn(&ledgerRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.restore(snap)
		return err
	}
	return nil
}
