package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
)

type (
	studentRow struct {
		ID        string          `db:"student_id"`
		Name      string          `db:"name"`
		ClassName null.String     `db:"class"`
		TotalFee  decimal.Decimal `db:"total_fee"`
		PhotoPath null.String     `db:"photo_path"`
	}

	paymentRow struct {
		ReceiptNo int64               `db:"receipt_no"`
		StudentID null.String         `db:"student_id"`
		Amount    decimal.NullDecimal `db:"amount_paid"`
		Date      null.String         `db:"payment_date"`
		Mode      null.String         `db:"mode_of_payment"`
	}
)

const (
	studentColumns = "student_id, name, class, total_fee, photo_path"
	paymentColumns = "receipt_no, student_id, amount_paid, payment_date, mode_of_payment"
)

type ledgerRepository struct {
	db   core.DB           // nil inside a transaction
	exec core.DBExecutor // db or the current transaction
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *sqlx.DB) *ledgerRepository {
	return &ledgerRepository{db: db, exec: db}
}

// amounts are stored as REAL (schema compatibility); two decimals is the precision of the ledger.
func roundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (repo ledgerRepository) toRow(std ledger.Student) studentRow {
	return studentRow{
		ID:        std.ID,
		Name:      std.Name,
		ClassName: null.NewString(std.ClassName, std.ClassName != ""),
		TotalFee:  std.TotalFee,
		PhotoPath: null.NewString(std.PhotoRef, std.PhotoRef != ""),
	}
}

func (repo ledgerRepository) toStudent(row studentRow) ledger.Student {
	return ledger.Student{
		ID:        row.ID,
		Name:      row.Name,
		ClassName: row.ClassName.String,
		TotalFee:  roundAmount(row.TotalFee),
		PhotoRef:  row.PhotoPath.String,
	}
}

func (repo ledgerRepository) toPayment(row paymentRow) ledger.Payment {
	pmt := ledger.Payment{
		ReceiptNo: row.ReceiptNo,
		StudentID: row.StudentID.String,
		Amount:    roundAmount(row.Amount.Decimal),
		Mode:      row.Mode.String,
	}
	if row.Date.Valid {
		// rows written with an unexpected format keep a zero Date
		if t, err := time.ParseInLocation(ledger.DateLayout, row.Date.String, time.Local); err == nil {
			pmt.Date = t
		}
	}
	return pmt
}

func (repo ledgerRepository) toPayments(rows []paymentRow) []ledger.Payment {
	pmts := make([]ledger.Payment, 0, len(rows))
	for _, r := range rows {
		pmts = append(pmts, repo.toPayment(r))
	}
	return pmts
}

// trapNoRowsErr maps "no rows" err to `notFound`
func (repo ledgerRepository) trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func (repo ledgerRepository) UpsertStudent(ctx context.Context, std ledger.Student) (ledger.Student, error) {
	row := repo.toRow(std)
	q := `INSERT INTO students (` + studentColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			name = excluded.name,
			class = excluded.class,
			total_fee = excluded.total_fee,
			photo_path = excluded.photo_path`
	if _, err := repo.exec.ExecContext(ctx, q, row.ID, row.Name, row.ClassName, row.TotalFee.InexactFloat64(), row.PhotoPath); err != nil {
		return ledger.Student{}, errors.Wrap(err, "upserting student")
	}
	return repo.toStudent(row), nil
}

func (repo ledgerRepository) GetStudent(ctx context.Context, id string) (ledger.Student, error) {
	var row studentRow
	q := `SELECT ` + studentColumns + ` FROM students WHERE student_id = ?`
	if err := repo.exec.GetContext(ctx, &row, q, id); err != nil {
		return ledger.Student{}, repo.trapNoRowsErr(err, ledger.ErrStudentNotFound, "finding student")
	}
	return repo.toStudent(row), nil
}

func (repo ledgerRepository) QueryStudents(ctx context.Context, filter ledger.StudentFilter) ([]ledger.Student, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Search != "" {
		val := "%" + strings.ToLower(filter.Search) + "%"
		where = append(where, "(LOWER(student_id) LIKE ? OR LOWER(name) LIKE ?)")
		args = append(args, val, val)
	}
	if filter.ClassName != "" {
		where = append(where, "class = ?")
		args = append(args, filter.ClassName)
	}

	q := `SELECT ` + studentColumns + ` FROM students`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY student_id ASC"

	var rows []studentRow
	if err := repo.exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	stds := make([]ledger.Student, 0, len(rows))
	for _, r := range rows {
		stds = append(stds, repo.toStudent(r))
	}
	return stds, nil
}

func (repo ledgerRepository) InsertPayment(ctx context.Context, pmt ledger.Payment) (ledger.Payment, error) {
	q := `INSERT INTO payments (student_id, amount_paid, payment_date, mode_of_payment) VALUES (?, ?, ?, ?)`
	res, err := repo.exec.ExecContext(ctx, q,
		pmt.StudentID,
		pmt.Amount.InexactFloat64(),
		pmt.Date.Format(ledger.DateLayout),
		pmt.Mode,
	)
	if err != nil {
		return ledger.Payment{}, errors.Wrap(err, "inserting payment")
	}
	if pmt.ReceiptNo, err = res.LastInsertId(); err != nil {
		return ledger.Payment{}, errors.Wrap(err, "getting receipt number")
	}
	return pmt, nil
}

func (repo ledgerRepository) GetPayment(ctx context.Context, receiptNo int64) (ledger.Payment, error) {
	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE receipt_no = ?`
	if err := repo.exec.GetContext(ctx, &row, q, receiptNo); err != nil {
		return ledger.Payment{}, repo.trapNoRowsErr(err, ledger.ErrPaymentNotFound, "finding payment")
	}
	return repo.toPayment(row), nil
}

func (repo ledgerRepository) GetLastPayment(ctx context.Context, studentID string) (ledger.Payment, error) {
	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE student_id = ? ORDER BY receipt_no DESC LIMIT 1`
	if err := repo.exec.GetContext(ctx, &row, q, studentID); err != nil {
		return ledger.Payment{}, repo.trapNoRowsErr(err, ledger.ErrPaymentNotFound, "finding last payment")
	}
	return repo.toPayment(row), nil
}

func (repo ledgerRepository) QueryPayments(ctx context.Context, filter ledger.PaymentFilter) ([]ledger.Payment, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	// dates are stored in a lexically sortable layout
	if !filter.From.IsZero() {
		where = append(where, "payment_date >= ?")
		args = append(args, filter.From.In(time.Local).Format(ledger.DateLayout))
	}
	if !filter.To.IsZero() {
		where = append(where, "payment_date < ?")
		args = append(args, filter.To.In(time.Local).Format(ledger.DateLayout))
	}

	q := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY receipt_no DESC"

	var rows []paymentRow
	if err := repo.exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	return repo.toPayments(rows), nil
}

func (repo ledgerRepository) SumPayments(ctx context.Context, studentID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	q := `SELECT COALESCE(SUM(amount_paid), 0) FROM payments WHERE student_id = ?`
	if err := repo.exec.GetContext(ctx, &total, q, studentID); err != nil {
		return decimal.Zero, errors.Wrap(err, "summing payments")
	}
	return roundAmount(total), nil
}

func (repo ledgerRepository) Atomic(ctx context.Context, fn func(repo ledger.Repository) error) (err error) {
	if repo.db == nil { // already in a transaction
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = errors.Wrap(err, "committing transaction")
		}
	}()

	return fn(ledgerRepository{exec: tx})
}
