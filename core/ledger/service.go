package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrStudentNotFound = errors.New("student not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

// PolicyViolationError is returned when a payment would exceed the remaining due of a student.
type PolicyViolationError struct {
	Due decimal.Decimal
}

func (err *PolicyViolationError) Error() string {
	return "payment exceeds remaining fee of " + core.FormatAmount(err.Due)
}

func IsNotFound(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrStudentNotFound || cause == ErrPaymentNotFound
}

func IsPolicyViolation(err error) (*PolicyViolationError, bool) {
	pv, ok := errors.Cause(err).(*PolicyViolationError)
	return pv, ok
}

type (
	Repository interface {
		// UpsertStudent creates the student or replaces all fields of the existing one.
		UpsertStudent(ctx context.Context, std Student) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		// QueryStudents does a case-insensitive match of StudentFilter.Search on Student.ID or Student.Name,
		// ordered by Student.ID.
		QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error)

		// InsertPayment assigns Payment.ReceiptNo and stores the payment.
		InsertPayment(ctx context.Context, pmt Payment) (Payment, error)
		GetPayment(ctx context.Context, receiptNo int64) (Payment, error)
		GetLastPayment(ctx context.Context, studentID string) (Payment, error)
		// QueryPayments returns matching payments, most recent receipt first.
		QueryPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
		SumPayments(ctx context.Context, studentID string) (decimal.Decimal, error)

		// Atomic runs fn so that no other write interleaves with the calls made on the provided Repository.
		// Changes are discarded if fn returns an error.
		Atomic(ctx context.Context, fn func(repo Repository) error) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Students

func (svc *Service) UpsertStudent(ctx context.Context, ns NewStudent) (Student, error) {
	ns.Clean()
	if ns.ID == "" {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "this field is required"})
	}
	if hasPathSep(ns.ID) {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "student_id cannot contain / or \\"})
	}
	if ns.Name == "" {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "name", Error: "this field is required"})
	}
	if ns.TotalFee.IsNegative() {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "total_fee", Error: "total fee cannot be negative"})
	}
	if !hasValidPrecision(ns.TotalFee) {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "total_fee", Error: amountPrecisionText})
	}

	std, err := svc.repo.UpsertStudent(ctx, Student{
		ID:        ns.ID,
		Name:      ns.Name,
		ClassName: ns.ClassName,
		TotalFee:  ns.TotalFee,
		PhotoRef:  ns.PhotoRef,
	})
	if err != nil {
		return Student{}, errors.Wrap(err, "upserting student")
	}
	return std, nil
}

func (svc *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, core.CleanString(id))
}

func (svc *Service) QueryStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	filter.Clean()
	return svc.repo.QueryStudents(ctx, filter)
}

// SetPhoto replaces the photo reference of a student, keeping the other fields.
func (svc *Service) SetPhoto(ctx context.Context, id, photoRef string) (Student, error) {
	var std Student
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		var err error
		if std, err = repo.GetStudent(ctx, core.CleanString(id)); err != nil {
			return err
		}
		std.PhotoRef = photoRef
		std, err = repo.UpsertStudent(ctx, std)
		return err
	})
	if err != nil {
		return Student{}, err
	}
	return std, nil
}

// Payments

// AppendPayment stores a payment for an existing student. It does not apply the overpayment policy,
// see RecordPayment.
func (svc *Service) AppendPayment(ctx context.Context, np NewPayment) (Payment, error) {
	return svc.appendPayment(ctx, svc.repo, np)
}

func (svc *Service) appendPayment(ctx context.Context, repo Repository, np NewPayment) (Payment, error) {
	np.Clean()
	if err := checkAmount(np.Amount); err != nil {
		return Payment{}, err
	}
	if _, err := repo.GetStudent(ctx, np.StudentID); err != nil {
		return Payment{}, err
	}

	date := np.Date
	if date.IsZero() {
		date = nowFunc()
	}
	pmt, err := repo.InsertPayment(ctx, Payment{
		StudentID: np.StudentID,
		Amount:    np.Amount,
		Date:      date.Truncate(time.Second),
		Mode:      np.Mode,
	})
	if err != nil {
		return Payment{}, errors.Wrap(err, "inserting payment")
	}
	return pmt, nil
}

// RecordPayment checks the payment against the remaining due and appends it, atomically.
// A *PolicyViolationError carrying the current due is returned when the payment exceeds it.
func (svc *Service) RecordPayment(ctx context.Context, np NewPayment) (Receipt, error) {
	np.Clean()
	if err := checkAmount(np.Amount); err != nil {
		return Receipt{}, err
	}

	var rcpt Receipt
	err := svc.repo.Atomic(ctx, func(repo Repository) error {
		std, paid, err := balance(ctx, repo, np.StudentID)
		if err != nil {
			return err
		}
		due := std.TotalFee.Sub(paid)
		if np.Amount.GreaterThan(due) {
			return &PolicyViolationError{Due: due}
		}

		pmt, err := svc.appendPayment(ctx, repo, np)
		if err != nil {
			return err
		}
		paid = paid.Add(pmt.Amount)
		rcpt = Receipt{
			Student:     std,
			Payment:     pmt,
			TotalPaid:   paid,
			TotalDue:    std.TotalFee.Sub(paid),
			GeneratedAt: nowFunc(),
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

func (svc *Service) ListPayments(ctx context.Context, studentID string) ([]Payment, error) {
	return svc.repo.QueryPayments(ctx, PaymentFilter{StudentID: core.CleanString(studentID)})
}

func (svc *Service) QueryPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	filter.StudentID = core.CleanString(filter.StudentID)
	return svc.repo.QueryPayments(ctx, filter)
}

func (svc *Service) GetLastPayment(ctx context.Context, studentID string) (Payment, error) {
	return svc.repo.GetLastPayment(ctx, core.CleanString(studentID))
}

func (svc *Service) GetPayment(ctx context.Context, receiptNo int64) (Payment, error) {
	return svc.repo.GetPayment(ctx, receiptNo)
}

// Balances

// TotalPaid is 0 for students without payments, known or not.
func (svc *Service) TotalPaid(ctx context.Context, studentID string) (decimal.Decimal, error) {
	paid, err := svc.repo.SumPayments(ctx, core.CleanString(studentID))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "summing payments")
	}
	return paid, nil
}

// TotalDue returns ErrStudentNotFound for unknown students.
func (svc *Service) TotalDue(ctx context.Context, studentID string) (decimal.Decimal, error) {
	std, paid, err := balance(ctx, svc.repo, core.CleanString(studentID))
	if err != nil {
		return decimal.Zero, err
	}
	return std.TotalFee.Sub(paid), nil
}

// CheckPayment returns a *PolicyViolationError if `amount` exceeds the remaining due.
func (svc *Service) CheckPayment(ctx context.Context, studentID string, amount decimal.Decimal) error {
	due, err := svc.TotalDue(ctx, studentID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(due) {
		return &PolicyViolationError{Due: due}
	}
	return nil
}

func (svc *Service) Statement(ctx context.Context, studentID string) (Statement, error) {
	studentID = core.CleanString(studentID)
	std, paid, err := balance(ctx, svc.repo, studentID)
	if err != nil {
		return Statement{}, err
	}
	pmts, err := svc.repo.QueryPayments(ctx, PaymentFilter{StudentID: studentID})
	if err != nil {
		return Statement{}, errors.Wrap(err, "querying payments")
	}
	if pmts == nil {
		pmts = []Payment{}
	}
	return Statement{
		Student:   std,
		TotalPaid: paid,
		TotalDue:  std.TotalFee.Sub(paid),
		Payments:  pmts,
	}, nil
}

// Receipt rebuilds the receipt of an existing payment with the current totals of its student.
func (svc *Service) Receipt(ctx context.Context, receiptNo int64) (Receipt, error) {
	pmt, err := svc.repo.GetPayment(ctx, receiptNo)
	if err != nil {
		return Receipt{}, err
	}
	std, paid, err := balance(ctx, svc.repo, pmt.StudentID)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Student:     std,
		Payment:     pmt,
		TotalPaid:   paid,
		TotalDue:    std.TotalFee.Sub(paid),
		GeneratedAt: nowFunc(),
	}, nil
}

func balance(ctx context.Context, repo Repository, studentID string) (Student, decimal.Decimal, error) {
	std, err := repo.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, decimal.Zero, err
	}
	paid, err := repo.SumPayments(ctx, studentID)
	if err != nil {
		return Student{}, decimal.Zero, errors.Wrap(err, "summing payments")
	}
	return std, paid, nil
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "amount must be greater than 0"})
	}
	if !hasValidPrecision(amount) {
		return core.NewValidationError(nil, core.FieldError{Field: "amount", Error: amountPrecisionText})
	}
	return nil
}
