package ledger

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core"
)

// Modes of payment
const (
	ModeCash         = "Cash"
	ModeCheque       = "Cheque"
	ModeUPI          = "UPI"
	ModeOnline       = "Online"
	ModeBankTransfer = "Bank Transfer"
	ModeOther        = "Other"
)

// DateLayout is how payment dates are persisted and printed.
const DateLayout = "2006-01-02 15:04:05"

var Modes = []string{ModeCash, ModeCheque, ModeUPI, ModeOnline, ModeBankTransfer, ModeOther}

func IsValidMode(mode string) bool {
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}

type Student struct {
	ID        string          `json:"student_id"`
	Name      string          `json:"name"`
	ClassName string          `json:"class"`
	TotalFee  decimal.Decimal `json:"total_fee"`
	PhotoRef  string          `json:"photo_path,omitempty"`
}

type Payment struct {
	ReceiptNo int64           `json:"receipt_no"`
	StudentID string          `json:"student_id"`
	Amount    decimal.Decimal `json:"amount_paid"`
	Date      time.Time       `json:"payment_date"`
	Mode      string          `json:"mode_of_payment"`
}

// Receipt is everything needed to print or mail the receipt of a Payment.
type Receipt struct {
	Student     Student         `json:"student"`
	Payment     Payment         `json:"payment"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	TotalDue    decimal.Decimal `json:"total_due"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Filename follows the `Receipt_<studentId>_<receiptNo>.<ext>` convention.
func (r Receipt) Filename(ext string) string {
	return "Receipt_" + r.Student.ID + "_" + strconv.FormatInt(r.Payment.ReceiptNo, 10) + "." + ext
}

type Statement struct {
	Student   Student         `json:"student"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	TotalDue  decimal.Decimal `json:"total_due"`
	Payments  []Payment       `json:"payments"` // most recent first
}

// NewStudent contains information needed to create or replace a Student.
type NewStudent struct {
	ID        string          `json:"student_id" validate:"required,notblank,nopathsep"`
	Name      string          `json:"name" validate:"required,notblank"`
	ClassName string          `json:"class"`
	TotalFee  decimal.Decimal `json:"total_fee" validate:"gte=0"`
	PhotoRef  string          `json:"photo_path"`
}

func (ns *NewStudent) Clean() {
	ns.ID = core.CleanString(ns.ID)
	ns.Name = core.CleanString(ns.Name)
	ns.ClassName = core.CleanString(ns.ClassName)
	ns.PhotoRef = core.CleanString(ns.PhotoRef)
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Clean()
	return validate.Struct(ns)
}

// NewPayment contains information needed to record a Payment.
type NewPayment struct {
	StudentID string          `json:"student_id" validate:"required,notblank"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Mode      string          `json:"mode" validate:"required,paymentmode"`
	Date      time.Time       `json:"date"` // zero: now
}

func (np *NewPayment) Clean() {
	np.StudentID = core.CleanString(np.StudentID)
	np.Mode = core.CleanString(np.Mode)
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Clean()
	return validate.Struct(np)
}

type StudentFilter struct {
	Search    string `query:"search"`
	ClassName string `query:"class"`
}

func (sf *StudentFilter) Clean() {
	sf.Search = core.CleanString(sf.Search)
	sf.ClassName = core.CleanString(sf.ClassName)
}

// PaymentFilter applies AND operation on its set fields.
type PaymentFilter struct {
	StudentID string
	From      time.Time // inclusive
	To        time.Time // exclusive
}
