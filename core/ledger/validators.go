package ledger

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core"
)

var (
	paymentModeTag  = "paymentmode"
	paymentModeText = "must be one of: " + strings.Join(Modes, ", ")

	noPathSepTag  = "nopathsep"
	noPathSepText = "{0} cannot contain / or \\"

	amountPrecisionTag  = "amountprecision"
	amountPrecisionText = "at most 2 decimal places are allowed"
)

// InitValidators registers the ledger validations. core.InitValidators must be called first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(paymentModeTag, paymentModeValidation)
	core.RegisterCustomTranslation(validate, translator, paymentModeTag, "{0} "+paymentModeText)

	_ = validate.RegisterValidation(noPathSepTag, noPathSepValidation)
	core.RegisterCustomTranslation(validate, translator, noPathSepTag, noPathSepText)

	validate.RegisterStructValidation(amountsStructValidation, NewStudent{}, NewPayment{})
	core.RegisterCustomTranslation(validate, translator, amountPrecisionTag, amountPrecisionText)
}

// Custom Validators

// paymentModeValidation checks that the mode of payment is one of Modes.
func paymentModeValidation(fl validator.FieldLevel) bool {
	if mode, ok := fl.Field().Interface().(string); ok {
		return IsValidMode(mode)
	}
	return false
}

// noPathSepValidation keeps student IDs usable in photo and receipt file names.
func noPathSepValidation(fl validator.FieldLevel) bool {
	return !hasPathSep(fl.Field().String())
}

func hasPathSep(s string) bool {
	return strings.ContainsAny(s, `/\`)
}

// amountsStructValidation rejects amounts with more than 2 decimal places.
func amountsStructValidation(sl validator.StructLevel) {
	switch v := sl.Current().Interface().(type) {
	case NewStudent:
		if !hasValidPrecision(v.TotalFee) {
			sl.ReportError(v.TotalFee, "total_fee", "TotalFee", amountPrecisionTag, "")
		}
	case NewPayment:
		if !hasValidPrecision(v.Amount) {
			sl.ReportError(v.Amount, "amount", "Amount", amountPrecisionTag, "")
		}
	}
}

func hasValidPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
