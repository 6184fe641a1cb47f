package exportsvc

import (
	"bytes"
	"context"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
)

const (
	StudentsSheet = "Students"
	PaymentsSheet = "Payments"

	amountNumFmt = 2 // 0.00
)

var (
	studentsHeader = []interface{}{"Student ID", "Name", "Class", "Total Fee", "Total Paid", "Remaining Fee Due"}
	paymentsHeader = []interface{}{"Receipt No", "Student ID", "Amount Paid", "Date", "Mode of Payment"}
)

// Exporter writes the ledger to xlsx workbooks.
type Exporter struct {
	fs  afero.Fs
	dir string
	svc *ledger.Service
}

func NewExporter(fs afero.Fs, conf *core.Config, svc *ledger.Service) *Exporter {
	return &Exporter{fs: fs, dir: conf.Storage.ExportDir, svc: svc}
}

// Export saves the workbook as `<exportDir>/<name>` and returns its path.
func (e *Exporter) Export(ctx context.Context, filter ledger.PaymentFilter, name string) (string, error) {
	var buf bytes.Buffer
	if err := e.Write(ctx, &buf, filter); err != nil {
		return "", err
	}
	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating export directory")
	}
	path := filepath.Join(e.dir, filepath.Base(name))
	if err := afero.WriteReader(e.fs, path, &buf); err != nil {
		return "", errors.Wrap(err, "writing export")
	}
	return path, nil
}

// Write streams a workbook with the balances of the selected students and their payments in the date range.
func (e *Exporter) Write(ctx context.Context, w io.Writer, filter ledger.PaymentFilter) error {
	stds, err := e.students(ctx, filter.StudentID)
	if err != nil {
		return err
	}
	pmts, err := e.svc.QueryPayments(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err = f.SetSheetName("Sheet1", StudentsSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	if _, err = f.NewSheet(PaymentsSheet); err != nil {
		return errors.Wrap(err, "adding sheet")
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating style")
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: amountNumFmt})
	if err != nil {
		return errors.Wrap(err, "creating style")
	}

	// Students
	rows := make([][]interface{}, 0, len(stds))
	for _, std := range stds {
		paid, err := e.svc.TotalPaid(ctx, std.ID)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			std.ID, std.Name, std.ClassName,
			std.TotalFee.InexactFloat64(), paid.InexactFloat64(), std.TotalFee.Sub(paid).InexactFloat64(),
		})
	}
	if err = writeSheet(f, StudentsSheet, studentsHeader, rows, headerStyle, amountStyle, "D", "F"); err != nil {
		return err
	}

	// Payments
	rows = make([][]interface{}, 0, len(pmts))
	for _, pmt := range pmts {
		rows = append(rows, []interface{}{
			pmt.ReceiptNo, pmt.StudentID, pmt.Amount.InexactFloat64(), pmt.Date.Format(ledger.DateLayout), pmt.Mode,
		})
	}
	if err = writeSheet(f, PaymentsSheet, paymentsHeader, rows, headerStyle, amountStyle, "C", "C"); err != nil {
		return err
	}

	if _, err = f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

func (e *Exporter) students(ctx context.Context, studentID string) ([]ledger.Student, error) {
	if studentID == "" {
		return e.svc.QueryStudents(ctx, ledger.StudentFilter{})
	}
	std, err := e.svc.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return []ledger.Student{std}, nil
}

// writeSheet fills `sheet` with a bold header row then `rows`; columns amountFrom..amountTo get the amount format.
func writeSheet(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, headerStyle, amountStyle int, amountFrom, amountTo string) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return errors.Wrap(err, "styling header")
	}
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "locating row")
		}
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrap(err, "writing row")
		}
	}
	if len(rows) > 0 {
		if err := f.SetColStyle(sheet, amountFrom+":"+amountTo, amountStyle); err != nil {
			return errors.Wrap(err, "styling amounts")
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return errors.Wrap(err, "locating columns")
	}
	if err = f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return errors.Wrap(err, "sizing columns")
	}
	return nil
}
