package receiptsvc

import (
	"bytes"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/divan/num2words"
	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
)

// page layout, in points
const (
	marginX      = 50.0
	headerTop    = 30.0
	headerHeight = 60.0
	photoSize    = 110.0
	rowHeight    = 22.0
	lineHeight   = 17.0
)

var (
	headerColor = [3]int{51, 128, 230}
	tableCols   = []struct {
		title string
		width float64
	}{
		{"Receipt No", 100},
		{"Amount Paid", 120},
		{"Date", 155},
		{"Mode of Payment", 120},
	}

	// supported by fpdf; other photo formats are skipped
	imageTypes = map[string]string{".png": "PNG", ".jpg": "JPG", ".jpeg": "JPG", ".gif": "GIF"}
)

// Renderer lays out one-page A4 fee receipts.
type Renderer struct {
	fs   afero.Fs
	dir  string
	conf core.ReceiptConfig
}

func NewRenderer(fs afero.Fs, conf *core.Config) *Renderer {
	return &Renderer{fs: fs, dir: conf.Storage.ReceiptDir, conf: conf.Receipt}
}

// Render writes the receipt to `<receiptDir>/Receipt_<studentId>_<receiptNo>.pdf` and returns that path.
func (r *Renderer) Render(rcpt ledger.Receipt) (string, error) {
	var buf bytes.Buffer
	if err := r.Write(&buf, rcpt); err != nil {
		return "", err
	}
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating receipt directory")
	}
	path := filepath.Join(r.dir, rcpt.Filename("pdf"))
	if err := afero.WriteReader(r.fs, path, &buf); err != nil {
		return "", errors.Wrap(err, "writing receipt")
	}
	return path, nil
}

// Write streams the receipt PDF to w.
func (r *Renderer) Write(w io.Writer, rcpt ledger.Receipt) error {
	pdf := fpdf.New(fpdf.OrientationPortrait, fpdf.UnitPoint, fpdf.PageSizeA4, "")
	pdf.SetMargins(marginX, headerTop, marginX)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Fee Receipt "+strconv.FormatInt(rcpt.Payment.ReceiptNo, 10), true)
	pdf.SetCreator("feedesk", true)
	pdf.SetCreationDate(receiptTime(rcpt.GeneratedAt))
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, _ := pdf.GetPageSize()
	std := rcpt.Student

	// header banner
	pdf.SetFillColor(headerColor[0], headerColor[1], headerColor[2])
	pdf.Rect(0, headerTop, pageW, headerHeight, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(marginX, headerTop+10)
	pdf.CellFormat(pageW-2*marginX, 26, "FEE RECEIPT", "", 1, "L", false, 0, "")
	if r.conf.Institution != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetX(marginX)
		pdf.CellFormat(pageW-2*marginX, 16, tr(r.conf.Institution), "", 1, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)

	// student block
	y := headerTop + headerHeight + 20
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Student Name: " + std.Name,
		"Student ID: " + std.ID,
		"Class: " + std.ClassName,
	} {
		pdf.SetXY(marginX, y)
		pdf.CellFormat(pageW-2*marginX-photoSize-10, lineHeight, tr(line), "", 0, "L", false, 0, "")
		y += lineHeight
	}

	r.drawPhoto(pdf, std.PhotoRef, pageW-marginX-photoSize, headerTop+headerHeight+10)

	// payment table
	y = headerTop + headerHeight + 10 + photoSize + 30
	pdf.SetXY(marginX, y)
	pdf.SetFont("Helvetica", "B", 11)
	for _, col := range tableCols {
		pdf.CellFormat(col.width, rowHeight, col.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetX(marginX)
	pdf.SetFont("Helvetica", "", 11)
	pmt := rcpt.Payment
	for i, val := range []string{
		strconv.FormatInt(pmt.ReceiptNo, 10),
		r.money(pmt.Amount),
		pmt.Date.Format(ledger.DateLayout),
		pmt.Mode,
	} {
		pdf.CellFormat(tableCols[i].width, rowHeight, tr(val), "1", 0, "C", false, 0, "")
	}

	// summary
	y += 2*rowHeight + 30
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		"Total Fee: " + r.money(std.TotalFee),
		"Total Paid: " + r.money(rcpt.TotalPaid),
		"Remaining Fee Due: " + r.money(rcpt.TotalDue),
		"Amount in words: " + AmountInWords(pmt.Amount, r.conf.CurrencyWords),
		"Receipt Generated: " + rcpt.GeneratedAt.Format(ledger.DateLayout),
	} {
		pdf.SetXY(marginX, y)
		pdf.MultiCell(pageW-2*marginX, lineHeight, tr(line), "", "L", false)
		y = pdf.GetY() + 3
	}

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "rendering receipt")
	}
	return nil
}

// drawPhoto fits the photo in a photoSize square; a missing or unreadable photo is skipped.
func (r *Renderer) drawPhoto(pdf *fpdf.Fpdf, ref string, x, y float64) {
	if ref == "" {
		return
	}
	imgType, ok := imageTypes[strings.ToLower(filepath.Ext(ref))]
	if !ok {
		return
	}
	f, err := r.fs.Open(ref)
	if err != nil {
		return
	}
	defer f.Close()

	info := pdf.RegisterImageOptionsReader(ref, fpdf.ImageOptions{ImageType: imgType}, f)
	if !pdf.Ok() || info == nil {
		pdf.ClearError()
		return
	}

	w, h := info.Width(), info.Height()
	if w <= 0 || h <= 0 {
		return
	}
	scale := photoSize / w
	if photoSize/h < scale {
		scale = photoSize / h
	}
	w, h = w*scale, h*scale
	pdf.ImageOptions(ref, x+(photoSize-w)/2, y+(photoSize-h)/2, w, h, false, fpdf.ImageOptions{ImageType: imgType}, 0, "")
	if !pdf.Ok() {
		pdf.ClearError()
	}
}

func (r *Renderer) money(d decimal.Decimal) string {
	if r.conf.Currency == "" {
		return core.FormatAmount(d)
	}
	return r.conf.Currency + " " + core.FormatAmount(d)
}

// AmountInWords spells an amount, eg: "Rupees one thousand two hundred and 50/100 only".
func AmountInWords(amount decimal.Decimal, currencyWords string) string {
	amount = amount.Round(2)
	units := amount.Truncate(0)
	cents := amount.Sub(units).Shift(2).IntPart()

	var sb strings.Builder
	if currencyWords != "" {
		sb.WriteString(currencyWords)
		sb.WriteString(" ")
	}
	sb.WriteString(num2words.Convert(int(units.IntPart())))
	if cents != 0 {
		sb.WriteString(" and ")
		sb.WriteString(strconv.FormatInt(cents, 10))
		sb.WriteString("/100")
	}
	sb.WriteString(" only")
	return sb.String()
}

// receiptTime keeps fpdf dates deterministic when GeneratedAt is unset.
func receiptTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0)
	}
	return t
}
