package echoapi

import (
	"bytes"
	"net/http"
	"net/mail"
	"path/filepath"
	"strconv"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
	"github.com/trezcool/feedesk/services/export"
	"github.com/trezcool/feedesk/services/photo"
	"github.com/trezcool/feedesk/services/receipt"
)

const (
	dayLayout = "2006-01-02"
	xlsxMIME  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var nowFunc = time.Now // mockable

type ledgerApi struct {
	svc        *ledger.Service
	photos     *photosvc.Store
	receipts   *receiptsvc.Renderer
	exporter   *exportsvc.Exporter
	mailer     core.EmailService
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator
}

func registerLedgerAPI(g *echo.Group, deps ServerDeps) {
	api := ledgerApi{
		svc:        deps.LedgerSvc,
		photos:     deps.Photos,
		receipts:   deps.Receipts,
		exporter:   deps.Exporter,
		mailer:     deps.Mailer,
		logger:     deps.Logger,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	sg := g.Group("/students")
	sg.GET("", api.queryStudents)

	dg := sg.Group("/:id")
	dg.GET("", api.statement)
	dg.PUT("", api.upsertStudent)
	dg.POST("/photo", api.uploadPhoto)
	dg.GET("/balance", api.balance)
	dg.GET("/payments", api.listPayments)
	dg.POST("/payments", api.recordPayment)
	dg.GET("/payments/last", api.lastPayment)

	pg := g.Group("/payments/:no")
	pg.GET("", api.retrievePayment)
	pg.GET("/receipt", api.receipt)

	g.GET("/export", api.export)
}

// Bindings

// studentRequest tells a missing total_fee apart from a zero one.
type studentRequest struct {
	Name      string              `json:"name"`
	ClassName string              `json:"class"`
	TotalFee  decimal.NullDecimal `json:"total_fee"`
}

func (sr studentRequest) toNewStudent(id string) ledger.NewStudent {
	return ledger.NewStudent{ID: id, Name: sr.Name, ClassName: sr.ClassName, TotalFee: sr.TotalFee.Decimal}
}

func (sr studentRequest) validate(ns *ledger.NewStudent, validate *validator.Validate, translator ut.Translator) error {
	err := ns.Validate(validate)
	if sr.TotalFee.Valid {
		return err
	}

	flds := []core.FieldError{{Field: "total_fee", Error: "this field is required"}}
	var vErr *core.ValidationError
	if errors.As(core.ValidationErrorFrom(err, translator), &vErr) {
		for _, fld := range vErr.Fields {
			if fld.Field != "total_fee" {
				flds = append(flds, fld)
			}
		}
	}
	return core.NewValidationError(nil, flds...)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Mode   string          `json:"mode"`  // default: Cash
	Date   string          `json:"date"`  // YYYY-MM-DD or YYYY-MM-DD hh:mm:ss; default: now
	Email  string          `json:"email"` // the receipt is mailed when set
}

func (pr paymentRequest) toNewPayment(studentID string) (ledger.NewPayment, *mail.Address, error) {
	np := ledger.NewPayment{StudentID: studentID, Amount: pr.Amount, Mode: core.CleanString(pr.Mode)}
	if np.Mode == "" {
		np.Mode = ledger.ModeCash
	}

	if date := core.CleanString(pr.Date); date != "" {
		if dt, err := time.ParseInLocation(ledger.DateLayout, date, time.Local); err == nil {
			np.Date = dt
		} else if day, err := time.ParseInLocation(dayLayout, date, time.Local); err == nil {
			now := nowFunc()
			np.Date = time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.Local)
		} else {
			return np, nil, core.NewValidationError(nil, core.FieldError{
				Field: "date",
				Error: "use the YYYY-MM-DD or YYYY-MM-DD hh:mm:ss format",
			})
		}
	}

	var to *mail.Address
	if email := core.CleanString(pr.Email); email != "" {
		var err error
		if to, err = mail.ParseAddress(email); err != nil {
			return np, nil, core.NewValidationError(nil, core.FieldError{Field: "email", Error: "enter a valid email address"})
		}
	}
	return np, to, nil
}

func parseFilterDay(ctx echo.Context, param string) (time.Time, error) {
	val := ctx.QueryParam(param)
	if val == "" {
		return time.Time{}, nil
	}
	day, err := time.ParseInLocation(dayLayout, val, time.Local)
	if err != nil {
		return time.Time{}, core.NewValidationError(nil, core.FieldError{Field: param, Error: "use the YYYY-MM-DD format"})
	}
	return day, nil
}

func parseReceiptNo(ctx echo.Context) (int64, error) {
	no, err := strconv.ParseInt(ctx.Param("no"), 10, 64)
	if err != nil || no <= 0 {
		return 0, errHttpNotFound
	}
	return no, nil
}

// Handlers

func (api *ledgerApi) queryStudents(ctx echo.Context) error {
	var filter ledger.StudentFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &filter); err != nil {
		return errors.Wrap(err, "binding to StudentFilter")
	}
	stds, err := api.svc.QueryStudents(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if stds == nil {
		stds = []ledger.Student{}
	}
	return ctx.JSON(http.StatusOK, stds)
}

// upsertStudent replaces a student from the request body. Photos are only set through uploadPhoto.
func (api *ledgerApi) upsertStudent(ctx echo.Context) error {
	var data studentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to studentRequest")
	}
	ns := data.toNewStudent(ctx.Param("id"))
	if err := data.validate(&ns, api.validate, api.translator); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if std, err := api.svc.GetStudent(rctx, ns.ID); err == nil {
		ns.PhotoRef = std.PhotoRef
	} else if !ledger.IsNotFound(err) {
		return errors.Wrap(err, "getting student")
	}

	std, err := api.svc.UpsertStudent(rctx, ns)
	if err != nil {
		return errors.Wrap(err, "saving student")
	}
	return ctx.JSON(http.StatusOK, std)
}

func (api *ledgerApi) statement(ctx echo.Context) error {
	stmt, err := api.svc.Statement(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting statement")
	}
	return ctx.JSON(http.StatusOK, stmt)
}

func (api *ledgerApi) uploadPhoto(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	std, err := api.svc.GetStudent(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}

	fh, err := ctx.FormFile("photo")
	if err != nil {
		return errNoPhoto
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded photo")
	}
	defer src.Close()

	ref, err := api.photos.SaveReader(std.ID, filepath.Ext(fh.Filename), src)
	if err != nil {
		return err
	}
	if std, err = api.svc.SetPhoto(rctx, std.ID, ref); err != nil {
		return errors.Wrap(err, "setting photo")
	}
	return ctx.JSON(http.StatusOK, std)
}

func (api *ledgerApi) balance(ctx echo.Context) error {
	stmt, err := api.svc.Statement(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting balance")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"total_fee":  core.FormatAmount(stmt.Student.TotalFee),
		"total_paid": core.FormatAmount(stmt.TotalPaid),
		"total_due":  core.FormatAmount(stmt.TotalDue),
	})
}

func (api *ledgerApi) listPayments(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	std, err := api.svc.GetStudent(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	pmts, err := api.svc.ListPayments(rctx, std.ID)
	if err != nil {
		return errors.Wrap(err, "listing payments")
	}
	if pmts == nil {
		pmts = []ledger.Payment{}
	}
	return ctx.JSON(http.StatusOK, pmts)
}

func (api *ledgerApi) lastPayment(ctx echo.Context) error {
	pmt, err := api.svc.GetLastPayment(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting last payment")
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *ledgerApi) recordPayment(ctx echo.Context) error {
	var data paymentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to paymentRequest")
	}
	np, to, err := data.toNewPayment(ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = np.Validate(api.validate); err != nil {
		return err
	}

	rcpt, err := api.svc.RecordPayment(ctx.Request().Context(), np)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}

	// the payment is committed: failures below are logged only
	if _, err = api.receipts.Render(rcpt); err != nil {
		api.logger.Error("rendering receipt", err, rcpt.Payment)
	}
	if to != nil {
		msg, err := api.receipts.NewEmail(rcpt, *to)
		if err != nil {
			api.logger.Error("preparing receipt email", err, rcpt.Payment)
		} else {
			api.mailer.SendMessages(msg)
		}
	}
	return ctx.JSON(http.StatusCreated, rcpt)
}

func (api *ledgerApi) retrievePayment(ctx echo.Context) error {
	no, err := parseReceiptNo(ctx)
	if err != nil {
		return err
	}
	pmt, err := api.svc.GetPayment(ctx.Request().Context(), no)
	if err != nil {
		return errors.Wrap(err, "getting payment")
	}
	return ctx.JSON(http.StatusOK, pmt)
}

func (api *ledgerApi) receipt(ctx echo.Context) error {
	no, err := parseReceiptNo(ctx)
	if err != nil {
		return err
	}
	rcpt, err := api.svc.Receipt(ctx.Request().Context(), no)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}

	var buf bytes.Buffer
	if err = api.receipts.Write(&buf, rcpt); err != nil {
		return errors.Wrap(err, "rendering receipt")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+rcpt.Filename("pdf")+`"`)
	return ctx.Blob(http.StatusOK, "application/pdf", buf.Bytes())
}

// export streams the spreadsheet of the ledger; `to` is inclusive.
func (api *ledgerApi) export(ctx echo.Context) error {
	filter := ledger.PaymentFilter{StudentID: core.CleanString(ctx.QueryParam("student_id"))}
	var err error
	if filter.From, err = parseFilterDay(ctx, "from"); err != nil {
		return err
	}
	if filter.To, err = parseFilterDay(ctx, "to"); err != nil {
		return err
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}

	var buf bytes.Buffer
	if err = api.exporter.Write(ctx.Request().Context(), &buf, filter); err != nil {
		return errors.Wrap(err, "exporting ledger")
	}
	name := "fees_" + nowFunc().Format("20060102") + ".xlsx"
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return ctx.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}
