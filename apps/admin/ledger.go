package main

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
)

const dayLayout = "2006-01-02"

var nowFunc = time.Now // mockable

// upsertStudent adds or replaces a student. The stored photo is kept when none is given or the new one cannot be copied.
func (cli *commandLine) upsertStudent(id, name, class, fee, photoPath string) error {
	ctx := context.Background()

	totalFee, err := core.ParseAmount(fee)
	if err != nil {
		return err
	}
	ns := ledger.NewStudent{
		ID:        id,
		Name:      name,
		ClassName: class,
		TotalFee:  totalFee,
	}
	if err = ns.Validate(cli.validate); err != nil {
		return core.ValidationErrorFrom(err, cli.translator)
	}

	if photoPath != "" {
		// a photo that cannot be copied does not block the save
		if ns.PhotoRef, err = cli.photos.Save(ns.ID, photoPath); err != nil {
			cli.logger.Warn("saving photo of "+ns.ID, err)
			_, _ = fmt.Fprintf(cli.out, "Warning: photo not saved: %s\n", err)
		}
	}
	if ns.PhotoRef == "" {
		if std, err := cli.svc.GetStudent(ctx, ns.ID); err == nil {
			ns.PhotoRef = std.PhotoRef
		} else if !ledger.IsNotFound(err) {
			return err
		}
	}

	std, err := cli.svc.UpsertStudent(ctx, ns)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "Student %s saved (total fee %s)\n", std.ID, core.FormatAmount(std.TotalFee))
	return nil
}

func (cli *commandLine) show(id string) error {
	stmt, err := cli.svc.Statement(context.Background(), id)
	if err != nil {
		return err
	}

	std := stmt.Student
	_, _ = fmt.Fprintf(cli.out, "Name: %s\nStudent ID: %s\nClass: %s\n", std.Name, std.ID, std.ClassName)
	_, _ = fmt.Fprintf(cli.out, "Total Fee: %s\nTotal Paid: %s\nRemaining: %s\n",
		core.FormatAmount(std.TotalFee), core.FormatAmount(stmt.TotalPaid), core.FormatAmount(stmt.TotalDue))
	if std.PhotoRef != "" {
		_, _ = fmt.Fprintf(cli.out, "Photo Path: %s\n", std.PhotoRef)
	}
	_, _ = fmt.Fprintln(cli.out)

	if len(stmt.Payments) == 0 {
		_, _ = fmt.Fprintln(cli.out, "No payments yet.")
		return nil
	}
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Receipt No\tAmount\tDate\tMode")
	for _, pmt := range stmt.Payments {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			pmt.ReceiptNo, core.FormatAmount(pmt.Amount), pmt.Date.Format(ledger.DateLayout), pmt.Mode)
	}
	return tw.Flush()
}

type payArgs struct {
	id, amount, mode, date, email string
	open                          bool
}

func (cli *commandLine) pay(args payArgs) error {
	ctx := context.Background()

	amount, err := core.ParseAmount(args.amount)
	if err != nil {
		return err
	}
	np := ledger.NewPayment{StudentID: args.id, Amount: amount, Mode: args.mode}
	if args.date != "" {
		day, err := time.ParseInLocation(dayLayout, args.date, time.Local)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "date", Error: "use the YYYY-MM-DD format"})
		}
		// keep the time of day so that payments of the same day stay ordered
		now := nowFunc()
		np.Date = time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.Local)
	}
	var to *mail.Address
	if args.email != "" {
		if to, err = mail.ParseAddress(args.email); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "enter a valid email address"})
		}
	}
	if err = np.Validate(cli.validate); err != nil {
		return core.ValidationErrorFrom(err, cli.translator)
	}

	rcpt, err := cli.svc.RecordPayment(ctx, np)
	if err != nil {
		if pv, ok := ledger.IsPolicyViolation(err); ok {
			return errors.Errorf("payment exceeds remaining fee, remaining: %s", core.FormatAmount(pv.Due))
		}
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "Payment recorded. Receipt No: %d, Remaining: %s\n",
		rcpt.Payment.ReceiptNo, core.FormatAmount(rcpt.TotalDue))

	// the payment is committed: failures below are reported but do not undo it
	path, err := cli.receipts.Render(rcpt)
	if err != nil {
		return errors.Wrap(err, "payment saved but the receipt could not be generated, run `receipt -no "+
			strconv.FormatInt(rcpt.Payment.ReceiptNo, 10)+"`")
	}
	_, _ = fmt.Fprintf(cli.out, "Receipt: %s\n", path)

	if to != nil {
		msg, err := cli.receipts.NewEmail(rcpt, *to)
		if err != nil {
			cli.logger.Error("preparing receipt email", err)
		} else {
			cli.mailer.SendMessages(msg)
			if w, ok := cli.mailer.(interface{ Wait() }); ok {
				w.Wait() // the process exits right after
			}
			_, _ = fmt.Fprintf(cli.out, "Receipt sent to %s\n", to.Address)
		}
	}

	if args.open || cli.autoOpen() {
		cli.opener.Open(path)
	}
	return nil
}

func (cli *commandLine) reprint(receiptNo int64, open bool) error {
	rcpt, err := cli.svc.Receipt(context.Background(), receiptNo)
	if err != nil {
		return err
	}
	path, err := cli.receipts.Render(rcpt)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "Receipt: %s\n", path)

	if open || cli.autoOpen() {
		cli.opener.Open(path)
	}
	return nil
}

func (cli *commandLine) export(id, from, to, out string) error {
	filter := ledger.PaymentFilter{StudentID: core.CleanString(id)}

	var err error
	if from != "" {
		if filter.From, err = time.ParseInLocation(dayLayout, from, time.Local); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "from", Error: "use the YYYY-MM-DD format"})
		}
	}
	if to != "" {
		day, err := time.ParseInLocation(dayLayout, to, time.Local)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "to", Error: "use the YYYY-MM-DD format"})
		}
		filter.To = day.AddDate(0, 0, 1)
	}
	if out == "" {
		out = "fees_" + nowFunc().Format("20060102") + ".xlsx"
	}

	path, err := cli.exporter.Export(context.Background(), filter, out)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "Exported: %s\n", path)
	return nil
}
