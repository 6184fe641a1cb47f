package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
	"github.com/trezcool/feedesk/services/export"
	"github.com/trezcool/feedesk/services/photo"
	"github.com/trezcool/feedesk/services/receipt"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

type opener interface {
	Open(path string) bool
}

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	db         *sqlx.DB
	svc        *ledger.Service
	photos     *photosvc.Store
	receipts   *receiptsvc.Renderer
	exporter   *exportsvc.Exporter
	mailer     core.EmailService
	opener     opener
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                                   - up|down|status|version|redo|reset|up-to N|down-to N")
	_, _ = fmt.Fprintln(cli.out, "  student -id ID -name NAME [-class C] -fee AMOUNT [-photo PATH] - add or replace a student")
	_, _ = fmt.Fprintln(cli.out, "  show -id ID                                               - student details, totals & payments")
	_, _ = fmt.Fprintln(cli.out, "  pay -id ID -amount AMOUNT [-mode MODE] [-date D] [-email ADDR] [-open] - record a payment")
	_, _ = fmt.Fprintln(cli.out, "  receipt -no N [-open]                                     - print a receipt again")
	_, _ = fmt.Fprintln(cli.out, "  export [-id ID] [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-out FILE] - spreadsheet of the ledger")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "student":
		cmd := cli.newFlagSet("student")
		id := cmd.String("id", "", "Student ID (required)")
		name := cmd.String("name", "", "Student name (required)")
		class := cmd.String("class", "", "Class")
		fee := cmd.String("fee", "", "Total fee, eg: 25000 or 25,000.50 (required)")
		photo := cmd.String("photo", "", "Photo file: "+fmt.Sprint(photosvc.Extensions))
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *id == "" || *name == "" || *fee == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.upsertStudent(*id, *name, *class, *fee, *photo)

	case "show":
		cmd := cli.newFlagSet("show")
		id := cmd.String("id", "", "Student ID (required)")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *id == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.show(*id)

	case "pay":
		cmd := cli.newFlagSet("pay")
		id := cmd.String("id", "", "Student ID (required)")
		amount := cmd.String("amount", "", "Amount paid (required)")
		mode := cmd.String("mode", ledger.ModeCash, "Mode of payment: "+fmt.Sprint(ledger.Modes))
		date := cmd.String("date", "", "Payment date, YYYY-MM-DD (default: now)")
		email := cmd.String("email", "", "Email the receipt to this address")
		open := cmd.Bool("open", false, "Open the receipt once generated")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *id == "" || *amount == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.pay(payArgs{
			id:     *id,
			amount: *amount,
			mode:   *mode,
			date:   *date,
			email:  *email,
			open:   *open,
		})

	case "receipt":
		cmd := cli.newFlagSet("receipt")
		no := cmd.String("no", "", "Receipt number (required)")
		open := cmd.Bool("open", false, "Open the receipt once generated")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		receiptNo, err := strconv.ParseInt(*no, 10, 64)
		if err != nil || receiptNo <= 0 {
			cmd.Usage()
			return errHelp
		}
		return cli.reprint(receiptNo, *open)

	case "export":
		cmd := cli.newFlagSet("export")
		id := cmd.String("id", "", "Only this student")
		from := cmd.String("from", "", "Payments from this day, YYYY-MM-DD")
		to := cmd.String("to", "", "Payments up to this day (included), YYYY-MM-DD")
		out := cmd.String("out", "", "File name (default: fees_<today>.xlsx)")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.export(*id, *from, *to, *out)

	default:
		cli.printUsage()
		return errHelp
	}
}

// autoOpen tells whether generated files should be opened without being asked to.
func (cli *commandLine) autoOpen() bool {
	return cli.conf.Receipt.AutoOpen && isTerminalFunc(int(os.Stdout.Fd()))
}
