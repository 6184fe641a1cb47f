package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/trezcool/feedesk/core"
	"github.com/trezcool/feedesk/core/ledger"
	"github.com/trezcool/feedesk/services/email"
	"github.com/trezcool/feedesk/services/export"
	"github.com/trezcool/feedesk/services/logger"
	"github.com/trezcool/feedesk/services/opener"
	"github.com/trezcool/feedesk/services/photo"
	"github.com/trezcool/feedesk/services/receipt"
	"github.com/trezcool/feedesk/storage/database"
	"github.com/trezcool/feedesk/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)
	defer logger.Close()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	// the schema is kept up to date, except when migrations are run by hand
	if len(os.Args) < 2 || os.Args[1] != "migrate" {
		if err = database.Migrate(db, nil); err != nil {
			logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
		}
	}

	// set up services
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	ledger.InitValidators(validate, translator)

	fs := afero.NewOsFs()
	svc := ledger.NewService(sqlxrepos.NewLedgerRepository(db))

	// start CLI
	cli := commandLine{
		conf:       conf,
		logger:     logger,
		db:         db,
		svc:        svc,
		photos:     photosvc.NewStore(fs, conf),
		receipts:   receiptsvc.NewRenderer(fs, conf),
		exporter:   exportsvc.NewExporter(fs, conf, svc),
		mailer:     emailsvc.NewService(conf, logger),
		opener:     openersvc.NewOpener(logger),
		validate:   validate,
		translator: translator,
		out:        os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
