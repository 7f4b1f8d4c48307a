// sifenctl is the management CLI for the ingestion pipeline:
//
//	sifenctl process <file> [--company 1]      normalize one XML file
//	sifenctl sweep [flags]                     reprocess the error staging dir
//	sifenctl check <username> [--max 20]       read-only inbox summary
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/marandu/sifen-ingest/internal/config"
	"github.com/marandu/sifen-ingest/internal/database"
	"github.com/marandu/sifen-ingest/internal/mailbox"
	"github.com/marandu/sifen-ingest/internal/sifen"
	"github.com/marandu/sifen-ingest/internal/sweeper"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.DateTime,
	}))

	ctx := context.Background()

	var runErr error
	switch os.Args[1] {
	case "process":
		runErr = runProcess(ctx, cfg, logger, os.Args[2:])
	case "sweep":
		runErr = runSweep(ctx, cfg, logger, os.Args[2:])
	case "check":
		runErr = runCheck(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		logger.Error("command failed", "error", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sifenctl <process|sweep|check> [flags]")
}

// runProcess normalizes a single XML file from disk.
func runProcess(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	companyID := fs.Int64("company", 1, "company the document belongs to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: sifenctl process [--company N] <file>")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	text := strings.ToValidUTF8(string(data), "�")

	normalizer := sifen.NewNormalizer(db, logger)
	doc, created, err := normalizer.Normalize(ctx, text, *companyID)
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("document %s created\n", doc.CDC)
	} else {
		fmt.Printf("document %s already existed\n", doc.CDC)
	}
	return nil
}

// runSweep reprocesses the error staging directory.
func runSweep(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dir := fs.String("dir", cfg.ErrorXMLDir, "directory holding failed XMLs")
	pattern := fs.String("pattern", "*.xml", "filename glob")
	limit := fs.Int("limit", 0, "max files to process (0 = all)")
	moveOK := fs.Bool("move-ok", false, "move successfully processed files to xmls_processados_ok/")
	moveFail := fs.Bool("move-fail", false, "move repeat failures to xmls_processados_fail/")
	snippetLen := fs.Int("show-snippet", 300, "chars of XML logged per failure")
	companyID := fs.Int64("company", 1, "company the documents belong to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	normalizer := sifen.NewNormalizer(db, logger)
	result, err := sweeper.New(normalizer, logger).Sweep(ctx, sweeper.Options{
		Dir:        *dir,
		Pattern:    *pattern,
		Limit:      *limit,
		MoveOK:     *moveOK,
		MoveFail:   *moveFail,
		SnippetLen: *snippetLen,
		CompanyID:  *companyID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("OK   : %d\nFAIL : %d\nTOTAL: %d\n", result.OK, result.Failed, result.Total)
	return nil
}

// runCheck inspects one account's INBOX without touching anything.
func runCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	max := fs.Int("max", 20, "max messages to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: sifenctl check [--max N] <username>")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	account, err := db.GetAccountByUsername(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	result, err := mailbox.CheckAccount(ctx, account, *max, cfg.IMAPDialTimeout, logger)
	if err != nil {
		return err
	}

	fmt.Printf("messages in INBOX: %d\nwith XML attachments (of last %d): %d\n",
		result.Total, *max, result.WithXML)
	return nil
}

func openDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
