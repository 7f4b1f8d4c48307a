// Package sweeper replays previously captured XML payloads from the
// error staging directory through the normalizer.
package sweeper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marandu/sifen-ingest/internal/sifen"
)

// Options control one sweep.
type Options struct {
	Dir        string // source directory, default xmls_erros
	Pattern    string // filename glob, default *.xml
	Limit      int    // max files, 0 = unlimited
	MoveOK     bool   // relocate successes (and skips) to OKDir
	MoveFail   bool   // relocate repeat failures to FailDir
	SnippetLen int    // max chars of file content logged on failure
	CompanyID  int64  // company the reprocessed documents belong to
	OKDir      string // default xmls_processados_ok
	FailDir    string // default xmls_processados_fail
}

// Result is the aggregate outcome of one sweep.
type Result struct {
	OK     int
	Failed int
	Total  int
}

// Sweeper replays files through a normalizer.
type Sweeper struct {
	normalizer *sifen.Normalizer
	logger     *slog.Logger
}

// New creates a Sweeper.
func New(normalizer *sifen.Normalizer, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		normalizer: normalizer,
		logger:     logger.With("component", "sweeper"),
	}
}

// Sweep processes every file matching the glob, sorted by path, up to
// the limit. A file without the structural marker counts as a success
// skip. Failures are counted, logged with a bounded snippet, and never
// abort the rest of the list.
func (s *Sweeper) Sweep(ctx context.Context, opts Options) (Result, error) {
	if opts.Dir == "" {
		opts.Dir = "xmls_erros"
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.xml"
	}
	if opts.SnippetLen <= 0 {
		opts.SnippetLen = 300
	}
	if opts.OKDir == "" {
		opts.OKDir = "xmls_processados_ok"
	}
	if opts.FailDir == "" {
		opts.FailDir = "xmls_processados_fail"
	}

	files, err := filepath.Glob(filepath.Join(opts.Dir, opts.Pattern))
	if err != nil {
		return Result{}, err
	}
	sort.Strings(files)
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	if opts.MoveOK {
		if err := os.MkdirAll(opts.OKDir, 0755); err != nil {
			return Result{}, err
		}
	}
	if opts.MoveFail {
		if err := os.MkdirAll(opts.FailDir, 0755); err != nil {
			return Result{}, err
		}
	}

	result := Result{Total: len(files)}
	s.logger.Info("reprocessing files", "dir", opts.Dir, "count", len(files))

	for _, path := range files {
		if s.sweepFile(ctx, path, opts) {
			result.OK++
		} else {
			result.Failed++
		}
	}

	s.logger.Info("sweep finished", "ok", result.OK, "fail", result.Failed, "total", result.Total)
	return result, nil
}

// sweepFile reprocesses one file and reports success.
func (s *Sweeper) sweepFile(ctx context.Context, path string, opts Options) bool {
	name := filepath.Base(path)
	logger := s.logger.With("file", name)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read file", "error", err)
		s.relocate(path, opts.FailDir, opts.MoveFail, logger)
		return false
	}
	text := strings.ToValidUTF8(string(data), "�")

	if !sifen.LooksLikeInvoice(text) {
		logger.Info("not an electronic document, skipped")
		s.relocate(path, opts.OKDir, opts.MoveOK, logger)
		return true
	}

	doc, created, err := s.normalizer.Normalize(ctx, text, opts.CompanyID)
	if err != nil {
		logger.Error("failed to reprocess", "error", err, "snippet", snippet(text, opts.SnippetLen))
		s.relocate(path, opts.FailDir, opts.MoveFail, logger)
		return false
	}

	if created {
		logger.Info("document created", "cdc", doc.CDC)
	} else {
		logger.Info("document already existed", "cdc", doc.CDC)
	}
	s.relocate(path, opts.OKDir, opts.MoveOK, logger)
	return true
}

// relocate moves a file to dir when enabled. Move failures are logged
// only; the sweep outcome for the file is already decided.
func (s *Sweeper) relocate(path, dir string, enabled bool, logger *slog.Logger) {
	if !enabled {
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		logger.Warn("failed to move file", "dest", dir, "error", err)
	}
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}
