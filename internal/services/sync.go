package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/types"
)

// SyncOptions locates the template sources of a site on disk.
type SyncOptions struct {
	// Root holds page templates. A page's fullpath is its path relative to
	// Root without the extension.
	Root string
	// SnippetsDir holds snippet templates. A snippet's slug is its path
	// relative to SnippetsDir without the extension.
	SnippetsDir string
	// Extensions lists the template file extensions, such as ".liquid".
	Extensions []string
}

// SyncReport summarizes a Sync run.
type SyncReport struct {
	Pages    int                  `json:"pages"`
	Snippets int                  `json:"snippets"`
	Changed  int                  `json:"changed"`
	Retries  int                  `json:"retries"`
	Failures []errors.PageFailure `json:"failures,omitempty"`
}

type sourceFile struct {
	path string
	name string
}

// Sync loads every snippet and page template under opts into the site.
// Snippets are saved first. Pages that extend a page not saved yet are
// retried until a pass makes no progress. Failures of single files do not
// stop the run; they are collected in the report and the returned error.
func (s *PageService) Sync(ctx context.Context, siteID types.SiteID, opts SyncOptions) (*SyncReport, error) {
	perf := logging.StartOperation(s.logger, "sync", "site", siteID, "root", opts.Root)

	report := &SyncReport{}
	collector := errors.NewErrorCollector()

	snippets, err := collectSources(opts.SnippetsDir, opts.Extensions, "")
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	for _, src := range snippets {
		if err := ctx.Err(); err != nil {
			perf.EndWithError(ctx, err)
			return nil, err
		}
		data, err := os.ReadFile(src.path)
		if err != nil {
			collector.AddPage(string(siteID), src.name, errors.WrapIO(err, errors.ErrCodeFileNotFound, "failed to read snippet"))
			continue
		}
		result, err := s.SaveSnippet(ctx, siteID, src.name, string(data))
		if err != nil {
			collector.AddPage(string(siteID), src.name, err)
			continue
		}
		report.Snippets++
		if result.Changed {
			report.Changed++
		}
	}

	pages, err := collectSources(opts.Root, opts.Extensions, opts.SnippetsDir)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	pending := pages
	for len(pending) > 0 {
		var retry []sourceFile
		failed := make(map[string]error)
		for _, src := range pending {
			if err := ctx.Err(); err != nil {
				perf.EndWithError(ctx, err)
				return nil, err
			}
			result, err := s.syncPage(ctx, siteID, src)
			if err != nil {
				if unresolved(result) {
					retry = append(retry, src)
					failed[src.name] = err
					continue
				}
				collector.AddPage(string(siteID), src.name, err)
				continue
			}
			report.Pages++
			if result.Changed {
				report.Changed++
			}
		}
		if len(retry) == len(pending) {
			for _, src := range retry {
				collector.AddPage(string(siteID), src.name, failed[src.name])
			}
			break
		}
		if len(retry) > 0 {
			report.Retries++
		}
		pending = retry
	}

	report.Failures = collector.GetFailures()
	if collector.HasErrors() {
		err := collector.Err()
		perf.EndWithError(ctx, err)
		return report, err
	}
	perf.End(ctx, "pages", report.Pages, "snippets", report.Snippets)
	return report, nil
}

// SyncFile loads a single template file. The file is treated as a snippet
// when it lives under opts.SnippetsDir, otherwise as a page. Removed files
// are ignored.
func (s *PageService) SyncFile(ctx context.Context, siteID types.SiteID, opts SyncOptions, path string) error {
	if !hasExtension(path, opts.Extensions) {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.logger.Debug(ctx, "Ignoring removed template", "path", path)
		return nil
	}
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileNotFound, "failed to read template").
			WithContext("path", path)
	}

	if opts.SnippetsDir != "" {
		if name, ok := relativeName(opts.SnippetsDir, path); ok {
			_, err := s.SaveSnippet(ctx, siteID, name, string(data))
			return err
		}
	}
	name, ok := relativeName(opts.Root, path)
	if !ok {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "template is outside the site root").
			WithContext("path", path)
	}
	_, err = s.PutPage(ctx, siteID, name, string(data))
	return err
}

// SyncFiles loads a batch of changed files, snippets first so pages see
// their latest includes. Every file is attempted; failures are combined
// into the returned error.
func (s *PageService) SyncFiles(ctx context.Context, siteID types.SiteID, opts SyncOptions, paths []string) error {
	ordered := append([]string(nil), paths...)
	isSnippet := func(path string) bool {
		if opts.SnippetsDir == "" {
			return false
		}
		_, ok := relativeName(opts.SnippetsDir, path)
		return ok
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := isSnippet(ordered[i]), isSnippet(ordered[j])
		if si != sj {
			return si
		}
		return ordered[i] < ordered[j]
	})

	collector := errors.NewErrorCollector()
	for _, path := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.SyncFile(ctx, siteID, opts, path); err != nil {
			collector.AddPage(string(siteID), path, err)
		}
	}
	return collector.Err()
}

func (s *PageService) syncPage(ctx context.Context, siteID types.SiteID, src sourceFile) (*SaveResult, error) {
	data, err := os.ReadFile(src.path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound, "failed to read page")
	}
	return s.PutPage(ctx, siteID, src.name, string(data))
}

// unresolved reports whether a rejected save failed only on references
// that may appear later in the run.
func unresolved(result *SaveResult) bool {
	if result == nil || result.Page == nil {
		return false
	}
	errs := result.Page.ParsingErrors()
	if len(errs) == 0 {
		return false
	}
	for _, ce := range errs {
		if ce.Kind != errors.CompileErrorUnresolvedReference {
			return false
		}
	}
	return true
}

// collectSources lists template files under dir ordered by name. Files under
// exclude are skipped. A missing dir yields no files.
func collectSources(dir string, extensions []string, exclude string) ([]sourceFile, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var excludeAbs string
	if exclude != "" {
		if abs, err := filepath.Abs(exclude); err == nil {
			excludeAbs = abs
		}
	}

	var files []sourceFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if excludeAbs != "" {
				if abs, err := filepath.Abs(path); err == nil && abs == excludeAbs {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !hasExtension(path, extensions) {
			return nil
		}
		name, ok := relativeName(dir, path)
		if !ok {
			return nil
		}
		files = append(files, sourceFile{path: path, name: name})
		return nil
	})
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound, fmt.Sprintf("failed to scan %s", dir))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// relativeName returns path relative to dir, slash separated, without its
// extension and in NFC form. ok is false when path is not under dir.
func relativeName(dir, path string) (string, bool) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return norm.NFC.String(filepath.ToSlash(rel)), true
}
