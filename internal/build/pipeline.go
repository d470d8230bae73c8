package build

import (
	"context"
	"time"

	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/types"
)

// CompileEvent describes one finished compile attempt.
type CompileEvent struct {
	SiteID   types.SiteID
	PageID   types.PageID
	Fullpath string
	Error    *errors.CompileError
	Duration time.Duration
}

// CompileCallback is called after every compile attempt.
type CompileCallback func(event CompileEvent)

// Pipeline compiles pages when their source changes and caches the result
// on the page.
type Pipeline struct {
	compiler  *Compiler
	artifacts *artifact.Cache
	metrics   *Metrics
	logger    logging.Logger
	callbacks []CompileCallback
}

// NewPipeline creates a pipeline. metrics and logger may be nil.
func NewPipeline(compiler *Compiler, artifacts *artifact.Cache, metrics *Metrics, logger logging.Logger) *Pipeline {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if artifacts == nil {
		artifacts = compiler.artifacts
	}
	return &Pipeline{
		compiler:  compiler,
		artifacts: artifacts,
		metrics:   metrics,
		logger:    logger.WithComponent("pipeline"),
	}
}

// AddCallback registers a callback for compile events. Not safe to call
// concurrently with Run.
func (p *Pipeline) AddCallback(callback CompileCallback) {
	p.callbacks = append(p.callbacks, callback)
}

// Metrics returns the pipeline metrics.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Artifacts returns the artifact cache used to store compiled templates.
func (p *Pipeline) Artifacts() *artifact.Cache {
	return p.artifacts
}

// Run compiles page when it is new or its source changed since it was last
// persisted. It returns whether the page's compiled content was marked
// changed, which callers use to decide whether to propagate after saving.
//
// A failed compile still reports true; the failure is recorded on the page
// and Validate rejects it before it can be saved.
func (p *Pipeline) Run(ctx context.Context, site *types.Site, page *types.Page, cc CompileContext) bool {
	page.ResetTemplateChanged()
	if !page.IsNew() && !page.TemplateSourceChanged() {
		return false
	}
	p.recompile(ctx, site, page, cc)
	return page.TemplateChanged()
}

// recompile compiles page unconditionally. On success the artifact and the
// dependency sets are replaced; on failure the error is recorded and the
// page's prior compiled state is left as it was.
func (p *Pipeline) recompile(ctx context.Context, site *types.Site, page *types.Page, cc CompileContext) bool {
	page.MarkTemplateChanged()

	rawTemplate := page.RawTemplate
	editables := append([]types.EditableElement(nil), page.EditableElements...)

	start := time.Now()
	result, cerr := p.compiler.Compile(ctx, site, page, cc)
	if cerr == nil {
		if err := p.artifacts.Set(page, result.Template); err != nil {
			cerr = errors.NewOtherCompileError(err)
		}
	}
	duration := time.Since(start)

	p.metrics.RecordCompile(duration, cerr)
	defer p.notify(CompileEvent{
		SiteID:   page.SiteID,
		PageID:   page.ID,
		Fullpath: page.Fullpath,
		Error:    cerr,
		Duration: duration,
	})

	if cerr != nil {
		page.AddParsingError(cerr)
		page.RawTemplate = rawTemplate
		page.EditableElements = editables
		p.logger.Warn(ctx, cerr, "Template compile failed",
			"page", page.ID,
			"fullpath", page.Fullpath,
			"kind", cerr.Kind.String())
		return false
	}

	page.TemplateDependencies = result.TemplateDependencies
	page.SnippetDependencies = result.SnippetDependencies
	page.DisableEditableElements()
	for _, ref := range result.Editables {
		page.EnableEditableElement(ref.Block, ref.Slug, ref.Type, ref.Default)
	}

	p.logger.Debug(ctx, "Template compiled",
		"page", page.ID,
		"fullpath", page.Fullpath,
		"template_deps", len(page.TemplateDependencies),
		"snippet_deps", len(page.SnippetDependencies),
		"duration_ms", duration.Milliseconds())
	return true
}

func (p *Pipeline) notify(event CompileEvent) {
	for _, cb := range p.callbacks {
		cb(event)
	}
}

// Validate reports the page's recorded compile errors as validation entries
// on the "template" field. It returns nil when there are none.
func Validate(page *types.Page) error {
	parsingErrors := page.ParsingErrors()
	if len(parsingErrors) == 0 {
		return nil
	}
	return errors.NewTemplateValidationErrors(parsingErrors)
}
