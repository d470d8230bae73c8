// Package services orchestrates saving pages and snippets: compile, validate,
// persist and propagate to dependents.
package services

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/store"
	"github.com/conneroisu/pagegraph/internal/types"
)

// SaveResult describes a saved page.
type SaveResult struct {
	Page        *types.Page              `json:"-"`
	SiteID      types.SiteID             `json:"site_id"`
	PageID      types.PageID             `json:"page_id"`
	Fullpath    string                   `json:"fullpath"`
	Created     bool                     `json:"created"`
	Changed     bool                     `json:"changed"`
	Propagation *build.PropagationReport `json:"propagation,omitempty"`
}

// SnippetResult describes a saved snippet.
type SnippetResult struct {
	Snippet     *types.Snippet           `json:"-"`
	SnippetID   types.SnippetID          `json:"snippet_id"`
	Slug        string                   `json:"slug"`
	Created     bool                     `json:"created"`
	Changed     bool                     `json:"changed"`
	Propagation *build.PropagationReport `json:"propagation,omitempty"`
}

// SaveCallback is called after every successful page or snippet save.
// Exactly one of page and snippet is non-nil.
type SaveCallback func(page *SaveResult, snippet *SnippetResult)

// PageService saves pages and snippets of one or more sites. Saves of one
// site are serialized.
type PageService struct {
	repo      store.Repository
	pipeline  *build.Pipeline
	resolver  *build.DescendantResolver
	logger    logging.Logger
	newID     func() string
	propagate bool

	locks     sync.Map
	mu        sync.RWMutex
	callbacks []SaveCallback
}

// Option configures a PageService.
type Option func(*PageService)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *PageService) { s.logger = l }
}

// WithIDGenerator replaces the generator of new page and snippet ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *PageService) { s.newID = gen }
}

// WithPropagation enables or disables propagation after saves.
func WithPropagation(enabled bool) Option {
	return func(s *PageService) { s.propagate = enabled }
}

// NewPageService creates a page service.
func NewPageService(repo store.Repository, pipeline *build.Pipeline, resolver *build.DescendantResolver, opts ...Option) *PageService {
	s := &PageService{
		repo:      repo,
		pipeline:  pipeline,
		resolver:  resolver,
		logger:    logging.NewNopLogger(),
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		propagate: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("pages")
	return s
}

// OnSave registers a save callback.
func (s *PageService) OnSave(cb SaveCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *PageService) notify(page *SaveResult, snippet *SnippetResult) {
	s.mu.RLock()
	callbacks := append([]SaveCallback(nil), s.callbacks...)
	s.mu.RUnlock()
	for _, cb := range callbacks {
		cb(page, snippet)
	}
}

func (s *PageService) lock(siteID types.SiteID) func() {
	m, _ := s.locks.LoadOrStore(siteID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateSite creates or updates a site.
func (s *PageService) CreateSite(ctx context.Context, site *types.Site) error {
	if site == nil || site.ID == "" {
		return errors.NewValidationError(errors.ErrCodeValidationFailed, "site id is required")
	}
	if err := s.repo.SaveSite(ctx, site); err != nil {
		return errors.WrapStorage(err, errors.ErrCodeStorageFailed, "failed to save site").
			WithPage(string(site.ID), "")
	}
	s.logger.Info(ctx, "Site saved", "site", site.ID, "preprocess", site.PreprocessEnabled)
	return nil
}

func (s *PageService) site(ctx context.Context, siteID types.SiteID) (*types.Site, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NewValidationError(errors.ErrCodeSiteNotFound, "site not found: "+string(siteID)).
			WithPage(string(siteID), "")
	}
	if err != nil {
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to load site")
	}
	return site, nil
}

// SavePage compiles, validates and stores page, then propagates the change
// to its descendants. When validation fails nothing is stored and the
// returned error is an *errors.ValidationErrorCollection; the result still
// carries the page with its parsing errors.
func (s *PageService) SavePage(ctx context.Context, page *types.Page) (*SaveResult, error) {
	unlock := s.lock(page.SiteID)
	defer unlock()
	return s.savePage(ctx, page)
}

func (s *PageService) savePage(ctx context.Context, page *types.Page) (*SaveResult, error) {
	site, err := s.site(ctx, page.SiteID)
	if err != nil {
		return nil, err
	}

	result := &SaveResult{
		Page:     page,
		SiteID:   page.SiteID,
		PageID:   page.ID,
		Fullpath: page.Fullpath,
		Created:  page.IsNew(),
	}

	changed := s.pipeline.Run(ctx, site, page, build.CompileContext{})
	if err := build.Validate(page); err != nil {
		s.logger.Warn(ctx, err, "Page rejected", "site", site.ID, "fullpath", page.Fullpath)
		return result, err
	}

	if err := s.repo.SavePage(ctx, page); err != nil {
		if stderrors.Is(err, store.ErrConflict) {
			return result, errors.WrapValidation(err, errors.ErrCodeValidationFailed, "fullpath already in use").
				WithPage(string(site.ID), page.Fullpath)
		}
		return result, errors.WrapStorage(err, errors.ErrCodeStorageFailed, "failed to save page").
			WithPage(string(site.ID), page.Fullpath)
	}
	result.Changed = changed

	if changed && s.propagate {
		report, err := s.resolver.Propagate(ctx, site, page)
		result.Propagation = report
		if err != nil {
			page.ResetTemplateChanged()
			return result, err
		}
	}
	page.ResetTemplateChanged()

	s.logger.Info(ctx, "Page saved",
		"site", site.ID,
		"fullpath", page.Fullpath,
		"created", result.Created,
		"changed", result.Changed)
	s.notify(result, nil)
	return result, nil
}

// PutPage sets the template source of the page at fullpath, creating the
// page when it does not exist, and saves it.
func (s *PageService) PutPage(ctx context.Context, siteID types.SiteID, fullpath, source string) (*SaveResult, error) {
	if fullpath == "" {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "fullpath is required")
	}

	unlock := s.lock(siteID)
	defer unlock()

	page, err := s.repo.FindPageByFullpath(ctx, siteID, fullpath)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		page = types.NewPage(types.PageID(s.newID()), siteID, fullpath, source)
	case err != nil:
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to load page").
			WithPage(string(siteID), fullpath)
	default:
		page.RawTemplate = source
	}
	return s.savePage(ctx, page)
}

// GetPage returns the page at fullpath.
func (s *PageService) GetPage(ctx context.Context, siteID types.SiteID, fullpath string) (*types.Page, error) {
	page, err := s.repo.FindPageByFullpath(ctx, siteID, fullpath)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.ErrPageNotFound(string(siteID), fullpath)
	}
	if err != nil {
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to load page").
			WithPage(string(siteID), fullpath)
	}
	return page, nil
}

// ListPages returns every page of the site ordered by fullpath.
func (s *PageService) ListPages(ctx context.Context, siteID types.SiteID) ([]*types.Page, error) {
	pages, err := s.repo.ListPages(ctx, siteID)
	if err != nil {
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to list pages").
			WithPage(string(siteID), "")
	}
	return pages, nil
}

// Dependents returns the pages inheriting from the page at fullpath.
func (s *PageService) Dependents(ctx context.Context, siteID types.SiteID, fullpath string) ([]*types.Page, error) {
	page, err := s.GetPage(ctx, siteID, fullpath)
	if err != nil {
		return nil, err
	}
	pages, err := s.repo.FindTemplateDescendants(ctx, siteID, page.ID)
	if err != nil {
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to query dependents").
			WithPage(string(siteID), fullpath)
	}
	return pages, nil
}

// SaveSnippet sets the template of the snippet identified by slug, creating
// it when needed, and recompiles every page that includes it.
func (s *PageService) SaveSnippet(ctx context.Context, siteID types.SiteID, slug, template string) (*SnippetResult, error) {
	if slug == "" {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "snippet slug is required")
	}

	unlock := s.lock(siteID)
	defer unlock()

	site, err := s.site(ctx, siteID)
	if err != nil {
		return nil, err
	}

	result := &SnippetResult{Slug: slug}
	snippet, err := s.repo.FindSnippet(ctx, siteID, slug)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		snippet = &types.Snippet{ID: types.SnippetID(s.newID()), SiteID: siteID, Slug: slug}
		result.Created = true
	case err != nil:
		return nil, errors.WrapStorage(err, errors.ErrCodeQueryFailed, "failed to load snippet").
			WithContext("slug", slug)
	}
	result.Changed = result.Created || snippet.Template != template
	snippet.Template = template
	result.Snippet = snippet
	result.SnippetID = snippet.ID

	if err := s.repo.SaveSnippet(ctx, snippet); err != nil {
		return result, errors.WrapStorage(err, errors.ErrCodeStorageFailed, "failed to save snippet").
			WithContext("slug", slug)
	}

	if result.Changed && !result.Created && s.propagate {
		report, err := s.resolver.PropagateSnippet(ctx, site, snippet.ID)
		result.Propagation = report
		if err != nil {
			return result, err
		}
	}

	s.logger.Info(ctx, "Snippet saved", "site", siteID, "slug", slug, "changed", result.Changed)
	s.notify(nil, result)
	return result, nil
}
