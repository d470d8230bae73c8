// Package store persists sites, pages and snippets and answers the
// dependency queries the propagation engine relies on.
//
// Every query is scoped to one site. Pages returned by a store are fresh
// copies that report themselves as persisted; mutating them never affects
// stored state until they are saved again.
package store

import (
	"context"
	"errors"

	"github.com/conneroisu/pagegraph/internal/types"
)

var (
	// ErrNotFound is returned when a site, page or snippet does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a save would break a uniqueness rule,
	// such as two pages of one site sharing a fullpath.
	ErrConflict = errors.New("store: conflict")
)

// Repository is the persistence and query surface used by the compiler,
// the propagation engine and the services.
type Repository interface {
	GetSite(ctx context.Context, id types.SiteID) (*types.Site, error)
	SaveSite(ctx context.Context, site *types.Site) error

	GetPage(ctx context.Context, siteID types.SiteID, id types.PageID) (*types.Page, error)
	FindPageByFullpath(ctx context.Context, siteID types.SiteID, fullpath string) (*types.Page, error)
	// ListPages returns every page of the site ordered by fullpath.
	ListPages(ctx context.Context, siteID types.SiteID) ([]*types.Page, error)
	// SavePage atomically stores the page with its blob and dependency sets,
	// then marks the caller's instance persisted.
	SavePage(ctx context.Context, page *types.Page) error
	// FindTemplateDescendants returns every page of the site whose
	// TemplateDependencies contains pageID, ordered by fullpath.
	FindTemplateDescendants(ctx context.Context, siteID types.SiteID, pageID types.PageID) ([]*types.Page, error)

	FindSnippet(ctx context.Context, siteID types.SiteID, slug string) (*types.Snippet, error)
	SaveSnippet(ctx context.Context, snippet *types.Snippet) error
	// FindSnippetDependents returns every page of the site whose
	// SnippetDependencies contains snippetID, ordered by fullpath.
	FindSnippetDependents(ctx context.Context, siteID types.SiteID, snippetID types.SnippetID) ([]*types.Page, error)

	Close() error
}
