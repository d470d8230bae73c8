// Package types provides the page content model shared by the compiler,
// the stores and the services.
package types

import (
	"github.com/conneroisu/pagegraph/internal/artifact"
	"github.com/conneroisu/pagegraph/internal/errors"
)

// SiteID identifies a site (tenant). Dependency queries never cross sites.
type SiteID string

// PageID identifies a page.
type PageID string

// SnippetID identifies a snippet.
type SnippetID string

// Site is a tenant owning pages and snippets.
type Site struct {
	ID   SiteID
	Name string
	// PreprocessEnabled runs the markup preprocessor before compilation.
	PreprocessEnabled bool
}

// Snippet is a reusable template fragment pulled in with {% include %}.
type Snippet struct {
	ID       SnippetID
	SiteID   SiteID
	Slug     string
	Template string
}

// EditableElement is an editable placeholder declared by a page template.
type EditableElement struct {
	Slug     string `json:"slug"`
	Block    string `json:"block,omitempty"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Page is a site page together with its compiled template and dependency
// sets. The unexported fields are in-memory state that is never persisted.
type Page struct {
	ID       PageID
	SiteID   SiteID
	Fullpath string

	// RawTemplate is the author-facing template source.
	RawTemplate string
	// SerializedTemplate is the encoded compiled template. It is written only
	// by the compile pipeline.
	SerializedTemplate []byte
	// TemplateDependencies lists every page this page's compiled template
	// inherits from, directly or transitively.
	TemplateDependencies []PageID
	// SnippetDependencies lists every snippet the compiled template includes.
	SnippetDependencies []SnippetID

	EditableElements []EditableElement

	persisted       bool
	savedTemplate   string
	templateChanged bool
	parsingErrors   []*errors.CompileError
	memo            artifact.Memo
}

// NewPage creates an unsaved page.
func NewPage(id PageID, siteID SiteID, fullpath, rawTemplate string) *Page {
	return &Page{
		ID:                   id,
		SiteID:               siteID,
		Fullpath:             fullpath,
		RawTemplate:          rawTemplate,
		TemplateDependencies: []PageID{},
		SnippetDependencies:  []SnippetID{},
	}
}

// Blob implements artifact.Owner.
func (p *Page) Blob() []byte {
	return p.SerializedTemplate
}

// SetBlob implements artifact.Owner.
func (p *Page) SetBlob(blob []byte) {
	p.SerializedTemplate = blob
}

// ArtifactMemo implements artifact.Owner.
func (p *Page) ArtifactMemo() *artifact.Memo {
	return &p.memo
}

// IsNew reports whether the page has never been persisted.
func (p *Page) IsNew() bool {
	return !p.persisted
}

// TemplateSourceChanged reports whether RawTemplate differs from the last
// persisted source.
func (p *Page) TemplateSourceChanged() bool {
	return p.RawTemplate != p.savedTemplate
}

// MarkPersisted records that the page's current state is durably stored.
// Stores call it after a successful save and after loading a page.
func (p *Page) MarkPersisted() {
	p.persisted = true
	p.savedTemplate = p.RawTemplate
}

// TemplateChanged reports whether the last compile pass produced new
// compiled content for this instance.
func (p *Page) TemplateChanged() bool {
	return p.templateChanged
}

// MarkTemplateChanged sets the content-changed flag and clears the parsing
// errors of any previous pass.
func (p *Page) MarkTemplateChanged() {
	p.templateChanged = true
	p.parsingErrors = nil
}

// ResetTemplateChanged clears the content-changed flag.
func (p *Page) ResetTemplateChanged() {
	p.templateChanged = false
}

// ParsingErrors returns the compile errors recorded by the last pass.
func (p *Page) ParsingErrors() []*errors.CompileError {
	return p.parsingErrors
}

// AddParsingError records a compile error.
func (p *Page) AddParsingError(err *errors.CompileError) {
	p.parsingErrors = append(p.parsingErrors, err)
}

// DependsOnTemplate reports whether id is in TemplateDependencies.
func (p *Page) DependsOnTemplate(id PageID) bool {
	for _, dep := range p.TemplateDependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// DependsOnSnippet reports whether id is in SnippetDependencies.
func (p *Page) DependsOnSnippet(id SnippetID) bool {
	for _, dep := range p.SnippetDependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// DisableEditableElements marks every editable element disabled.
func (p *Page) DisableEditableElements() {
	for i := range p.EditableElements {
		p.EditableElements[i].Disabled = true
	}
}

// EnableEditableElement enables the element identified by block and slug,
// adding it with the given default content when it does not exist yet.
func (p *Page) EnableEditableElement(block, slug, kind, content string) {
	for i := range p.EditableElements {
		el := &p.EditableElements[i]
		if el.Block == block && el.Slug == slug {
			el.Disabled = false
			el.Type = kind
			return
		}
	}
	p.EditableElements = append(p.EditableElements, EditableElement{
		Slug:    slug,
		Block:   block,
		Type:    kind,
		Content: content,
	})
}

// Clone returns a deep copy of the persisted fields. Transient state is not
// copied; the clone reports the same persisted status.
func (p *Page) Clone() *Page {
	c := &Page{
		ID:                   p.ID,
		SiteID:               p.SiteID,
		Fullpath:             p.Fullpath,
		RawTemplate:          p.RawTemplate,
		SerializedTemplate:   append([]byte(nil), p.SerializedTemplate...),
		TemplateDependencies: append([]PageID{}, p.TemplateDependencies...),
		SnippetDependencies:  append([]SnippetID{}, p.SnippetDependencies...),
		EditableElements:     append([]EditableElement(nil), p.EditableElements...),
		persisted:            p.persisted,
		savedTemplate:        p.savedTemplate,
	}
	return c
}
