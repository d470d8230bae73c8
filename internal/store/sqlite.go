package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/conneroisu/pagegraph/internal/types"
)

// SQLiteStore is a Repository backed by an SQLite database.
type SQLiteStore struct {
	DB *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path, applies the
// pragmas and the schema. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// each connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &SQLiteStore{DB: db}, nil
}

// NewSQLiteStore wraps an already-opened database whose schema is applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) GetSite(ctx context.Context, id types.SiteID) (*types.Site, error) {
	site := &types.Site{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, preprocess FROM sites WHERE id = ?`, string(id),
	).Scan(&site.ID, &site.Name, &site.PreprocessEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return site, nil
}

func (s *SQLiteStore) SaveSite(ctx context.Context, site *types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("site id is required")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sites (id, name, preprocess) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, preprocess = excluded.preprocess`,
		string(site.ID), site.Name, site.PreprocessEnabled,
	)
	return err
}

func (s *SQLiteStore) GetPage(ctx context.Context, siteID types.SiteID, id types.PageID) (*types.Page, error) {
	pages, err := s.queryPages(ctx, "site_id = ? AND id = ?", string(siteID), string(id))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	return pages[0], nil
}

func (s *SQLiteStore) FindPageByFullpath(ctx context.Context, siteID types.SiteID, fullpath string) (*types.Page, error) {
	pages, err := s.queryPages(ctx, "site_id = ? AND fullpath = ?", string(siteID), fullpath)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page %q: %w", fullpath, ErrNotFound)
	}
	return pages[0], nil
}

func (s *SQLiteStore) ListPages(ctx context.Context, siteID types.SiteID) ([]*types.Page, error) {
	return s.queryPages(ctx, "site_id = ?", string(siteID))
}

func (s *SQLiteStore) FindTemplateDescendants(ctx context.Context, siteID types.SiteID, pageID types.PageID) ([]*types.Page, error) {
	return s.queryPages(ctx,
		"site_id = ? AND id IN (SELECT page_id FROM page_template_deps WHERE dep_id = ?)",
		string(siteID), string(pageID))
}

func (s *SQLiteStore) FindSnippetDependents(ctx context.Context, siteID types.SiteID, snippetID types.SnippetID) ([]*types.Page, error) {
	return s.queryPages(ctx,
		"site_id = ? AND id IN (SELECT page_id FROM page_snippet_deps WHERE snippet_id = ?)",
		string(siteID), string(snippetID))
}

// SavePage upserts the page row and replaces its dependency rows in one
// transaction.
func (s *SQLiteStore) SavePage(ctx context.Context, page *types.Page) error {
	if page.ID == "" || page.SiteID == "" {
		return fmt.Errorf("page id and site id are required")
	}

	editables, err := msgpack.Marshal(page.EditableElements)
	if err != nil {
		return fmt.Errorf("encode editable elements: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pages (id, site_id, fullpath, raw_template, serialized_template, editable_elements, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			fullpath = excluded.fullpath,
			raw_template = excluded.raw_template,
			serialized_template = excluded.serialized_template,
			editable_elements = excluded.editable_elements,
			updated_at = excluded.updated_at`,
		string(page.ID), string(page.SiteID), page.Fullpath, page.RawTemplate,
		page.SerializedTemplate, editables, time.Now().UnixMilli(),
	)
	if err != nil {
		return mapConstraint(err, fmt.Sprintf("fullpath %q", page.Fullpath))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_template_deps WHERE page_id = ?`, string(page.ID)); err != nil {
		return err
	}
	for i, dep := range page.TemplateDependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO page_template_deps (page_id, dep_id, position) VALUES (?, ?, ?)`,
			string(page.ID), string(dep), i); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM page_snippet_deps WHERE page_id = ?`, string(page.ID)); err != nil {
		return err
	}
	for i, dep := range page.SnippetDependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO page_snippet_deps (page_id, snippet_id, position) VALUES (?, ?, ?)`,
			string(page.ID), string(dep), i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	page.MarkPersisted()
	return nil
}

func (s *SQLiteStore) FindSnippet(ctx context.Context, siteID types.SiteID, slug string) (*types.Snippet, error) {
	snippet := &types.Snippet{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, site_id, slug, template FROM snippets WHERE site_id = ? AND slug = ?`,
		string(siteID), slug,
	).Scan(&snippet.ID, &snippet.SiteID, &snippet.Slug, &snippet.Template)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snippet %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snippet, nil
}

func (s *SQLiteStore) SaveSnippet(ctx context.Context, snippet *types.Snippet) error {
	if snippet.ID == "" || snippet.SiteID == "" {
		return fmt.Errorf("snippet id and site id are required")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO snippets (id, site_id, slug, template) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site_id = excluded.site_id,
			slug = excluded.slug,
			template = excluded.template`,
		string(snippet.ID), string(snippet.SiteID), snippet.Slug, snippet.Template,
	)
	if err != nil {
		return mapConstraint(err, fmt.Sprintf("slug %q", snippet.Slug))
	}
	return nil
}

// queryPages loads the pages matching where together with their dependency
// rows, inside one read transaction.
func (s *SQLiteStore) queryPages(ctx context.Context, where string, args ...interface{}) ([]*types.Page, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, site_id, fullpath, raw_template, serialized_template, editable_elements
		FROM pages WHERE `+where+` ORDER BY fullpath`, args...)
	if err != nil {
		return nil, err
	}

	pages := make([]*types.Page, 0)
	byID := make(map[types.PageID]*types.Page)
	for rows.Next() {
		var (
			page      types.Page
			blob      []byte
			editables []byte
		)
		if err := rows.Scan(&page.ID, &page.SiteID, &page.Fullpath, &page.RawTemplate, &blob, &editables); err != nil {
			rows.Close()
			return nil, err
		}
		page.SerializedTemplate = blob
		page.TemplateDependencies = []types.PageID{}
		page.SnippetDependencies = []types.SnippetID{}
		if len(editables) > 0 {
			if err := msgpack.Unmarshal(editables, &page.EditableElements); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode editable elements of %s: %w", page.ID, err)
			}
		}
		p := &page
		pages = append(pages, p)
		byID[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return pages, nil
	}

	subquery := `SELECT id FROM pages WHERE ` + where
	err = scanDeps(ctx, tx,
		`SELECT page_id, dep_id FROM page_template_deps WHERE page_id IN (`+subquery+`) ORDER BY page_id, position`,
		args, func(pageID, dep string) {
			if p, ok := byID[types.PageID(pageID)]; ok {
				p.TemplateDependencies = append(p.TemplateDependencies, types.PageID(dep))
			}
		})
	if err != nil {
		return nil, err
	}
	err = scanDeps(ctx, tx,
		`SELECT page_id, snippet_id FROM page_snippet_deps WHERE page_id IN (`+subquery+`) ORDER BY page_id, position`,
		args, func(pageID, dep string) {
			if p, ok := byID[types.PageID(pageID)]; ok {
				p.SnippetDependencies = append(p.SnippetDependencies, types.SnippetID(dep))
			}
		})
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		p.MarkPersisted()
	}
	return pages, nil
}

func scanDeps(ctx context.Context, tx *sql.Tx, query string, args []interface{}, add func(pageID, dep string)) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var pageID, dep string
		if err := rows.Scan(&pageID, &dep); err != nil {
			return err
		}
		add(pageID, dep)
	}
	return rows.Err()
}

func mapConstraint(err error, what string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s already in use: %w", what, ErrConflict)
	}
	return err
}
