package store

import "database/sql"

// Schema is the complete pagegraph SQLite schema.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    preprocess  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pages (
    id                  TEXT PRIMARY KEY,
    site_id             TEXT NOT NULL,
    fullpath            TEXT NOT NULL,
    raw_template        TEXT NOT NULL DEFAULT '',
    serialized_template BLOB,
    editable_elements   BLOB,
    updated_at          INTEGER NOT NULL,
    UNIQUE (site_id, fullpath)
);
CREATE INDEX IF NOT EXISTS idx_pages_site ON pages(site_id, fullpath);

-- Ordered template dependencies of a page (its inheritance chain)
CREATE TABLE IF NOT EXISTS page_template_deps (
    page_id   TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    dep_id    TEXT NOT NULL,
    position  INTEGER NOT NULL,
    PRIMARY KEY (page_id, dep_id)
);
CREATE INDEX IF NOT EXISTS idx_template_deps_dep ON page_template_deps(dep_id);

-- Ordered snippet dependencies of a page
CREATE TABLE IF NOT EXISTS page_snippet_deps (
    page_id     TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    snippet_id  TEXT NOT NULL,
    position    INTEGER NOT NULL,
    PRIMARY KEY (page_id, snippet_id)
);
CREATE INDEX IF NOT EXISTS idx_snippet_deps_snippet ON page_snippet_deps(snippet_id);

CREATE TABLE IF NOT EXISTS snippets (
    id        TEXT PRIMARY KEY,
    site_id   TEXT NOT NULL,
    slug      TEXT NOT NULL,
    template  TEXT NOT NULL DEFAULT '',
    UNIQUE (site_id, slug)
);
`

// ApplySchema creates all tables and indexes if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
