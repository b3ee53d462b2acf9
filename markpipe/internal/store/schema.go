package store

// Schema contains the complete DDL for the pipeline tables.
const Schema = `
-- URL identities: content-addressed URLs shared across all owners
CREATE TABLE IF NOT EXISTS url_identities (
    hash        TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    click_count INTEGER NOT NULL DEFAULT 0
);

-- Bookmarks: one per (owner, url) pair
CREATE TABLE IF NOT EXISTS bookmarks (
    id          TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    url_hash    TEXT NOT NULL REFERENCES url_identities(hash),
    description TEXT NOT NULL DEFAULT '',
    extended    TEXT NOT NULL DEFAULT '',
    tag_string  TEXT NOT NULL DEFAULT '',
    inserted_by TEXT NOT NULL DEFAULT 'manual',
    click_count INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    UNIQUE (owner, url_hash)
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_owner ON bookmarks(owner);
CREATE INDEX IF NOT EXISTS idx_bookmarks_url ON bookmarks(url_hash);

-- Tags: globally unique by name, many-to-many with bookmarks
CREATE TABLE IF NOT EXISTS tags (
    name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS bookmark_tags (
    bookmark_id TEXT NOT NULL REFERENCES bookmarks(id) ON DELETE CASCADE,
    tag_name    TEXT NOT NULL REFERENCES tags(name),
    PRIMARY KEY (bookmark_id, tag_name)
);
CREATE INDEX IF NOT EXISTS idx_bookmark_tags_tag ON bookmark_tags(tag_name);

-- Readable content: fetch outcome per bookmark; content is NULL for images
-- and failed fetches
CREATE TABLE IF NOT EXISTS readable_content (
    bookmark_id    TEXT PRIMARY KEY REFERENCES bookmarks(id) ON DELETE CASCADE,
    content        TEXT,
    content_type   TEXT NOT NULL DEFAULT '',
    status_code    INTEGER NOT NULL,
    status_message TEXT NOT NULL DEFAULT '',
    fetched_at     INTEGER NOT NULL
);

-- Import jobs: audit trail of upload lifecycles, never deleted
CREATE TABLE IF NOT EXISTS import_jobs (
    id            TEXT PRIMARY KEY,
    owner         TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'NEW',
    error_message TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    completed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_import_owner ON import_jobs(owner, status);

-- At most one in-flight import per owner, enforced at the storage layer so
-- concurrent uploads cannot slip past the application-level check.
CREATE UNIQUE INDEX IF NOT EXISTS idx_import_active
    ON import_jobs(owner) WHERE status IN ('NEW', 'RUNNING');

-- Fulltext documents: the indexed representation of a bookmark
CREATE TABLE IF NOT EXISTS documents (
    bookmark_id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    extended    TEXT NOT NULL DEFAULT '',
    tag_string  TEXT NOT NULL DEFAULT '',
    readable    TEXT NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    description,
    extended,
    tag_string,
    readable,
    content='documents',
    content_rowid='rowid',
    tokenize='porter unicode61 remove_diacritics 2'
);

-- Triggers to keep FTS5 in sync with documents
CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, description, extended, tag_string, readable)
    VALUES (new.rowid, new.description, new.extended, new.tag_string, new.readable);
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, description, extended, tag_string, readable)
    VALUES ('delete', old.rowid, old.description, old.extended, old.tag_string, old.readable);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, description, extended, tag_string, readable)
    VALUES ('delete', old.rowid, old.description, old.extended, old.tag_string, old.readable);
    INSERT INTO documents_fts(rowid, description, extended, tag_string, readable)
    VALUES (new.rowid, new.description, new.extended, new.tag_string, new.readable);
END;
`
