// Package store provides the SQLite persistence layer for the bookmark
// pipeline: URL identities, bookmarks and tags, import jobs, readable
// content, and the FTS5 fulltext documents.
package store

import (
	"database/sql"

	"github.com/hazyhaar/marque/dbopen"
)

// Store is the pipeline database handle.
type Store struct {
	DB *sql.DB

	// indexWriter serialises fulltext upserts: the index admits one writer
	// at a time and rejects (never queues) a second one.
	indexWriter chan struct{}
}

// Open opens (or creates) the pipeline SQLite database at path, applies
// pragmas and the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{
		DB:          db,
		indexWriter: make(chan struct{}, 1),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
