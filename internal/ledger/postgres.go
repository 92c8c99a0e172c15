package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a ledger backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres establishes a connection pool to the ledger database.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// FindDuplicates returns the active documents of q.Owner inside the window
// that share their CUFE with at least one other such document.
func (p *Postgres) FindDuplicates(ctx context.Context, q Query) (*DuplicateSet, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query, args := postgresDialect.duplicatesQuery(q)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "find duplicates", Cause: err}
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "scan document", Cause: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "find duplicates", Cause: err}
	}

	return newDuplicateSet(docs, q.Limit), nil
}

// Get returns a single document.
func (p *Postgres) Get(ctx context.Context, id int64) (*Document, error) {
	doc, err := scanDocument(p.pool.QueryRow(ctx, postgresDialect.rebind(getDocumentSQL), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &PersistenceError{Op: "get", DocumentID: id, Cause: ErrDocumentNotFound}
		}
		return nil, &PersistenceError{Op: "get", DocumentID: id, Cause: err}
	}
	return &doc, nil
}

// Deactivate sets the state flag of a document to inactive. Deactivating an
// inactive document succeeds.
func (p *Postgres) Deactivate(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, postgresDialect.rebind(deactivateSQL), id)
	if err != nil {
		return &PersistenceError{Op: "deactivate", DocumentID: id, Cause: err}
	}
	if tag.RowsAffected() == 0 {
		return &PersistenceError{Op: "deactivate", DocumentID: id, Cause: ErrDocumentNotFound}
	}
	return nil
}
