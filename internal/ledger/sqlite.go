package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var sqliteSchema string

const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLite is a ledger stored in a local SQLite file. It is used for local runs
// against an exported ledger and in tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying handle, for seeding and inspection.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// FindDuplicates implements Ledger.
func (s *SQLite) FindDuplicates(ctx context.Context, q Query) (*DuplicateSet, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query, args := sqliteDialect.duplicatesQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "find duplicates", Cause: err}
	}
	defer func() { _ = rows.Close() }()

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

// Get implements Ledger.
func (s *SQLite) Get(ctx context.Context, id int64) (*Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, getDocumentSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &PersistenceError{Op: "get", DocumentID: id, Cause: ErrDocumentNotFound}
		}
		return nil, &PersistenceError{Op: "get", DocumentID: id, Cause: err}
	}
	return &doc, nil
}

// Deactivate implements Ledger.
func (s *SQLite) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, deactivateSQL, id)
	if err != nil {
		return &PersistenceError{Op: "deactivate", DocumentID: id, Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "deactivate", DocumentID: id, Cause: err}
	}
	if n == 0 {
		return &PersistenceError{Op: "deactivate", DocumentID: id, Cause: ErrDocumentNotFound}
	}
	return nil
}

// Insert adds a document and returns its id. The ledger is owned by another
// system; this exists for imports and tests.
func (s *SQLite) Insert(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents
		 (identification_number, state_document_id, prefix, number, cufe, subtotal, total_tax, total, response_dian, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Owner, doc.State, doc.Prefix, doc.Number, doc.CUFE,
		doc.Subtotal, doc.TotalTax, doc.Total, doc.ResponseDIAN,
		doc.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, &PersistenceError{Op: "insert", Cause: err}
	}
	return res.LastInsertId()
}
