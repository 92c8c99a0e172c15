// Package ledger reads duplicate invoice documents from the relational ledger
// and deactivates the ones that lose reconciliation.
//
// Two backends are provided: PostgreSQL through pgx and SQLite through
// go-sqlite3. Both read monetary columns as text; only the state flag is ever
// written.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State flag values of the documents table.
const (
	StateInactive = 0
	StateActive   = 1
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Document is one row of the documents table.
type Document struct {
	ID           int64     `json:"id"`
	Owner        string    `json:"identification_number"`
	State        int       `json:"state_document_id"`
	Prefix       string    `json:"prefix"`
	Number       string    `json:"number"`
	CUFE         string    `json:"cufe"`
	Subtotal     string    `json:"subtotal"`
	TotalTax     string    `json:"total_tax"`
	Total        string    `json:"total"`
	ResponseDIAN string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Label returns prefix and number joined, as printed on the invoice.
func (d Document) Label() string {
	return d.Prefix + d.Number
}

// Query scopes a duplicate search to one owner and an inclusive date window.
type Query struct {
	Owner string
	From  time.Time
	To    time.Time
	Limit int
}

// WindowStart is the first instant of the From day.
func (q Query) WindowStart() time.Time {
	y, m, d := q.From.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WindowEnd is the last second of the To day.
func (q Query) WindowEnd() time.Time {
	y, m, d := q.To.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// Validate checks the query before it reaches the database.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Owner) == "" {
		return fmt.Errorf("owner identification is required")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return fmt.Errorf("date window is required")
	}
	if q.WindowStart().After(q.WindowEnd()) {
		return fmt.Errorf("from date must not be after to date")
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// Group is the set of active documents sharing a CUFE, oldest first.
type Group struct {
	CUFE    string     `json:"cufe"`
	Members []Document `json:"members"`
}

// DuplicateSet is the result of a duplicate search.
type DuplicateSet struct {
	Groups         []Group `json:"groups"`
	TotalDocuments int     `json:"total_documents"`
	// Truncated is set whenever a limit was applied. A truncated set is not
	// representative: a group may be cut short.
	Truncated bool `json:"truncated"`
	Limit     int  `json:"limit,omitempty"`
}

// GroupByCUFE groups documents by CUFE keeping the order in which each CUFE
// first appears and the order of members within a group.
func GroupByCUFE(docs []Document) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, doc := range docs {
		i, ok := index[doc.CUFE]
		if !ok {
			i = len(groups)
			index[doc.CUFE] = i
			groups = append(groups, Group{CUFE: doc.CUFE})
		}
		groups[i].Members = append(groups[i].Members, doc)
	}
	return groups
}

func newDuplicateSet(docs []Document, limit int) *DuplicateSet {
	return &DuplicateSet{
		Groups:         GroupByCUFE(docs),
		TotalDocuments: len(docs),
		Truncated:      limit > 0,
		Limit:          limit,
	}
}

// Ledger is the storage the reconciler works against.
type Ledger interface {
	FindDuplicates(ctx context.Context, q Query) (*DuplicateSet, error)
	Deactivate(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Document, error)
	Close() error
}

var (
	_ Ledger = (*Postgres)(nil)
	_ Ledger = (*SQLite)(nil)
)

// Open connects to the ledger for the given driver. For SQLite the URL is a
// file path or a "file:" URI.
func Open(ctx context.Context, driver, url string) (Ledger, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pgx":
		pg, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite, "sqlite3":
		lite, err := OpenSQLite(ctx, url)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
