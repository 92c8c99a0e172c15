package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const documentColumns = `d.id,
	COALESCE(CAST(d.identification_number AS TEXT), ''),
	d.state_document_id,
	COALESCE(CAST(d.prefix AS TEXT), ''),
	COALESCE(CAST(d.number AS TEXT), ''),
	COALESCE(CAST(d.cufe AS TEXT), ''),
	COALESCE(CAST(d.subtotal AS TEXT), ''),
	COALESCE(CAST(d.total_tax AS TEXT), ''),
	COALESCE(CAST(d.total AS TEXT), ''),
	COALESCE(CAST(d.response_dian AS TEXT), ''),
	d.created_at`

// The EXISTS probe stops at the first sibling, so the ledger is never
// cross-joined with itself.
const duplicatesSQL = `SELECT ` + documentColumns + `
FROM documents d
WHERE d.identification_number = ?
  AND d.state_document_id = 1
  AND d.created_at BETWEEN ? AND ?
  AND d.cufe <> ''
  AND EXISTS (
      SELECT 1
      FROM documents x
      WHERE x.cufe = d.cufe
        AND x.identification_number = ?
        AND x.state_document_id = 1
        AND x.created_at BETWEEN ? AND ?
        AND x.id <> d.id
  )
ORDER BY d.cufe, d.created_at, d.id`

const getDocumentSQL = `SELECT ` + documentColumns + `
FROM documents d
WHERE d.id = ?`

const deactivateSQL = `UPDATE documents SET state_document_id = 0 WHERE id = ?`

// dialect adapts the shared statements to one driver.
type dialect struct {
	numbered bool
	timeArg  func(time.Time) any
}

var (
	postgresDialect = dialect{
		numbered: true,
		timeArg:  func(t time.Time) any { return t },
	}
	sqliteDialect = dialect{
		timeArg: func(t time.Time) any { return t.Format(sqliteTimeLayout) },
	}
)

// rebind rewrites ? placeholders as $1, $2, ... for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// duplicatesQuery returns the statement and arguments for q. The owner and
// window are bound twice: once for the outer row and once for the sibling probe.
func (d dialect) duplicatesQuery(q Query) (string, []any) {
	start, end := d.timeArg(q.WindowStart()), d.timeArg(q.WindowEnd())
	query := duplicatesSQL
	if q.Limit > 0 {
		query += fmt.Sprintf("\nLIMIT %d", q.Limit)
	}
	return d.rebind(query), []any{q.Owner, start, end, q.Owner, start, end}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID,
		&doc.Owner,
		&doc.State,
		&doc.Prefix,
		&doc.Number,
		&doc.CUFE,
		&doc.Subtotal,
		&doc.TotalTax,
		&doc.Total,
		&doc.ResponseDIAN,
		&doc.CreatedAt,
	)
	return doc, err
}
