package reconcile

import (
	"fmt"

	"github.com/jonathan/dian-reconciler/internal/bundle"
)

// CanonicalRecord is the portal's version of an invoice.
type CanonicalRecord struct {
	CUFE          string `json:"cufe,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	IssueDate     string `json:"issue_date,omitempty"`
	IssueTime     string `json:"issue_time,omitempty"`
	Subtotal      Amount `json:"subtotal"`
	Total         Amount `json:"total"`
	// TotalSource names the field the total was taken from.
	TotalSource  string `json:"total_source"`
	TotalWithTax string `json:"total_with_tax,omitempty"`
	TotalPayable string `json:"total_payable,omitempty"`
	LineItems    int    `json:"line_items,omitempty"`
	Entry        string `json:"entry"`
}

// CanonicalTotal picks the invoice total from extracted fields: the payable
// amount when present, else the tax-inclusive amount. Empty values count as
// absent.
func CanonicalTotal(fields map[string]string) (value, source string, ok bool) {
	if v := fields[bundle.FieldTotalPayable]; v != "" {
		return v, bundle.FieldTotalPayable, true
	}
	if v := fields[bundle.FieldTotalWithTax]; v != "" {
		return v, bundle.FieldTotalWithTax, true
	}
	return "", "", false
}

// CanonicalFromBundle builds the canonical record from the first invoice
// entry carrying a subtotal and a total.
func CanonicalFromBundle(b *bundle.Bundle) (*CanonicalRecord, error) {
	entry := b.Canonical()
	if entry == nil {
		return nil, &bundle.ExtractionError{
			Message: fmt.Sprintf("no invoice with subtotal and total among %d entries", b.TotalEntries),
		}
	}

	subtotal, err := ParseAmount(entry.Field(bundle.FieldSubtotal))
	if err != nil {
		return nil, &bundle.ExtractionError{Message: "unreadable canonical subtotal", Cause: err}
	}
	rawTotal, source, _ := CanonicalTotal(entry.Fields)
	total, err := ParseAmount(rawTotal)
	if err != nil {
		return nil, &bundle.ExtractionError{Message: "unreadable canonical total", Cause: err}
	}

	return &CanonicalRecord{
		CUFE:          entry.Field(bundle.FieldCUFE),
		InvoiceNumber: entry.Field(bundle.FieldInvoiceNumber),
		IssueDate:     entry.Field(bundle.FieldIssueDate),
		IssueTime:     entry.Field(bundle.FieldIssueTime),
		Subtotal:      NewAmount(Round2(subtotal)),
		Total:         NewAmount(Round2(total)),
		TotalSource:   source,
		TotalWithTax:  entry.Field(bundle.FieldTotalWithTax),
		TotalPayable:  entry.Field(bundle.FieldTotalPayable),
		LineItems:     entry.LineItems,
		Entry:         entry.Name,
	}, nil
}
