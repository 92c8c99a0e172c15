package types

import (
	"time"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/reconcile"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// AuthResponse reports the outcome of a portal handshake.
type AuthResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
}

// FetchDocumentResponse describes a downloaded bundle.
type FetchDocumentResponse struct {
	Success      bool           `json:"success"`
	TrackID      string         `json:"track_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Size         int            `json:"size"`
	Invoices     []bundle.Entry `json:"invoices"`
	TotalEntries int            `json:"total_entries"`
	EntryTypes   map[string]int `json:"entry_types"`
}

// NewFetchDocumentResponse summarizes an extracted bundle of size bytes.
func NewFetchDocumentResponse(trackID string, size int, b *bundle.Bundle, now time.Time) *FetchDocumentResponse {
	invoices := b.Invoices()
	if invoices == nil {
		invoices = []bundle.Entry{}
	}
	return &FetchDocumentResponse{
		Success:      true,
		TrackID:      trackID,
		Timestamp:    now.UTC(),
		Size:         size,
		Invoices:     invoices,
		TotalEntries: b.TotalEntries,
		EntryTypes:   b.CountsByExtension,
	}
}

// ProcessResponse combines the handshake and the download.
type ProcessResponse struct {
	Success   bool                   `json:"success"`
	SessionID string                 `json:"session_id"`
	Document  *FetchDocumentResponse `json:"document"`
}

// ReconcileResponse wraps a run report.
type ReconcileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*reconcile.Report
}

// NewReconcileResponse builds the response for r. Success is false when the
// run stopped before every group was processed.
func NewReconcileResponse(r *reconcile.Report) *ReconcileResponse {
	return &ReconcileResponse{
		Success: r.Error == "",
		Message: r.Message(),
		Report:  r,
	}
}
