package reconcile

import (
	"fmt"
	"time"

	"github.com/jonathan/dian-reconciler/internal/ledger"
)

// Status is the outcome of one duplicate group.
type Status string

const (
	// StatusPending means the group was never reached.
	StatusPending Status = "pending"
	// StatusCorrected means at least one duplicate was deactivated.
	StatusCorrected Status = "corrected"
	// StatusUnchanged means no document was modified.
	StatusUnchanged Status = "unchanged"
)

// MemberOutcome is the result for one ledger document of a group.
type MemberOutcome struct {
	ID            int64       `json:"id"`
	Prefix        string      `json:"prefix"`
	Number        string      `json:"number"`
	Subtotal      string      `json:"subtotal"`
	TotalTax      string      `json:"total_tax"`
	Total         string      `json:"total"`
	CreatedAt     time.Time   `json:"created_at"`
	State         int         `json:"state_document_id"`
	Match         bool        `json:"match"`
	Authoritative bool        `json:"authoritative"`
	Deactivated   bool        `json:"deactivated"`
	Comparison    *Comparison `json:"comparison,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// GroupOutcome is the result for one duplicate group.
type GroupOutcome struct {
	CUFE            string           `json:"cufe"`
	Status          Status           `json:"status"`
	AuthoritativeID *int64           `json:"authoritative_id"`
	Canonical       *CanonicalRecord `json:"canonical,omitempty"`
	Members         []MemberOutcome  `json:"members"`
	Error           string           `json:"error,omitempty"`
}

func newGroupOutcome(g ledger.Group) GroupOutcome {
	out := GroupOutcome{
		CUFE:    g.CUFE,
		Status:  StatusPending,
		Members: make([]MemberOutcome, 0, len(g.Members)),
	}
	for _, doc := range g.Members {
		out.Members = append(out.Members, MemberOutcome{
			ID:        doc.ID,
			Prefix:    doc.Prefix,
			Number:    doc.Number,
			Subtotal:  doc.Subtotal,
			TotalTax:  doc.TotalTax,
			Total:     doc.Total,
			CreatedAt: doc.CreatedAt,
			State:     doc.State,
		})
	}
	return out
}

// Report is the result of a reconciliation run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	StatsSnapshot
	Truncated bool           `json:"truncated"`
	Limit     int            `json:"limit,omitempty"`
	Groups    []GroupOutcome `json:"groups"`
	// Error is set when the run stopped before every group was processed.
	Error string `json:"error,omitempty"`
}

// Message summarizes the run in one line.
func (r *Report) Message() string {
	msg := "Reconciliation completed"
	switch {
	case r.Error != "":
		msg = "Reconciliation stopped"
	case len(r.Groups) == 0:
		msg = "No duplicate documents found"
	}
	if r.Truncated {
		msg += fmt.Sprintf(" (test mode: limited to %d records)", r.Limit)
	}
	return msg
}

// Pending returns the number of groups never reached.
func (r *Report) Pending() int {
	n := 0
	for _, g := range r.Groups {
		if g.Status == StatusPending {
			n++
		}
	}
	return n
}
