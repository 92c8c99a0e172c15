package reconcile

import "sync"

// Stats accumulates run counters. Safe for concurrent use.
type Stats struct {
	mu              sync.Mutex
	documents       int
	duplicateGroups int
	corrected       int
	errors          int
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalDocuments      int `json:"total_documents"`
	DuplicateGroupCount int `json:"duplicate_group_count"`
	CorrectedCount      int `json:"corrected_count"`
	ErrorCount          int `json:"error_count"`
}

// AddScanned records the documents and groups returned by the grouper.
func (s *Stats) AddScanned(documents, groups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents += documents
	s.duplicateGroups += groups
}

// AddCorrected records one deactivated document.
func (s *Stats) AddCorrected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrected++
}

// AddError records one group-level or member-level failure.
func (s *Stats) AddError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		TotalDocuments:      s.documents,
		DuplicateGroupCount: s.duplicateGroups,
		CorrectedCount:      s.corrected,
		ErrorCount:          s.errors,
	}
}
