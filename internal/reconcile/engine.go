// Package reconcile compares duplicate ledger documents against the invoice
// held by the DIAN portal and deactivates the copies that lose.
//
// A document is only ever deactivated when another member of its group
// matched the portal invoice. Groups run one after another against a single
// portal session.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/ledger"
	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/session"
)

// Ledger is the part of the ledger the engine reads and writes.
type Ledger interface {
	FindDuplicates(ctx context.Context, q ledger.Query) (*ledger.DuplicateSet, error)
	Deactivate(ctx context.Context, id int64) error
}

// Sessions hands out portal sessions.
type Sessions interface {
	GetOrCreate(ctx context.Context, cred portal.Credential) (*session.Session, error)
	Save(sess *session.Session) error
	Invalidate(fingerprint string) error
	Lock(ctx context.Context, fingerprint string) (func(), error)
}

// Fetcher downloads a bundle from the portal.
type Fetcher interface {
	FetchDocument(ctx context.Context, trackID string, cookies []*http.Cookie) (*portal.Download, error)
}

// Options configures the engine.
type Options struct {
	Tolerance decimal.Decimal
	NewRunID  func() string
	Now       func() time.Time
}

// DefaultOptions returns a 0.10 tolerance, random run ids and the wall clock.
func DefaultOptions() *Options {
	return &Options{
		Tolerance: DefaultTolerance,
		NewRunID:  uuid.NewString,
		Now:       time.Now,
	}
}

// Request is one reconciliation run.
type Request struct {
	Owner      string
	From       time.Time
	To         time.Time
	Credential portal.Credential
	Limit      int
}

// Engine runs reconciliations.
type Engine struct {
	ledger   Ledger
	sessions Sessions
	fetcher  Fetcher
	opts     Options
	logger   zerolog.Logger
}

// NewEngine creates an engine. Unset options, including a non-positive
// tolerance, fall back to the defaults.
func NewEngine(l Ledger, sessions Sessions, fetcher Fetcher, opts *Options, logger zerolog.Logger) *Engine {
	o := *DefaultOptions()
	if opts != nil {
		if opts.Tolerance.IsPositive() {
			o.Tolerance = opts.Tolerance
		}
		if opts.NewRunID != nil {
			o.NewRunID = opts.NewRunID
		}
		if opts.Now != nil {
			o.Now = opts.Now
		}
	}
	return &Engine{
		ledger:   l,
		sessions: sessions,
		fetcher:  fetcher,
		opts:     o,
		logger:   logger.With().Str("component", "reconcile").Logger(),
	}
}

// Tolerance returns the configured match tolerance.
func (e *Engine) Tolerance() decimal.Decimal {
	return e.opts.Tolerance
}

// Reconcile finds the duplicate groups for req and runs them.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Report, error) {
	set, err := e.ledger.FindDuplicates(ctx, ledger.Query{
		Owner: req.Owner,
		From:  req.From,
		To:    req.To,
		Limit: req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicates: %w", err)
	}
	return e.Run(ctx, set, req.Credential)
}

// Run reconciles every group of set. The returned report is never nil. A
// non-nil error means the run stopped early: authentication failed or ctx was
// cancelled. Groups not reached stay pending. The credential stays locked for
// the whole run, so runs sharing a credential fetch one after another.
func (e *Engine) Run(ctx context.Context, set *ledger.DuplicateSet, cred portal.Credential) (*Report, error) {
	stats := &Stats{}
	report := &Report{
		RunID:     e.opts.NewRunID(),
		StartedAt: e.opts.Now().UTC(),
		Truncated: set.Truncated,
		Limit:     set.Limit,
		Groups:    make([]GroupOutcome, 0, len(set.Groups)),
	}
	for _, g := range set.Groups {
		report.Groups = append(report.Groups, newGroupOutcome(g))
	}
	stats.AddScanned(set.TotalDocuments, len(set.Groups))

	log := e.logger.With().Str("run_id", report.RunID).Logger()
	finish := func(err error) (*Report, error) {
		report.StatsSnapshot = stats.Snapshot()
		report.FinishedAt = e.opts.Now().UTC()
		if err != nil {
			report.Error = err.Error()
		}
		log.Info().
			Int("documents", report.TotalDocuments).
			Int("groups", report.DuplicateGroupCount).
			Int("corrected", report.CorrectedCount).
			Int("errors", report.ErrorCount).
			Int("pending", report.Pending()).
			Bool("truncated", report.Truncated).
			Msg("reconciliation finished")
		return report, err
	}

	if len(set.Groups) == 0 {
		return finish(nil)
	}
	if set.Truncated {
		log.Warn().Int("limit", set.Limit).Msg("duplicate set is truncated; groups may be incomplete")
	}

	unlock, err := e.sessions.Lock(ctx, cred.Fingerprint())
	if err != nil {
		log.Warn().Err(err).Msg("run cancelled while waiting for the credential")
		return finish(err)
	}
	defer unlock()

	sess, err := e.sessions.GetOrCreate(ctx, cred)
	if err != nil {
		log.Error().Err(err).Str("credential", cred.Redacted()).Msg("portal authentication failed")
		return finish(err)
	}

	for i, g := range set.Groups {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("remaining", len(set.Groups)-i).Msg("run cancelled between groups")
			return finish(err)
		}

		if sess == nil {
			log.Info().Msg("re-authenticating after the portal rejected the session")
			sess, err = e.sessions.GetOrCreate(ctx, cred)
			if err != nil {
				log.Error().Err(err).Msg("portal re-authentication failed")
				return finish(err)
			}
		}

		// A group is never abandoned half way: once started it runs to the end.
		unauthorized := e.runGroup(context.WithoutCancel(ctx), log, sess, g, &report.Groups[i], stats)
		if unauthorized {
			if err := e.sessions.Invalidate(sess.Fingerprint); err != nil {
				log.Warn().Err(err).Msg("failed to invalidate session")
			}
			sess = nil
		}
	}

	return finish(nil)
}

// runGroup reconciles one group and reports whether the portal rejected the session.
func (e *Engine) runGroup(ctx context.Context, log zerolog.Logger, sess *session.Session, g ledger.Group, out *GroupOutcome, stats *Stats) bool {
	log = log.With().Str("cufe", g.CUFE).Int("members", len(g.Members)).Logger()

	if len(g.Members) < 2 {
		out.Status = StatusUnchanged
		out.Error = "group is incomplete in a truncated set"
		log.Info().Msg("skipping incomplete group")
		return false
	}

	canonical, err := e.fetchCanonical(ctx, sess, g.CUFE)
	if err != nil {
		out.Status = StatusUnchanged
		out.Error = err.Error()
		stats.AddError()
		log.Warn().Err(err).Msg("canonical invoice unavailable; group left unchanged")

		var fetchErr *portal.FetchError
		return errors.As(err, &fetchErr) && fetchErr.Unauthorized()
	}
	out.Canonical = canonical
	if canonical.CUFE != "" && !strings.EqualFold(canonical.CUFE, g.CUFE) {
		out.Status = StatusUnchanged
		out.Error = fmt.Sprintf("portal invoice carries CUFE %s", canonical.CUFE)
		stats.AddError()
		log.Warn().Str("portal_cufe", canonical.CUFE).Msg("portal invoice carries a different CUFE; group left unchanged")
		return false
	}

	authoritative := -1
	for i := range out.Members {
		m := &out.Members[i]
		cmp, err := Compare(m.Subtotal, m.Total, canonical, e.opts.Tolerance)
		if err != nil {
			m.Error = err.Error()
			log.Warn().Err(err).Int64("document_id", m.ID).Msg("stored amounts unreadable")
			continue
		}
		m.Comparison = cmp
		m.Match = cmp.Match()
		if m.Match && authoritative < 0 {
			authoritative = i
		}
		log.Debug().
			Int64("document_id", m.ID).
			Stringer("subtotal_diff", cmp.SubtotalDiff).
			Stringer("total_diff", cmp.TotalDiff).
			Bool("match", m.Match).
			Msg("compared document")
	}

	if authoritative < 0 {
		out.Status = StatusUnchanged
		log.Info().Msg("no document matches the portal invoice; group left unchanged")
		return false
	}

	keep := &out.Members[authoritative]
	keep.Authoritative = true
	id := keep.ID
	out.AuthoritativeID = &id

	deactivated := 0
	for i := range out.Members {
		if i == authoritative {
			continue
		}
		m := &out.Members[i]
		if err := e.ledger.Deactivate(ctx, m.ID); err != nil {
			m.Error = err.Error()
			stats.AddError()
			log.Error().Err(err).Int64("document_id", m.ID).Msg("failed to deactivate duplicate")
			continue
		}
		m.Deactivated = true
		m.State = ledger.StateInactive
		deactivated++
		stats.AddCorrected()
	}

	if deactivated > 0 {
		out.Status = StatusCorrected
	} else {
		out.Status = StatusUnchanged
	}
	log.Info().
		Int64("authoritative_id", id).
		Int("deactivated", deactivated).
		Str("status", string(out.Status)).
		Msg("group reconciled")
	return false
}

func (e *Engine) fetchCanonical(ctx context.Context, sess *session.Session, cufe string) (*CanonicalRecord, error) {
	download, err := e.fetcher.FetchDocument(ctx, cufe, sess.HTTPCookies())
	if err != nil {
		return nil, err
	}
	if sess.SetHTTPCookies(download.Cookies) {
		if err := e.sessions.Save(sess); err != nil {
			e.logger.Warn().Err(err).Msg("failed to store refreshed session cookies")
		}
	}

	b, err := bundle.Extract(download.Body)
	if err != nil {
		return nil, err
	}
	return CanonicalFromBundle(b)
}
