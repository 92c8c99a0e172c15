package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/reconcile"
	"github.com/jonathan/dian-reconciler/internal/schemas"
	"github.com/jonathan/dian-reconciler/internal/server/middleware"
	"github.com/jonathan/dian-reconciler/internal/session"
	"github.com/jonathan/dian-reconciler/internal/types"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Endpoint describes one API route for the /info catalogue.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

type route struct {
	Endpoint
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{Endpoint{"GET", "/health", "Liveness probe"}, s.handleHealth},
		{Endpoint{"GET", "/info", "Service version and endpoint catalogue"}, s.handleInfo},
		{Endpoint{"POST", "/auth", "Authenticate against the portal with a credential URL and return a session id"}, s.handleAuth},
		{Endpoint{"POST", "/fetch-document", "Download and extract one document bundle with an existing session"}, s.handleFetchDocument},
		{Endpoint{"POST", "/process", "Authenticate and download one document bundle in a single call"}, s.handleProcess},
		{Endpoint{"POST", "/reconcile", "Find duplicate ledger documents in a date window and deactivate the ones the portal does not confirm"}, s.handleReconcile},
	}
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Service   string     `json:"service"`
	Version   string     `json:"version"`
	Tolerance string     `json:"match_tolerance"`
	Endpoints []Endpoint `json:"endpoints"`
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	routes := s.routes()
	endpoints := make([]Endpoint, 0, len(routes))
	for _, rt := range routes {
		endpoints = append(endpoints, rt.Endpoint)
	}
	s.jsonResponse(w, http.StatusOK, InfoResponse{
		Service:   "dian-reconciler",
		Version:   s.version,
		Tolerance: s.engine.Tolerance().StringFixed(2),
		Endpoints: endpoints,
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req types.AuthRequest
	if err := s.decode(w, r, schemas.AuthRequest, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cred, err := req.Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.sessions.GetOrCreate(r.Context(), cred)
	if err != nil {
		var authErr *portal.AuthenticationError
		if errors.As(err, &authErr) {
			s.logger.Warn().Err(err).Str("credential", cred.Redacted()).Msg("portal authentication failed")
			s.jsonResponse(w, HTTPStatus(err), types.AuthResponse{
				StatusCode: authErr.StatusCode,
				Message:    authErr.Error(),
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, types.AuthResponse{
		Success:    true,
		StatusCode: http.StatusOK,
		SessionID:  sess.Fingerprint,
		Message:    "Authentication successful",
	})
}

func (s *Server) handleFetchDocument(w http.ResponseWriter, r *http.Request) {
	var req types.FetchDocumentRequest
	if err := s.decode(w, r, schemas.FetchDocumentRequest, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	unlock, err := s.sessions.Lock(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unlock()

	sess, err := s.sessions.Load(req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.download(r.Context(), sess, req.TrackID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req types.ProcessRequest
	if err := s.decode(w, r, schemas.ProcessRequest, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cred, err := req.Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	unlock, err := s.sessions.Lock(r.Context(), cred.Fingerprint())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unlock()

	sess, err := s.sessions.GetOrCreate(r.Context(), cred)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.download(r.Context(), sess, req.TrackID)
	if isUnauthorized(err) {
		// The stored session expired; one fresh handshake is worth a retry.
		if sess, err = s.sessions.GetOrCreate(r.Context(), cred); err == nil {
			resp, err = s.download(r.Context(), sess, req.TrackID)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, types.ProcessResponse{
		Success:   true,
		SessionID: sess.Fingerprint,
		Document:  resp,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req types.ReconcileRequest
	if err := s.decode(w, r, schemas.ReconcileRequest, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := req.Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	event := s.logger.Info().
		Str("identification", params.Owner).
		Time("from", params.From).
		Time("to", params.To)
	if subject, err := middleware.GetSubject(r); err == nil {
		event = event.Str("subject", subject)
	}
	event.Msg("reconciliation requested")

	report, err := s.engine.Reconcile(r.Context(), reconcile.Request{
		Owner:      params.Owner,
		From:       params.From,
		To:         params.To,
		Credential: params.Credential,
		Limit:      params.Limit,
	})
	if report == nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = HTTPStatus(err)
	}
	s.jsonResponse(w, status, types.NewReconcileResponse(report))
}

// download fetches and extracts one bundle. Refreshed cookies are stored and a
// session the portal rejects is dropped. Callers hold the credential lock.
func (s *Server) download(ctx context.Context, sess *session.Session, trackID string) (*types.FetchDocumentResponse, error) {
	dl, err := s.portal.FetchDocument(ctx, trackID, sess.HTTPCookies())
	if err != nil {
		if isUnauthorized(err) {
			if invErr := s.sessions.Invalidate(sess.Fingerprint); invErr != nil {
				s.logger.Warn().Err(invErr).Msg("failed to invalidate session")
			}
		}
		return nil, err
	}
	if sess.SetHTTPCookies(dl.Cookies) {
		if err := s.sessions.Save(sess); err != nil {
			s.logger.Warn().Err(err).Msg("failed to store refreshed session cookies")
		}
	}

	b, err := bundle.Extract(dl.Body)
	if err != nil {
		return nil, err
	}
	return types.NewFetchDocumentResponse(trackID, len(dl.Body), b, s.now()), nil
}

func isUnauthorized(err error) bool {
	var fetchErr *portal.FetchError
	return errors.As(err, &fetchErr) && fetchErr.Unauthorized()
}

// decode reads a bounded JSON body, checks it against the named schema and
// unmarshals it into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := schemas.Validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &types.ValidationError{Message: "invalid request body", Cause: err}
	}
	return nil
}

// writeError maps err to a status and writes an ErrorResponse. Internal
// errors are logged and answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = "internal server error"
	}
	s.jsonResponse(w, status, types.ErrorResponse{
		Error: message,
		Field: errorField(err),
	})
}
