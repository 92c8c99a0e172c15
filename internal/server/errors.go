package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/ledger"
	"github.com/jonathan/dian-reconciler/internal/portal"
	"github.com/jonathan/dian-reconciler/internal/schemas"
	"github.com/jonathan/dian-reconciler/internal/session"
	"github.com/jonathan/dian-reconciler/internal/types"
)

// errBodyTooLarge is returned when a request body exceeds maxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validationErr *types.ValidationError
		schemaErr     *schemas.ValidationError
		credentialErr *portal.CredentialError
		authErr       *portal.AuthenticationError
		fetchErr      *portal.FetchError
		extractErr    *bundle.ExtractionError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &validationErr), errors.As(err, &schemaErr), errors.As(err, &credentialErr):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.As(err, &fetchErr):
		switch {
		case fetchErr.Unauthorized():
			return http.StatusUnauthorized
		case fetchErr.Timeout():
			return http.StatusGatewayTimeout
		case fetchErr.Kind == portal.FetchHTTPStatus && fetchErr.StatusCode == http.StatusNotFound:
			return http.StatusNotFound
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorField returns the offending request field for validation errors.
func errorField(err error) string {
	var validationErr *types.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Field
	}
	var schemaErr *schemas.ValidationError
	if errors.As(err, &schemaErr) && len(schemaErr.Errors) > 0 {
		return schemaErr.Errors[0].Field
	}
	return ""
}
