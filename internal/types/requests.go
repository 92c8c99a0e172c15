// Package types provides the request and response shapes of the reconciler API.
package types

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/dian-reconciler/internal/portal"
)

// DateLayout is the calendar date format accepted for reconciliation windows.
const DateLayout = "2006-01-02"

// MaxLimit bounds the test-mode record limit.
const MaxLimit = 10000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so errors match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AuthRequest asks for a portal session.
type AuthRequest struct {
	CredentialURL string `json:"credential_url" validate:"required,url"`
}

// Validate checks the request and returns the parsed credential.
func (r *AuthRequest) Validate() (portal.Credential, error) {
	if err := validate.Struct(r); err != nil {
		return portal.Credential{}, fromValidator(err)
	}
	return parseCredential(r.CredentialURL)
}

// FetchDocumentRequest downloads one bundle with an existing session.
type FetchDocumentRequest struct {
	SessionID string `json:"session_id" validate:"required,len=64,hexadecimal"`
	TrackID   string `json:"track_id" validate:"required,max=200"`
}

// Validate checks the request.
func (r *FetchDocumentRequest) Validate() error {
	r.TrackID = strings.TrimSpace(r.TrackID)
	if err := validate.Struct(r); err != nil {
		return fromValidator(err)
	}
	return nil
}

// ProcessRequest authenticates and downloads in one step.
type ProcessRequest struct {
	CredentialURL string `json:"credential_url" validate:"required,url"`
	TrackID       string `json:"track_id" validate:"required,max=200"`
}

// Validate checks the request and returns the parsed credential.
func (r *ProcessRequest) Validate() (portal.Credential, error) {
	r.TrackID = strings.TrimSpace(r.TrackID)
	if err := validate.Struct(r); err != nil {
		return portal.Credential{}, fromValidator(err)
	}
	return parseCredential(r.CredentialURL)
}

// ReconcileRequest runs duplicate reconciliation for one owner and window.
type ReconcileRequest struct {
	Identification string `json:"identification" validate:"required,number,max=20"`
	FromDate       string `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate         string `json:"to_date" validate:"required,datetime=2006-01-02"`
	CredentialURL  string `json:"credential_url" validate:"required,url"`
	Limit          int    `json:"limit,omitempty" validate:"gte=0,lte=10000"`
}

// ReconcileParams is a validated ReconcileRequest.
type ReconcileParams struct {
	Owner      string
	From       time.Time
	To         time.Time
	Credential portal.Credential
	Limit      int
}

// Validate checks the request, including from_date <= to_date, and returns
// the parsed parameters.
func (r *ReconcileRequest) Validate() (*ReconcileParams, error) {
	r.Identification = strings.TrimSpace(r.Identification)
	if err := validate.Struct(r); err != nil {
		return nil, fromValidator(err)
	}

	from, _ := time.Parse(DateLayout, r.FromDate)
	to, _ := time.Parse(DateLayout, r.ToDate)
	if from.After(to) {
		return nil, &ValidationError{Field: "from_date", Message: "must not be after to_date"}
	}

	cred, err := parseCredential(r.CredentialURL)
	if err != nil {
		return nil, err
	}

	return &ReconcileParams{
		Owner:      r.Identification,
		From:       from,
		To:         to,
		Credential: cred,
		Limit:      r.Limit,
	}, nil
}

func parseCredential(raw string) (portal.Credential, error) {
	cred, err := portal.ParseCredential(raw)
	if err != nil {
		var credErr *portal.CredentialError
		if errors.As(err, &credErr) {
			return portal.Credential{}, &ValidationError{Field: "credential_url", Message: credErr.Message, Cause: err}
		}
		return portal.Credential{}, &ValidationError{Field: "credential_url", Message: err.Error(), Cause: err}
	}
	return cred, nil
}
