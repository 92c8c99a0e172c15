package portal

import (
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Credential is a portal access link carrying the pk and token query parameters.
// Its identity is the URL string itself.
type Credential struct {
	raw   string
	pk    string
	token string
}

// ParseCredential validates a credential URL and extracts its parameters.
func ParseCredential(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, &CredentialError{Message: "credential URL is empty"}
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Credential{}, &CredentialError{Message: "invalid credential URL", Cause: err}
	}

	query := parsed.Query()
	pk := query.Get("pk")
	token := query.Get("token")
	if pk == "" || token == "" {
		return Credential{}, &CredentialError{Message: "credential URL must contain the pk and token parameters"}
	}

	return Credential{raw: raw, pk: pk, token: token}, nil
}

// URL returns the credential URL exactly as supplied.
func (c Credential) URL() string {
	return c.raw
}

// PK returns the pk parameter.
func (c Credential) PK() string {
	return c.pk
}

// Token returns the token parameter.
func (c Credential) Token() string {
	return c.token
}

// IsZero reports whether the credential was never parsed.
func (c Credential) IsZero() bool {
	return c.raw == ""
}

// Fingerprint returns the hex BLAKE2b-256 digest of the credential URL.
// It is stable across processes and is used as the session key.
func (c Credential) Fingerprint() string {
	sum := blake2b.Sum256([]byte(c.raw))
	return hex.EncodeToString(sum[:])
}

// Redacted returns the pk parameter with the token masked, for logs.
func (c Credential) Redacted() string {
	if c.pk == "" {
		return ""
	}
	return "pk=" + c.pk + "&token=***"
}
