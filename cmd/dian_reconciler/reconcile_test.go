package main

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/dian-reconciler/internal/ledger"
	"github.com/jonathan/dian-reconciler/internal/portal/portaltest"
)

func reconcileArgs(env *cliEnv, extra ...string) []string {
	args := []string{
		"reconcile",
		"--identification", portaltest.PK,
		"--from", "2024-03-01",
		"--to", "2024-03-31",
		"--credential-url", env.fake.CredentialURL(),
	}
	return append(args, extra...)
}

func TestReconcileCommand_JSON(t *testing.T) {
	env := setupEnv(t)
	keep := env.insert(t, "cufe-1", "100.00", "119.00", "2024-03-01 08:00:00")
	drop := env.insert(t, "cufe-1", "100.00", "125.00", "2024-03-02 08:00:00")
	env.serveInvoice("cufe-1")

	stdout, _, err := execute(t, reconcileArgs(env, "--json")...)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "Reconciliation completed", resp["message"])
	assert.Equal(t, float64(1), resp["corrected_count"])
	assert.NotEmpty(t, resp["run_id"])

	assert.Equal(t, ledger.StateActive, env.state(t, keep))
	assert.Equal(t, ledger.StateInactive, env.state(t, drop))
}

func TestReconcileCommand_Summary(t *testing.T) {
	env := setupEnv(t)
	env.insert(t, "cufe-1", "100.00", "119.00", "2024-03-01 08:00:00")
	env.insert(t, "cufe-1", "100.00", "119.00", "2024-03-02 08:00:00")
	env.serveInvoice("cufe-1")

	stdout, _, err := execute(t, reconcileArgs(env)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "RECONCILIATION REPORT")
	assert.Contains(t, stdout, "Reconciliation completed")
	assert.Contains(t, stdout, "Corrected:   1")
	assert.Contains(t, stdout, "cufe-1  [corrected]")
}

func TestReconcileCommand_CredentialFromEnvironment(t *testing.T) {
	env := setupEnv(t)
	t.Setenv(credentialEnv, env.fake.CredentialURL())

	stdout, _, err := execute(t, "reconcile", "--identification", portaltest.PK, "--from", "2024-03-01", "--to", "2024-03-31", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No duplicate documents found (test mode: limited to 10 records)")
	assert.Zero(t, env.fake.AuthCalls())
}

func TestReconcileCommand_AuthenticationFailure(t *testing.T) {
	env := setupEnv(t)
	env.insert(t, "cufe-1", "100.00", "119.00", "2024-03-01 08:00:00")
	env.insert(t, "cufe-1", "100.00", "119.00", "2024-03-02 08:00:00")
	env.fake.SetAuthStatus(http.StatusForbidden)

	stdout, _, err := execute(t, reconcileArgs(env, "--json")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconciliation stopped")

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Reconciliation stopped", resp["message"])
}

func TestReconcileCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		args    func(*cliEnv) []string
		wantErr string
	}{
		{
			name: "inverted window",
			args: func(env *cliEnv) []string {
				return []string{"reconcile", "--identification", portaltest.PK, "--from", "2024-04-01", "--to", "2024-03-01", "--credential-url", env.fake.CredentialURL()}
			},
			wantErr: "from_date",
		},
		{
			name: "missing credential",
			args: func(*cliEnv) []string {
				return []string{"reconcile", "--identification", portaltest.PK, "--from", "2024-03-01", "--to", "2024-03-31"}
			},
			wantErr: "credential_url",
		},
		{
			name: "missing identification flag",
			args: func(*cliEnv) []string {
				return []string{"reconcile", "--from", "2024-03-01", "--to", "2024-03-31"}
			},
			wantErr: "required flag",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)

			_, _, err := execute(t, tt.args(env)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Zero(t, env.fake.AuthCalls())
		})
	}
}

func TestReconcileCommand_RequiresDatabase(t *testing.T) {
	env := setupEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, _, err := execute(t, reconcileArgs(env)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
