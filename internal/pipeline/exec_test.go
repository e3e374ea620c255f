package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/creds"
	"github.com/stackd-io/stackd/internal/ir"
)

func TestResolveStageSecrets(t *testing.T) {
	t.Setenv("STACKD_CRED_REGISTRY_TOKEN", "ghp_secret")
	t.Setenv("STACKD_CRED_DB_PASSWORD", "hunter2")

	stage := &ir.Stage{
		Name: "app",
		Kind: ir.StageDeploy,
		Secrets: map[string]string{
			"token":   "registry-token",
			"db_pass": "db-password",
		},
	}

	secrets, err := resolveStageSecrets(creds.NewStore(""), stage)
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, "ghp_secret", secrets["token"].Reveal())
	assert.Equal(t, "hunter2", secrets["db_pass"].Reveal())

	// Resolved material never leaks through formatting.
	assert.Equal(t, "********", secrets["token"].String())
}

func TestResolveStageSecrets_MissingCredentialFailsStage(t *testing.T) {
	stage := &ir.Stage{
		Name:    "app",
		Kind:    ir.StageDeploy,
		Secrets: map[string]string{"token": "registry-token-unset"},
	}

	_, err := resolveStageSecrets(creds.NewStore(""), stage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stage "app" secret "token"`)
}

func TestResolveStageSecrets_NoneDeclared(t *testing.T) {
	secrets, err := resolveStageSecrets(creds.NewStore(""), &ir.Stage{Name: "app", Kind: ir.StageDeploy})
	require.NoError(t, err)
	assert.Empty(t, secrets)
}
