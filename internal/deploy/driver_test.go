package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/creds"
)

func TestRenderCommand(t *testing.T) {
	out := renderCommand(
		"docker login -u {{user}} -p {{password}} && docker run {{image}}",
		map[string]string{"user": "ci", "image": "web:1.4.2"},
		map[string]creds.Secret{"password": creds.NewSecret("s3cret")},
	)

	assert.Equal(t, "docker login -u ci -p s3cret && docker run web:1.4.2", out)
}

func TestMaskCommand_KeepsSecretsHidden(t *testing.T) {
	out := maskCommand(
		"docker login -u {{user}} -p {{password}}",
		map[string]string{"user": "ci"},
	)

	assert.Equal(t, "docker login -u ci -p {{password}}", out)
	assert.NotContains(t, out, "s3cret")
}

func TestRequest_Validate(t *testing.T) {
	err := Request{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")

	err = Request{Target: Target{Host: "10.0.0.4"}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifacts or a command")

	err = Request{Target: Target{Host: "10.0.0.4"}, Command: "systemctl restart app"}.Validate()
	assert.NoError(t, err)
}

func TestRun_UnreachableHostFailsBeforeTransfer(t *testing.T) {
	req := Request{
		Target: Target{
			Host:        "127.0.0.1",
			Port:        closedPort(t),
			User:        "deploy",
			PrivateKey:  testPrivateKey(t),
			DialTimeout: 300 * time.Millisecond,
		},
		Artifacts: []Artifact{{LocalPath: "/nonexistent/artifact.tar"}},
		Command:   "deploy.sh",
	}

	start := time.Now()
	_, err := Run(context.Background(), req)
	elapsed := time.Since(start)

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, elapsed, 10*time.Second)
}
