package deploy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/stackd-io/stackd/internal/creds"
	"github.com/stackd-io/stackd/internal/logging"
)

// Artifact is one local file shipped to the target before the remote
// command runs.
type Artifact struct {
	LocalPath  string
	RemotePath string
}

// Request describes one deployment: where to connect, what to ship, and
// the command template to run afterwards.
type Request struct {
	Target    Target
	Artifacts []Artifact
	RemoteDir string

	// Command is rendered with {{name}} placeholders from Subst and
	// Secrets before execution.
	Command string
	Subst   map[string]string
	Secrets map[string]creds.Secret

	// ExecTimeout bounds the remote command. Zero means no extra bound
	// beyond the caller's context.
	ExecTimeout time.Duration
}

// Run connects, waits for readiness, uploads every artifact, then renders
// and executes the command. The first failure aborts; nothing after a
// failed transfer runs on the target.
func Run(ctx context.Context, req Request) (string, error) {
	log := logging.Logger()

	port := req.Target.Port
	if port == 0 {
		port = defaultSSHPort
	}
	if err := WaitReady(ctx, req.Target.Host, port, req.Target.DialTimeout); err != nil {
		return "", err
	}

	client, err := Connect(ctx, req.Target)
	if err != nil {
		return "", err
	}
	defer client.Close()

	for _, a := range req.Artifacts {
		remote := a.RemotePath
		if remote == "" {
			remote = path.Join(req.RemoteDir, path.Base(a.LocalPath))
		}
		log.Info("uploading artifact", "local", a.LocalPath, "remote", remote)
		if err := client.Upload(ctx, a.LocalPath, remote); err != nil {
			return "", err
		}
	}

	command := renderCommand(req.Command, req.Subst, req.Secrets)
	log.Info("running remote command", "host", req.Target.Host, "command", maskCommand(req.Command, req.Subst))

	execCtx := ctx
	if req.ExecTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, req.ExecTimeout)
		defer cancel()
	}

	return client.Execute(execCtx, command)
}

// renderCommand substitutes {{name}} placeholders. Secrets are revealed
// only here, in the string handed to the SSH session.
func renderCommand(tmpl string, subst map[string]string, secrets map[string]creds.Secret) string {
	out := tmpl
	for k, v := range subst {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	for k, s := range secrets {
		out = strings.ReplaceAll(out, "{{"+k+"}}", s.Reveal())
	}
	return out
}

// maskCommand renders only the non-secret substitutions so log lines show
// the real image reference but never credential material.
func maskCommand(tmpl string, subst map[string]string) string {
	out := tmpl
	for k, v := range subst {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// Validate checks a request before any network activity.
func (r Request) Validate() error {
	if r.Target.Host == "" {
		return fmt.Errorf("deployment target host must not be empty")
	}
	if r.Command == "" && len(r.Artifacts) == 0 {
		return fmt.Errorf("deployment needs artifacts or a command")
	}
	return nil
}
