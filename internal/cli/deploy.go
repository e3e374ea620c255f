package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/creds"
	"github.com/stackd-io/stackd/internal/deploy"
)

var (
	deployHost       string
	deployPort       int
	deployUser       string
	deployCredential string
	deployCredsDir   string
	deployArtifacts  []string
	deployRemoteDir  string
	deployCommand    string
	deploySubst      map[string]string
	deployTimeout    time.Duration
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Ship artifacts to a host and run a command",
	Long: `One-shot deployment: wait for the host, upload artifacts, then run
the command template. Intended for ad-hoc use; pipelines cover the
repeatable flow.`,
	RunE: runDeployCmd,
}

func init() {
	deployCmd.Flags().StringVar(&deployHost, "host", "", "Target host")
	deployCmd.Flags().IntVar(&deployPort, "port", 22, "Target SSH port")
	deployCmd.Flags().StringVar(&deployUser, "user", "root", "SSH user")
	deployCmd.Flags().StringVar(&deployCredential, "credential", "", "Credential store id for the SSH private key")
	deployCmd.Flags().StringVar(&deployCredsDir, "credentials-dir", "", "Directory holding credential files")
	deployCmd.Flags().StringSliceVar(&deployArtifacts, "artifact", nil, "Local artifact to upload (repeatable)")
	deployCmd.Flags().StringVar(&deployRemoteDir, "remote-dir", "/opt/app", "Remote directory for artifacts")
	deployCmd.Flags().StringVar(&deployCommand, "command", "", "Remote command template")
	deployCmd.Flags().StringToStringVar(&deploySubst, "subst", nil, "Command template substitutions (format: key=value)")
	deployCmd.Flags().DurationVar(&deployTimeout, "timeout", 10*time.Minute, "Remote command timeout")
	_ = deployCmd.MarkFlagRequired("host")
	_ = deployCmd.MarkFlagRequired("credential")
}

func runDeployCmd(cmd *cobra.Command, args []string) error {
	store := creds.NewStore(deployCredsDir)
	key, err := store.Lookup(deployCredential)
	if err != nil {
		return err
	}

	req := deploy.Request{
		Target: deploy.Target{
			Host:       deployHost,
			Port:       deployPort,
			User:       deployUser,
			PrivateKey: key,
		},
		RemoteDir:   deployRemoteDir,
		Command:     deployCommand,
		Subst:       deploySubst,
		ExecTimeout: deployTimeout,
	}
	for _, a := range deployArtifacts {
		req.Artifacts = append(req.Artifacts, deploy.Artifact{LocalPath: a})
	}
	if err := req.Validate(); err != nil {
		return err
	}

	output, err := deploy.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	if output != "" {
		cmd.Println(output)
	}
	return nil
}
