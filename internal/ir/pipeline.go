package ir

// Pipeline is an ordered provision-then-deploy workflow. Stages run
// strictly sequentially; the first failing stage terminates the run.
type Pipeline struct {
	Name        string            `yaml:"name"`
	Environment string            `yaml:"environment"`
	Env         map[string]string `yaml:"env"`
	Stages      []*Stage          `yaml:"stages"`
}

// Stage kinds understood by the orchestrator.
const (
	StageProvision = "provision" // converge a declaration graph
	StageDestroy   = "destroy"   // tear down everything in state
	StageOutput    = "output"    // read an output binding into the run values
	StageWait      = "wait"      // bounded TCP readiness poll
	StageDeploy    = "deploy"    // push artifacts and run the startup command
	StageExec      = "exec"      // run a single remote command
)

// Stage is one unit of work with its own scoped environment bindings.
// Fields beyond Name/Kind/Env apply only to particular kinds.
type Stage struct {
	Name string            `yaml:"name"`
	Kind string            `yaml:"kind"`
	Env  map[string]string `yaml:"env"`

	// provision / destroy
	Config string            `yaml:"config"` // declaration directory
	Vars   map[string]string `yaml:"vars"`

	// output
	Output   string `yaml:"output"`   // output binding name in state
	Register string `yaml:"register"` // run value to store it under

	// wait / deploy / exec
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Timeout    string `yaml:"timeout"`
	User       string `yaml:"user"`
	Credential string `yaml:"credential"` // opaque credential store id

	// deploy / exec
	Artifacts []string          `yaml:"artifacts"`
	RemoteDir string            `yaml:"remoteDir"`
	Command   string            `yaml:"command"`
	Subst     map[string]string `yaml:"subst"`   // plain command template substitutions
	Secrets   map[string]string `yaml:"secrets"` // template placeholder -> credential store id
}
