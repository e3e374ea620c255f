// Package pipeline runs ordered provision-then-deploy workflows. A
// pipeline is a YAML-defined list of stages executed strictly in order;
// the first failing stage terminates the run with no rollback.
package pipeline

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/stackd-io/stackd/internal/ir"
)

// DefaultFile is the pipeline definition the run command looks for when
// no file is given.
const DefaultFile = "stackd.pipeline.yaml"

var valueRef = regexp.MustCompile(`\$\{\{\s*outputs\.([A-Za-z0-9_.-]+)\s*\}\}`)

// Load reads and validates a pipeline definition.
func Load(path string) (*ir.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	var p ir.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file: %w", err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks structural rules before any stage runs: known kinds,
// per-kind required fields, and the ordering rule that every
// ${{ outputs.X }} reference is produced by an earlier output stage.
func Validate(p *ir.Pipeline) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name must not be empty")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q has no stages", p.Name)
	}

	seen := make(map[string]bool, len(p.Stages))
	produced := make(map[string]bool)

	for i, st := range p.Stages {
		pos := i + 1
		if st.Name == "" {
			return fmt.Errorf("stage %d has no name", pos)
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = true

		if err := validateStage(st, pos); err != nil {
			return err
		}

		for _, ref := range stageRefs(st) {
			if !produced[ref] {
				return fmt.Errorf("stage %q references outputs.%s before any stage produces it", st.Name, ref)
			}
		}

		if st.Kind == ir.StageOutput {
			produced[registerName(st)] = true
		}
	}
	return nil
}

func validateStage(st *ir.Stage, pos int) error {
	switch st.Kind {
	case ir.StageProvision, ir.StageDestroy:
		if st.Config == "" {
			return fmt.Errorf("stage %q (%d): %s stages need a config directory", st.Name, pos, st.Kind)
		}
	case ir.StageOutput:
		if st.Output == "" {
			return fmt.Errorf("stage %q (%d): output stages need an output name", st.Name, pos)
		}
	case ir.StageWait:
		if st.Host == "" || st.Port == 0 {
			return fmt.Errorf("stage %q (%d): wait stages need host and port", st.Name, pos)
		}
	case ir.StageDeploy:
		if st.Host == "" {
			return fmt.Errorf("stage %q (%d): deploy stages need a host", st.Name, pos)
		}
		if len(st.Artifacts) == 0 && st.Command == "" {
			return fmt.Errorf("stage %q (%d): deploy stages need artifacts or a command", st.Name, pos)
		}
	case ir.StageExec:
		if st.Host == "" || st.Command == "" {
			return fmt.Errorf("stage %q (%d): exec stages need host and command", st.Name, pos)
		}
	case "":
		return fmt.Errorf("stage %q (%d) has no kind", st.Name, pos)
	default:
		return fmt.Errorf("stage %q (%d) has unknown kind %q", st.Name, pos, st.Kind)
	}
	return nil
}

// registerName is the key an output stage stores its value under.
func registerName(st *ir.Stage) string {
	if st.Register != "" {
		return st.Register
	}
	return st.Output
}

// stageRefs collects every outputs.X reference a stage consumes.
func stageRefs(st *ir.Stage) []string {
	var refs []string
	collect := func(s string) {
		for _, m := range valueRef.FindAllStringSubmatch(s, -1) {
			refs = append(refs, m[1])
		}
	}

	collect(st.Host)
	collect(st.Command)
	collect(st.RemoteDir)
	for _, a := range st.Artifacts {
		collect(a)
	}
	for _, v := range st.Subst {
		collect(v)
	}
	for _, v := range st.Env {
		collect(v)
	}
	for _, v := range st.Vars {
		collect(v)
	}
	return refs
}

// substituteRefs replaces outputs.X references with registered values.
func substituteRefs(s string, values map[string]string) string {
	return valueRef.ReplaceAllStringFunc(s, func(match string) string {
		name := valueRef.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}
