// Package manifest loads task files and turns them into scheduler
// registrations.
//
// A manifest is the command-task analog of the original source-file
// discovery: an ordered list of named shell commands with dependency edges
// and tag labels.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"taskweaver/internal/command"
	"taskweaver/internal/sched"
	"taskweaver/internal/state"
)

// ResultEnvPrefix prefixes the environment variables through which a
// pass_results task observes its dependencies' recorded results.
const ResultEnvPrefix = "TASKWEAVER_RESULT_"

// Task is one entry in a manifest file.
type Task struct {
	// Name is the unique task identifier.
	Name string `yaml:"name" json:"name"`

	// Run is the command string, interpreted by "sh -c".
	Run string `yaml:"run" json:"run"`

	// After lists predecessor task names.
	After []string `yaml:"after,omitempty" json:"after,omitempty"`

	// Tags are informational labels used for CLI filtering.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Env is layered over the host environment for this command.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// PassResults exports each dependency's recorded result to the
	// command as TASKWEAVER_RESULT_<NAME>. Tasks that set it are
	// registered with the with-state callable variant.
	PassResults bool `yaml:"pass_results,omitempty" json:"pass_results,omitempty"`
}

// Manifest is a parsed task file, tasks in file order.
type Manifest struct {
	Tasks []Task `yaml:"tasks" json:"tasks"`
}

// Load reads and parses the manifest at path. Files ending in .json are
// parsed as JSON, everything else as YAML. Unknown fields are rejected in
// both formats so typos do not silently drop configuration.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}

	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "parse manifest json")
		}
		if err := dec.Decode(new(any)); err != io.EOF {
			return nil, errors.New("parse manifest json: trailing data")
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "parse manifest yaml")
		}
	}

	if len(m.Tasks) == 0 {
		return nil, errors.Errorf("manifest %s declares no tasks", path)
	}
	for i, t := range m.Tasks {
		if t.Name == "" {
			return nil, errors.Errorf("manifest task #%d has no name", i+1)
		}
		if t.Run == "" {
			return nil, errors.Errorf("manifest task %q has no run command", t.Name)
		}
	}
	return &m, nil
}

// Specs converts the manifest into scheduler registrations backed by exec.
// ctx bounds every command; cancelling it kills in-flight process groups.
func (m *Manifest) Specs(ctx context.Context, ex *command.Executor) []sched.TaskSpec {
	specs := make([]sched.TaskSpec, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		specs = append(specs, t.spec(ctx, ex))
	}
	return specs
}

func (t Task) spec(ctx context.Context, ex *command.Executor) sched.TaskSpec {
	spec := sched.TaskSpec{
		Name:  t.Name,
		After: append([]string(nil), t.After...),
		Tags:  append([]string(nil), t.Tags...),
	}

	if t.PassResults {
		deps := spec.After
		spec.RunState = func(st *state.State) (any, error) {
			env := make(map[string]string, len(t.Env)+len(deps))
			for k, v := range t.Env {
				env[k] = v
			}
			for _, dep := range deps {
				if v, ok := st.Result(dep); ok {
					env[ResultEnvVar(dep)] = fmt.Sprint(v)
				}
			}
			return runCommand(ctx, ex, t.Run, env)
		}
		return spec
	}

	spec.Run = func() (any, error) {
		return runCommand(ctx, ex, t.Run, t.Env)
	}
	return spec
}

// runCommand executes one command and maps it onto the task contract: the
// trimmed stdout is the task result, a non-zero exit is a task failure
// carrying the trimmed stderr.
func runCommand(ctx context.Context, ex *command.Executor, run string, env map[string]string) (any, error) {
	res, err := ex.Execute(ctx, run, env)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(string(res.Stderr))
		if detail == "" {
			detail = strings.TrimSpace(string(res.Stdout))
		}
		if detail == "" {
			return nil, fmt.Errorf("exit status %d", res.ExitCode)
		}
		return nil, fmt.Errorf("exit status %d: %s", res.ExitCode, detail)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// ResultEnvVar returns the environment variable name carrying dep's result.
// Characters outside [A-Za-z0-9] become underscores and letters are
// uppercased, matching shell variable syntax.
func ResultEnvVar(dep string) string {
	var b strings.Builder
	b.WriteString(ResultEnvPrefix)
	for _, r := range dep {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
