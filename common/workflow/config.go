package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/secbot-io/secbot/common/secerr"
)

// Component is a named instantiation of a handler with config and env bound.
type Component struct {
	Name        string
	HandlerName string
	Config      map[string]any
	Env         map[string]string
}

// Job is a rule-guarded collection of components: scans feed outputs, and
// each output fans out to the notification group.
type Job struct {
	Name      string
	InputName string

	// Rules map dotted payload paths to regular expressions. All rules
	// must fully match for the job to match.
	Rules map[string]string

	// Condition is an optional CEL expression over the event payload,
	// evaluated after the rules.
	Condition *Condition

	Scans         []Component
	Outputs       []Component
	Notifications []Component
}

// Config is the parsed workflow configuration document, indexed by input
// source name.
type Config struct {
	jobs map[string][]Job
}

type rawComponent struct {
	HandlerName string            `yaml:"handler_name"`
	Config      map[string]any    `yaml:"config"`
	Env         map[string]string `yaml:"env"`
}

type rawJob struct {
	Name          string                       `yaml:"name"`
	Rules         map[string]map[string]string `yaml:"rules"`
	Condition     string                       `yaml:"condition"`
	Scans         []string                     `yaml:"scans"`
	Outputs       []string                     `yaml:"outputs"`
	Notifications []string                     `yaml:"notifications"`
}

type rawConfig struct {
	Version    string                  `yaml:"version"`
	Components map[string]rawComponent `yaml:"components"`
	Jobs       []rawJob                `yaml:"jobs"`
}

// versionParsers maps supported config versions to their parsers. The
// parser validates the document structure only; handler validation happens
// at registration time.
var versionParsers = map[string]func(rawConfig) (map[string][]Job, error){
	"1.0": parseV1,
}

// LoadFile reads and parses a workflow configuration document.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow config: %w", err)
	}
	return Parse(data)
}

// Parse parses a workflow configuration document.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, secerr.Wrap(secerr.KindConfig, "parse workflow config", err)
	}

	if raw.Version == "" {
		return nil, secerr.New(secerr.KindConfig, "config version is not specified")
	}
	parser, ok := versionParsers[raw.Version]
	if !ok {
		return nil, secerr.Newf(secerr.KindConfig, "unsupported config version: %s", raw.Version)
	}

	jobs, err := parser(raw)
	if err != nil {
		return nil, err
	}
	return &Config{jobs: jobs}, nil
}

func parseV1(raw rawConfig) (map[string][]Job, error) {
	if len(raw.Components) == 0 {
		return nil, secerr.New(secerr.KindConfig, "no components found in config")
	}

	components := make(map[string]Component, len(raw.Components))
	for name, rc := range raw.Components {
		env, err := resolveEnv(name, rc.Env)
		if err != nil {
			return nil, err
		}
		components[name] = Component{
			Name:        name,
			HandlerName: rc.HandlerName,
			Config:      rc.Config,
			Env:         env,
		}
	}

	jobs := make(map[string][]Job)
	for _, rj := range raw.Jobs {
		scans, err := resolveComponents(components, rj.Scans)
		if err != nil {
			return nil, err
		}
		outputs, err := resolveComponents(components, rj.Outputs)
		if err != nil {
			return nil, err
		}
		notifications, err := resolveComponents(components, rj.Notifications)
		if err != nil {
			return nil, err
		}

		var condition *Condition
		if rj.Condition != "" {
			condition, err = CompileCondition(rj.Condition)
			if err != nil {
				return nil, err
			}
		}

		for inputName, rules := range rj.Rules {
			jobs[inputName] = append(jobs[inputName], Job{
				Name:          rj.Name,
				InputName:     inputName,
				Rules:         rules,
				Condition:     condition,
				Scans:         scans,
				Outputs:       outputs,
				Notifications: notifications,
			})
		}
	}
	if len(jobs) == 0 {
		return nil, secerr.New(secerr.KindConfig, "no jobs found in config")
	}
	return jobs, nil
}

// resolveEnv looks up each named environment variable at load time.
func resolveEnv(componentName string, env map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	resolved := make(map[string]string, len(env))
	for key, varName := range env {
		value, ok := os.LookupEnv(varName)
		if !ok {
			return nil, secerr.Newf(
				secerr.KindConfigMissingEnv,
				"failed to resolve env variable %s for component %s", varName, componentName,
			)
		}
		resolved[key] = value
	}
	return resolved, nil
}

func resolveComponents(components map[string]Component, names []string) ([]Component, error) {
	resolved := make([]Component, 0, len(names))
	for _, name := range names {
		component, ok := components[name]
		if !ok {
			return nil, secerr.Newf(secerr.KindConfig, "unknown component %q referenced by job", name)
		}
		resolved = append(resolved, component)
	}
	return resolved, nil
}
