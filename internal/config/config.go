// Package config loads grund.yaml.
//
// The file is optional. Values it sets override Default(); the raw document
// is checked against an embedded CUE schema before it is applied, so typos in
// keys and out-of-range values are rejected with a position instead of being
// silently ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/grund/internal/directive"
	"github.com/roach88/grund/internal/manifest"
	"github.com/roach88/grund/internal/runner"
	"github.com/roach88/grund/internal/watermark"
)

//go:embed schema.cue
var schemaCUE string

// FileName is the config file looked up in the working directory when
// --config is not given.
const FileName = "grund.yaml"

// DefaultMarker prefixes every commit the engine makes.
const DefaultMarker = "GRUND:"

// RunnerConfig selects the job runner entry point.
type RunnerConfig struct {
	Script      string `yaml:"script"`
	Interpreter string `yaml:"interpreter"`
}

// SyncConfig controls retries of pull and push.
type SyncConfig struct {
	Retries int    `yaml:"retries"`
	Backoff string `yaml:"backoff"`
}

// Config is the engine configuration.
type Config struct {
	CommandPrefix     string       `yaml:"command_prefix"`
	Marker            string       `yaml:"marker"`
	Manifest          string       `yaml:"manifest"`
	WatermarkFile     string       `yaml:"watermark_file"`
	Remote            string       `yaml:"remote"`
	Branch            string       `yaml:"branch"`
	GitBinary         string       `yaml:"git_binary"`
	Journal           string       `yaml:"journal"`
	Runner            RunnerConfig `yaml:"runner"`
	NewProjectCommand []string     `yaml:"newproj_command"`
	Sync              SyncConfig   `yaml:"sync"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CommandPrefix: directive.DefaultPrefix,
		Marker:        DefaultMarker,
		Manifest:      manifest.DefaultName,
		WatermarkFile: watermark.DefaultFile,
		Remote:        "origin",
		Branch:        "master",
		GitBinary:     "git",
		Runner: RunnerConfig{
			Script:      runner.DefaultScript,
			Interpreter: runner.DefaultInterpreter,
		},
		NewProjectCommand: []string{"python3", "grunt.py", "newproj"},
		Sync: SyncConfig{
			Retries: 2,
			Backoff: "1s",
		},
	}
}

// BackoffDuration parses Sync.Backoff.
func (c Config) BackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.Sync.Backoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// Load reads path. An empty path tries FileName in the current directory
// and falls back to Default when it does not exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a YAML document and applies it over Default.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if strings.TrimSpace(cfg.Marker) != cfg.Marker {
		return Config{}, fmt.Errorf("marker %q must not start or end with whitespace", cfg.Marker)
	}
	return cfg, nil
}

// validate checks the raw document against #Config.
func validate(raw map[string]any) error {
	if raw == nil {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
