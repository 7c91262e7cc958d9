package main

import (
	"encoding/json"
	"os"

	"github.com/habpkg/autobuild/internal/audit"
	"github.com/habpkg/autobuild/internal/identity"
	"golang.org/x/xerrors"
)

// config is the JSON configuration file shape named in spec.md §6's CLI
// surface ("--config-path pointing at a JSON configuration file listing
// repo definitions and optionally the two studio identities"). Loading
// and validating it is a thin CLI-only collaborator, not part of the
// core (spec.md §1 keeps config loading out of scope); the core only
// ever sees the already-parsed identity.DepIdent/identity.Target values
// this file produces.
type config struct {
	Root          string            `json:"root"`           // "/<root>" package path prefix
	StoreDir      string            `json:"store_dir"`       // holds the sqlite db, artifacts/, logs/, tmp/
	RepoDirs      []string          `json:"repo_dirs"`       // one or more recipe repository roots
	Target        string            `json:"target"`          // e.g. "x86_64-linux"
	StandardStudio string           `json:"standard_studio"` // dependency identity string
	BootstrapStudio string          `json:"bootstrap_studio"`
	Workers       int               `json:"workers"`
	ChangeMode    string            `json:"change_mode"`  // "disk" | "git"
	BuildOrder    string            `json:"build_order"`  // "relaxed" | "strict"
	IgnoreCycles  bool              `json:"ignore_cycles"`
	AllowRemote   bool              `json:"allow_remote"`
	HabBinary     string            `json:"hab_binary"`
	HabStudioBinary string          `json:"hab_studio_binary"`
	Rules         map[string]audit.RuleOverrideSpec `json:"rules"`
}

func loadConfig(path string) (*config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading config %s: %w", path, err)
	}
	var c config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, xerrors.Errorf("parsing config %s: %w", path, err)
	}
	if c.Root == "" {
		return nil, xerrors.Errorf("config %s: root is required", path)
	}
	if len(c.RepoDirs) == 0 {
		return nil, xerrors.Errorf("config %s: at least one repo_dir is required", path)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HabBinary == "" {
		c.HabBinary = "hab"
	}
	if c.HabStudioBinary == "" {
		c.HabStudioBinary = "hab-studio"
	}
	return &c, nil
}

func (c *config) target() (identity.Target, error) {
	if c.Target == "" {
		return identity.Target{Arch: identity.ArchX86_64, OS: identity.OSLinux}, nil
	}
	return identity.ParseTarget(c.Target)
}

func (c *config) studioIdentities() (standard, bootstrap identity.DepIdent, err error) {
	if c.StandardStudio != "" {
		if standard, err = identity.ParseDep(c.StandardStudio); err != nil {
			return standard, bootstrap, xerrors.Errorf("standard_studio: %w", err)
		}
	}
	if c.BootstrapStudio != "" {
		if bootstrap, err = identity.ParseDep(c.BootstrapStudio); err != nil {
			return standard, bootstrap, xerrors.Errorf("bootstrap_studio: %w", err)
		}
	}
	return standard, bootstrap, nil
}

func (c *config) ruleConfig() audit.RuleConfig {
	return audit.ParseRuleConfig(c.Rules)
}
