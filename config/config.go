package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variable overrides,
	// e.g. BB2GH_GITHUB_TOKEN maps to github.token.
	EnvPrefix = "BB2GH_"

	// NoLabel is the sentinel for a mapping entry that deliberately
	// produces no label. Distinct from an absent entry, which is a
	// configuration gap worth a warning.
	NoLabel = ""
)

// Config holds the static mapping tables and credentials for one run.
// It is loaded once and read-only afterwards.
type Config struct {
	Bitbucket struct {
		Username    string `koanf:"username"`
		AppPassword string `koanf:"app_password"`
	} `koanf:"bitbucket"`

	GitHub struct {
		Token string `koanf:"token"`
	} `koanf:"github"`

	// Users maps Bitbucket nicknames to GitHub logins. GitHub only
	// accepts assignees that are valid users.
	Users map[string]string `koanf:"users"`

	// States, Priorities, Kinds and Components map Bitbucket issue
	// fields to GitHub labels. An empty value is the no-label sentinel.
	States     map[string]string `koanf:"states"`
	Priorities map[string]string `koanf:"priorities"`
	Kinds      map[string]string `koanf:"kinds"`
	Components map[string]string `koanf:"components"`

	// OpenStates lists the Bitbucket states that map to an open GitHub
	// item. Every other state closes the item.
	OpenStates []string `koanf:"open_states"`

	// Repos maps Bitbucket repositories to their GitHub counterparts,
	// used when converting commit and repository links.
	Repos map[string]string `koanf:"repos"`
}

// defaults mirror the historical Bitbucket vocabulary so a minimal
// config file only needs credentials and the repo mapping.
var defaults = map[string]interface{}{
	"kinds": map[string]string{
		"bug":         "bug",
		"enhancement": "enhancement",
		"proposal":    "proposal",
		"task":        "task",
	},
	"priorities": map[string]string{
		"trivial":  "trivial",
		"minor":    "minor",
		"major":    "major",
		"critical": "critical",
		"blocker":  "blocker",
	},
	"states": map[string]string{
		"on hold":    "on hold",
		"invalid":    "invalid",
		"duplicate":  "duplicate",
		"wontfix":    "wontfix",
		"resolved":   NoLabel,
		"new":        NoLabel,
		"open":       NoLabel,
		"closed":     NoLabel,
		"DECLINED":   "declined",
		"MERGED":     "merged",
		"SUPERSEDED": "superseeded",
		"OPEN":       NoLabel,
	},
	"open_states": []string{"open", "new", "on hold", "OPEN"},
}

// Load reads the configuration from a TOML file, layering defaults
// underneath and BB2GH_* environment variables on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// IsOpenState reports whether a Bitbucket state maps to an open GitHub item.
func (c *Config) IsOpenState(state string) bool {
	for _, s := range c.OpenStates {
		if s == state {
			return true
		}
	}
	return false
}

// GitHubRepo returns the GitHub repository mapped to a Bitbucket
// repository, or "" when the repository is unknown.
func (c *Config) GitHubRepo(bbRepo string) string {
	return c.Repos[bbRepo]
}
