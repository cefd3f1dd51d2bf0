package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bb2gh.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bug", cfg.Kinds["bug"])
	assert.Equal(t, "merged", cfg.States["MERGED"])
	assert.Equal(t, NoLabel, cfg.States["resolved"])
	assert.True(t, cfg.IsOpenState("on hold"))
	assert.True(t, cfg.IsOpenState("OPEN"))
	assert.False(t, cfg.IsOpenState("resolved"))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[bitbucket]
username = "alice"
app_password = "secret"

[github]
token = "ghp_test"

[users]
alice = "alice-gh"

[repos]
"acme/widgets" = "acme-gh/widgets"

[states]
triaged = "triaged"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Bitbucket.Username)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, "alice-gh", cfg.Users["alice"])
	assert.Equal(t, "acme-gh/widgets", cfg.GitHubRepo("acme/widgets"))
	// File entries extend the defaults instead of replacing them.
	assert.Equal(t, "triaged", cfg.States["triaged"])
	assert.Equal(t, "merged", cfg.States["MERGED"])
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[github]
token = "from-file"
`)
	t.Setenv("BB2GH_GITHUB_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GitHub.Token)
}

func TestGitHubRepoUnknown(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.GitHubRepo("nobody/nothing"))
}
