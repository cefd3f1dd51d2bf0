package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tkoenig/bb2gh/config"
	"github.com/tkoenig/bb2gh/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Users: map[string]string{
			"alice": "alice-gh",
		},
		States: map[string]string{
			"open":     config.NoLabel,
			"resolved": config.NoLabel,
			"wontfix":  "wontfix",
			"MERGED":   "merged",
			"OPEN":     config.NoLabel,
		},
		Priorities: map[string]string{
			"major": "major",
			"minor": "minor",
		},
		Kinds: map[string]string{
			"bug":      "bug",
			"proposal": "proposal",
		},
		Components: map[string]string{
			"parser": "parser",
			"ui":     config.NoLabel,
		},
		OpenStates: []string{"open", "new", "on hold", "OPEN"},
		Repos: map[string]string{
			"acme/widgets": "acme-gh/widgets",
		},
	}
}

func TestUserMapping(t *testing.T) {
	m := New(testConfig())

	assert.Equal(t, "alice-gh", m.User(&models.User{Nickname: "alice"}))
	assert.Equal(t, "", m.User(&models.User{Nickname: "stranger"}))
	assert.Equal(t, "", m.User(&models.User{}))
	assert.Equal(t, "", m.User(nil))
}

func TestClosedFollowsOpenStates(t *testing.T) {
	m := New(testConfig())

	assert.False(t, m.Closed("open"))
	assert.False(t, m.Closed("on hold"))
	assert.False(t, m.Closed("OPEN"))
	assert.True(t, m.Closed("resolved"))
	assert.True(t, m.Closed("MERGED"))
	// Open/closed is decided by the open-state set alone, even for
	// states missing from the label table.
	assert.True(t, m.Closed("somethingelse"))
}

func TestNoLabelSentinelYieldsNothing(t *testing.T) {
	m := New(testConfig())

	assert.Empty(t, m.StateLabels("open"))
	assert.Empty(t, m.ComponentLabels(&models.Component{Name: "ui"}))
}

func TestUnknownKeyYieldsNothing(t *testing.T) {
	m := New(testConfig())

	assert.Empty(t, m.StateLabels("unheard-of"))
	assert.Empty(t, m.PriorityLabels("unheard-of"))
	assert.Empty(t, m.KindLabels("unheard-of"))
	assert.Empty(t, m.ComponentLabels(&models.Component{Name: "unheard-of"}))
	assert.Empty(t, m.ComponentLabels(nil))
}

func TestIssueLabels(t *testing.T) {
	m := New(testConfig())

	issue := &models.Issue{
		Kind:      "bug",
		State:     "wontfix",
		Priority:  "major",
		Component: &models.Component{Name: "parser"},
	}
	assert.Equal(t, []string{"bug", "wontfix", "major", "parser"}, m.IssueLabels(issue))
}

func TestIssueLabelsDeduplicated(t *testing.T) {
	cfg := testConfig()
	cfg.Kinds["bug"] = "bug"
	cfg.Priorities["major"] = "bug"
	m := New(cfg)

	issue := &models.Issue{Kind: "bug", State: "open", Priority: "major"}
	assert.Equal(t, []string{"bug"}, m.IssueLabels(issue))
}

func TestPullLabels(t *testing.T) {
	m := New(testConfig())

	assert.Equal(t, []string{"pull request", "merged"},
		m.PullLabels(&models.PullRequest{State: "MERGED"}))
	assert.Equal(t, []string{"pull request"},
		m.PullLabels(&models.PullRequest{State: "OPEN"}))
}

func TestDedupKeepsFirstSeenOrder(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, Dedup([]string{"b", "a", "b", "c", "a"}))
}
