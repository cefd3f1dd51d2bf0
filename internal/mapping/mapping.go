// Package mapping translates Bitbucket vocabulary (users, states,
// priorities, kinds, components) into GitHub users and labels.
package mapping

import (
	"github.com/rs/zerolog/log"

	"github.com/tkoenig/bb2gh/config"
	"github.com/tkoenig/bb2gh/internal/models"
)

// Mapper performs pure lookups against the static configuration tables.
type Mapper struct {
	cfg *config.Config
}

// New creates a mapper over a loaded configuration.
func New(cfg *config.Config) *Mapper {
	return &Mapper{cfg: cfg}
}

// User returns the GitHub login mapped to a Bitbucket user, or "" when
// the user is nil, has no nickname, or is not in the mapping table.
func (m *Mapper) User(u *models.User) string {
	if u == nil || u.Nickname == "" {
		return ""
	}
	return m.cfg.Users[u.Nickname]
}

// Closed reports whether a Bitbucket state maps to a closed GitHub item.
// Membership in the open-state set decides this, independent of whether
// a label is configured for the state.
func (m *Mapper) Closed(state string) bool {
	return !m.cfg.IsOpenState(state)
}

// Repo returns the GitHub repository mapped to a Bitbucket repository,
// or "" when unknown.
func (m *Mapper) Repo(bbRepo string) string {
	return m.cfg.GitHubRepo(bbRepo)
}

func labelsFrom(table map[string]string, key, field string) []string {
	label, ok := table[key]
	if !ok {
		log.Warn().Str(field, key).Msgf("ignoring bitbucket issue %s %q", field, key)
		return nil
	}
	if label == config.NoLabel {
		return nil
	}
	return []string{label}
}

// StateLabels maps a Bitbucket state to GitHub labels.
func (m *Mapper) StateLabels(state string) []string {
	return labelsFrom(m.cfg.States, state, "state")
}

// PriorityLabels maps a Bitbucket priority to GitHub labels.
func (m *Mapper) PriorityLabels(priority string) []string {
	return labelsFrom(m.cfg.Priorities, priority, "priority")
}

// KindLabels maps a Bitbucket kind to GitHub labels.
func (m *Mapper) KindLabels(kind string) []string {
	return labelsFrom(m.cfg.Kinds, kind, "kind")
}

// ComponentLabels maps a Bitbucket component to GitHub labels. Issues
// without a component yield no label.
func (m *Mapper) ComponentLabels(component *models.Component) []string {
	if component == nil {
		return nil
	}
	return labelsFrom(m.cfg.Components, component.Name, "component")
}

// IssueLabels collects the full label set for an issue, deduplicated in
// first-seen order.
func (m *Mapper) IssueLabels(issue *models.Issue) []string {
	var labels []string
	labels = append(labels, m.KindLabels(issue.Kind)...)
	labels = append(labels, m.StateLabels(issue.State)...)
	labels = append(labels, m.PriorityLabels(issue.Priority)...)
	labels = append(labels, m.ComponentLabels(issue.Component)...)
	return Dedup(labels)
}

// PullLabels collects the label set for an item migrated from a pull
// request. Every such item carries the "pull request" label.
func (m *Mapper) PullLabels(pull *models.PullRequest) []string {
	labels := []string{"pull request"}
	labels = append(labels, m.StateLabels(pull.State)...)
	return Dedup(labels)
}

// Dedup removes duplicate labels, preserving first-seen order.
func Dedup(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := labels[:0]
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
