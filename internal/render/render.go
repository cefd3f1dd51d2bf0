// Package render builds GitHub-flavored markdown bodies and comment
// timelines from Bitbucket records. All functions are deterministic and
// side-effect free apart from warning logs.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkoenig/bb2gh/internal/mapping"
	"github.com/tkoenig/bb2gh/internal/models"
)

// dateRe matches the date and time-of-day parts of a Bitbucket
// timestamp such as "2012-11-26T09:59:39+00:00".
var dateRe = regexp.MustCompile(`(\d\d\d\d-\d\d-\d\d)T(\d\d:\d\d:\d\d)`)

// ISODate converts a Bitbucket timestamp to the strict ISO-8601 UTC
// form GitHub expects ("2012-11-26T09:59:39Z"). An input that does not
// carry a T-separated date and time is a broken input contract and
// returns an error.
func ISODate(ts string) (string, error) {
	m := dateRe.FindStringSubmatch(ts)
	if m == nil {
		return "", fmt.Errorf("could not parse date: %q", ts)
	}
	return m[1] + "T" + m[2] + "Z", nil
}

// ProseDate converts a Bitbucket timestamp to the human-readable form
// used inside rendered bodies ("2012-11-26 09:59").
func ProseDate(ts string) (string, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", fmt.Errorf("could not parse date: %q", ts)
	}
	return t.Format("2006-01-02 15:04"), nil
}

// Renderer renders Bitbucket records for one repository migration.
type Renderer struct {
	mapper *mapping.Mapper
	bbRepo string
}

// New creates a renderer for the given Bitbucket repository.
func New(mapper *mapping.Mapper, bbRepo string) *Renderer {
	return &Renderer{mapper: mapper, bbRepo: bbRepo}
}

// Mention renders a Bitbucket user reference. Mapped users become a
// direct @mention, unmapped users are named in bold, and a nil user is
// the fixed deleted-account phrase. capitalize is set at sentence starts.
func (r *Renderer) Mention(u *models.User, capitalize bool) string {
	if u == nil || u.Nickname == "" {
		if capitalize {
			return "A former bitbucket user (account deleted)"
		}
		return "a former bitbucket user (account deleted)"
	}
	if gh := r.mapper.User(u); gh != "" {
		return fmt.Sprintf("**@%s**", gh)
	}
	if capitalize {
		return fmt.Sprintf("Bitbucket user **%s**", u.Nickname)
	}
	return fmt.Sprintf("bitbucket user **%s**", u.Nickname)
}

// CommentBody renders one Bitbucket comment, including the quoted
// inline-location header for code review comments.
func (r *Renderer) CommentBody(c *models.Comment) (string, error) {
	createdOn, err := ProseDate(c.CreatedOn)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "> %s commented on %s\n", r.Mention(c.User, true), createdOn)

	if c.Inline != nil {
		prefix := "Location"
		if c.Inline.Outdated {
			prefix = "Outdated location"
		}
		sb.WriteString(">\n")
		switch {
		case c.Inline.From == nil && c.Inline.To == nil:
			fmt.Fprintf(&sb, "> **%s:** `%s`\n", prefix, c.Inline.Path)
		case c.Inline.From == nil || c.Inline.To == nil || *c.Inline.From == *c.Inline.To:
			line := c.Inline.From
			if line == nil {
				line = c.Inline.To
			}
			fmt.Fprintf(&sb, "> **%s:** line %d of `%s`\n", prefix, *line, c.Inline.Path)
		default:
			fmt.Fprintf(&sb, "> **%s:** lines %d-%d of `%s`\n", prefix, *c.Inline.From, *c.Inline.To, c.Inline.Path)
		}
	}
	sb.WriteString("\n")

	sb.WriteString(c.Content.Raw)
	return sb.String(), nil
}

// IssueBody renders a Bitbucket issue body: header block, raw content,
// and a trailing attachment section when the issue owns attachments.
// archive is the gist hosting this issue's attachments, nil when none
// was created.
func (r *Renderer) IssueBody(issue *models.Issue, attachments map[string]models.Attachment, archive *models.Archive) (string, error) {
	createdOn, err := ProseDate(issue.CreatedOn)
	if err != nil {
		return "", err
	}
	updatedOn, err := ProseDate(issue.UpdatedOn)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "> Created by %s on %s\n", r.Mention(issue.Reporter, false), createdOn)
	if createdOn != updatedOn {
		fmt.Fprintf(&sb, "> Last updated on %s\n", updatedOn)
	}

	sb.WriteString("\n")
	sb.WriteString(issue.Content.Raw)
	sb.WriteString("\n")

	if len(attachments) > 0 {
		sb.WriteString("\n---\n\nAttachments:\n")
		for _, name := range sortedNames(attachments) {
			if archive != nil {
				fmt.Fprintf(&sb, "* [**`%s`**](%s)\n", name, archive.FileURLs[name])
			} else {
				log.Error().Int("issue", issue.ID).Msg("missing gist for the attachments of issue")
				fmt.Fprintf(&sb, "* **`%s`** (missing link)\n", name)
			}
		}
	}

	return sb.String(), nil
}

// PullBody renders a Bitbucket pull request body: header block with
// participants, source and destination descriptions, optional merge
// commit link, the literal source state, then the raw description.
func (r *Renderer) PullBody(pull *models.PullRequest) (string, error) {
	createdOn, err := ProseDate(pull.CreatedOn)
	if err != nil {
		return "", err
	}
	updatedOn, err := ProseDate(pull.UpdatedOn)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	authorMsg := ""
	if pull.Author != nil {
		authorMsg = "by " + r.Mention(pull.Author, false) + " "
	}
	fmt.Fprintf(&sb, ">  **Pull request** :twisted_rightwards_arrows: created %son %s\n", authorMsg, createdOn)
	if createdOn != updatedOn {
		fmt.Fprintf(&sb, "> Last updated on %s\n", updatedOn)
	}
	fmt.Fprintf(&sb, "> Original Bitbucket pull request id: %d\n", pull.ID)

	if len(pull.Participants) > 0 {
		sb.WriteString(">\n> Participants:\n>\n")
		for _, p := range pull.Participants {
			fmt.Fprintf(&sb, "> * %s", r.Mention(p.User, false))
			if p.Role == "REVIEWER" {
				sb.WriteString(" (reviewer)")
			}
			if p.Approved {
				sb.WriteString(" :heavy_check_mark:")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(">\n")
	sb.WriteString(r.sourceLine(pull))
	sb.WriteString(r.destinationLine(pull))

	if pull.MergeCommit != nil {
		fmt.Fprintf(&sb, "> Merge commit: https://github.com/%s/commit/%s\n",
			r.mapper.Repo(r.bbRepo), pull.MergeCommit.Hash)
	}

	sb.WriteString(">\n")
	fmt.Fprintf(&sb, "> State: **`%s`**\n", pull.State)

	sb.WriteString("\n")
	sb.WriteString(pull.Description)
	sb.WriteString("\n")

	return sb.String(), nil
}

// sourceLine describes the pull's source side, degrading through three
// levels of missing information.
func (r *Renderer) sourceLine(pull *models.PullRequest) string {
	branch := ""
	if pull.Source.Branch != nil {
		branch = pull.Source.Branch.Name
	}
	if pull.Source.Repository == nil && pull.Source.Commit == nil {
		return fmt.Sprintf("> Source: unknown commit on branch `%s` of an unknown repo\n", branch)
	}
	hash := ""
	if pull.Source.Commit != nil {
		hash = pull.Source.Commit.Hash
	}
	if hash == "" {
		return fmt.Sprintf("> Source: unidentified commit on branch `%s`\n", branch)
	}
	return fmt.Sprintf("> Source: https://github.com/%s/commit/%s on branch `%s`\n",
		r.mapper.Repo(r.bbRepo), hash, branch)
}

// destinationLine describes the pull's destination side. A destination
// repository other than the one being migrated is logged as an error
// but still rendered.
func (r *Renderer) destinationLine(pull *models.PullRequest) string {
	destRepo := ""
	if pull.Destination.Repository != nil {
		destRepo = pull.Destination.Repository.FullName
	}
	if destRepo != r.bbRepo {
		log.Error().Str("destination", destRepo).Str("repo", r.bbRepo).
			Msg("the destination of a pull request is not the repository being migrated")
	}

	branch := ""
	if pull.Destination.Branch != nil {
		branch = pull.Destination.Branch.Name
	}
	ghRepo := r.mapper.Repo(destRepo)
	if pull.Destination.Commit == nil || pull.Destination.Commit.Hash == "" {
		return fmt.Sprintf("> Destination: https://github.com/%s on branch %s\n", ghRepo, branch)
	}
	return fmt.Sprintf("> Destination: https://github.com/%s/commit/%s on branch `%s`\n",
		ghRepo, pull.Destination.Commit.Hash, branch)
}

// ChangeBody renders one change event as a quoted bullet list, one
// bullet per changed field. It returns "" when nothing remains to
// render, which callers must discard rather than emit.
func (r *Renderer) ChangeBody(change *models.ChangeEvent) (string, error) {
	createdOn, err := ProseDate(change.CreatedOn)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, field := range sortedFields(change.Changes) {
		// The companion "assignee" field already renders this edit.
		if field == "assignee_account_id" {
			continue
		}
		if sb.Len() == 0 {
			fmt.Fprintf(&sb, "> %s on %s:\n", r.Mention(change.User, true), createdOn)
		}
		fc := change.Changes[field]
		switch field {
		case "content":
			sb.WriteString("> * edited the description\n")
		case "title":
			sb.WriteString("> * edited the title\n")
		case "assignee":
			fmt.Fprintf(&sb, "> * changed the assignee from %s to %s\n",
				r.assigneeMention(fc.Old), r.assigneeMention(fc.New))
		default:
			fmt.Fprintf(&sb, "> * changed `%s` from `%s` to `%s`\n",
				field, orNone(fc.Old), orNone(fc.New))
		}
	}
	return sb.String(), nil
}

func (r *Renderer) assigneeMention(nickname string) string {
	if nickname == "" {
		return "(none)"
	}
	return r.Mention(&models.User{Nickname: nickname}, false)
}

// ApprovalBody renders a pull request approval as a comment body.
func (r *Renderer) ApprovalBody(approval *models.Approval) (string, error) {
	onDate, err := ProseDate(approval.Date)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("> %s approved :heavy_check_mark: the pull request on %s",
		r.Mention(approval.User, true), onDate), nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func sortedNames(attachments map[string]models.Attachment) []string {
	names := make([]string, 0, len(attachments))
	for name := range attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedFields(changes map[string]models.FieldChange) []string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
