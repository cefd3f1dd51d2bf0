// Package tag implements the correlation tag embedded in migrated GitHub
// titles. The tag is the system of record linking a GitHub item back to
// its Bitbucket origin, so its format must stay stable across versions.
package tag

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	issueRe = regexp.MustCompile(`^\[BB i#(\d+)]`)
	pullRe  = regexp.MustCompile(`^\[BB pr#(\d+)]`)
)

// ForIssue renders the correlation tag for a Bitbucket issue id.
func ForIssue(id int) string {
	return fmt.Sprintf("[BB i#%d]", id)
}

// ForPull renders the correlation tag for a Bitbucket pull request id.
func ForPull(id int) string {
	return fmt.Sprintf("[BB pr#%d]", id)
}

// IssueTitle prefixes a Bitbucket issue title with its correlation tag.
func IssueTitle(id int, title string) string {
	return ForIssue(id) + " " + title
}

// PullTitle prefixes a Bitbucket pull request title with its correlation tag.
func PullTitle(id int, title string) string {
	return ForPull(id) + " " + title
}

// Extract scans the given texts (typically a GitHub item's title and
// body) for correlation tags anchored at the start of the text. It
// returns the Bitbucket issue id and pull request id found, 0 meaning
// no match. When several texts match the same pattern the last match
// wins.
func Extract(texts ...string) (issueID, pullID int) {
	for _, text := range texts {
		if m := issueRe.FindStringSubmatch(text); m != nil {
			issueID, _ = strconv.Atoi(m[1])
		}
		if m := pullRe.FindStringSubmatch(text); m != nil {
			pullID, _ = strconv.Atoi(m[1])
		}
	}
	return issueID, pullID
}
