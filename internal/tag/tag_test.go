package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIssueTag(t *testing.T) {
	issueID, pullID := Extract("[BB i#42] Crash on startup", "body text")
	assert.Equal(t, 42, issueID)
	assert.Equal(t, 0, pullID)
}

func TestExtractPullTag(t *testing.T) {
	issueID, pullID := Extract("[BB pr#7] Fix the build")
	assert.Equal(t, 0, issueID)
	assert.Equal(t, 7, pullID)
}

func TestExtractAnchoredAtStart(t *testing.T) {
	issueID, pullID := Extract("see [BB i#42] for details")
	assert.Equal(t, 0, issueID)
	assert.Equal(t, 0, pullID)
}

func TestExtractFromBody(t *testing.T) {
	issueID, _ := Extract("untagged title", "[BB i#9] migrated body")
	assert.Equal(t, 9, issueID)
}

func TestExtractLastMatchWins(t *testing.T) {
	issueID, _ := Extract("[BB i#1] first", "[BB i#2] second")
	assert.Equal(t, 2, issueID)
}

func TestRoundTrip(t *testing.T) {
	issueID, pullID := Extract(IssueTitle(13, "some title"))
	assert.Equal(t, 13, issueID)
	assert.Equal(t, 0, pullID)

	issueID, pullID = Extract(PullTitle(13, "some title"))
	assert.Equal(t, 0, issueID)
	assert.Equal(t, 13, pullID)
}
