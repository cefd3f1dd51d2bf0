package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoenig/bb2gh/internal/models"
)

func TestCommentStreamFiltersAndOrders(t *testing.T) {
	r := testRenderer()

	comments := map[int]models.Comment{
		3: {ID: 3, Content: models.Content{Raw: "third"}, CreatedOn: "2019-03-03T10:00:00+00:00"},
		1: {ID: 1, Content: models.Content{Raw: "first"}, CreatedOn: "2019-03-01T10:00:00+00:00"},
		2: {ID: 2, Content: models.Content{Raw: ""}, CreatedOn: "2019-03-02T10:00:00+00:00"},
		4: {ID: 4, Content: models.Content{Raw: "gone"}, Deleted: true, CreatedOn: "2019-03-04T10:00:00+00:00"},
	}

	stream, err := r.CommentStream(comments)
	require.NoError(t, err)
	require.Len(t, stream, 2)
	assert.Contains(t, stream[0].Body, "first")
	assert.Contains(t, stream[1].Body, "third")
	assert.Equal(t, "2019-03-01T10:00:00Z", stream[0].CreatedAt)
}

func TestChangeStreamDiscardsEmptyEvents(t *testing.T) {
	r := testRenderer()

	changes := []models.ChangeEvent{
		{
			ID:        1,
			CreatedOn: "2019-03-01T10:00:00+00:00",
			Changes:   map[string]models.FieldChange{"assignee_account_id": {New: "x"}},
		},
		{
			ID:        2,
			CreatedOn: "2019-03-02T10:00:00+00:00",
			Changes:   map[string]models.FieldChange{"title": {Old: "a", New: "b"}},
		},
	}

	stream, err := r.ChangeStream(changes)
	require.NoError(t, err)
	require.Len(t, stream, 1)
	assert.Contains(t, stream[0].Body, "edited the title")
}

func TestActivityStreamKeepsOnlyApprovals(t *testing.T) {
	r := testRenderer()

	activity := []models.Activity{
		{},
		{Approval: &models.Approval{User: &models.User{Nickname: "bob"}, Date: "2019-03-02T10:00:00+00:00"}},
		{},
	}

	stream, err := r.ActivityStream(activity)
	require.NoError(t, err)
	require.Len(t, stream, 1)
	assert.Contains(t, stream[0].Body, "approved")
	assert.Equal(t, "2019-03-02T10:00:00Z", stream[0].CreatedAt)
}

func TestMergeTimelineOrdersByTimestamp(t *testing.T) {
	comments := []models.RenderedComment{
		{Body: "c1", CreatedAt: "2019-03-01T10:00:00Z"},
		{Body: "c3", CreatedAt: "2019-03-03T10:00:00Z"},
	}
	changes := []models.RenderedComment{
		{Body: "e2", CreatedAt: "2019-03-02T10:00:00Z"},
	}

	merged := MergeTimeline(comments, changes)
	require.Len(t, merged, 3)
	assert.Equal(t, "c1", merged[0].Body)
	assert.Equal(t, "e2", merged[1].Body)
	assert.Equal(t, "c3", merged[2].Body)
}

func TestMergeTimelineTieBreakFollowsStreamOrder(t *testing.T) {
	ts := "2019-03-01T10:00:00Z"
	comments := []models.RenderedComment{{Body: "comment", CreatedAt: ts}}
	changes := []models.RenderedComment{{Body: "change", CreatedAt: ts}}
	activity := []models.RenderedComment{{Body: "approval", CreatedAt: ts}}

	merged := MergeTimeline(comments, changes, activity)
	require.Len(t, merged, 3)
	assert.Equal(t, "comment", merged[0].Body)
	assert.Equal(t, "change", merged[1].Body)
	assert.Equal(t, "approval", merged[2].Body)
}
