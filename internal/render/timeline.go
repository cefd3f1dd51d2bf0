package render

import (
	"sort"

	"github.com/tkoenig/bb2gh/internal/models"
)

// CommentStream renders the plain comment sub-stream. Deleted comments
// and comments with an empty body are filtered out. Comments are
// visited in ascending id order so the merge tie-break is stable.
func (r *Renderer) CommentStream(comments map[int]models.Comment) ([]models.RenderedComment, error) {
	ids := make([]int, 0, len(comments))
	for id := range comments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]models.RenderedComment, 0, len(comments))
	for _, id := range ids {
		c := comments[id]
		if c.Deleted || c.Content.Raw == "" {
			continue
		}
		body, err := r.CommentBody(&c)
		if err != nil {
			return nil, err
		}
		createdAt, err := ISODate(c.CreatedOn)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RenderedComment{Body: body, CreatedAt: createdAt})
	}
	return out, nil
}

// ChangeStream renders the change-event sub-stream. Events that yield
// no prose after field suppression are discarded.
func (r *Renderer) ChangeStream(changes []models.ChangeEvent) ([]models.RenderedComment, error) {
	out := make([]models.RenderedComment, 0, len(changes))
	for i := range changes {
		body, err := r.ChangeBody(&changes[i])
		if err != nil {
			return nil, err
		}
		if body == "" {
			continue
		}
		createdAt, err := ISODate(changes[i].CreatedOn)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RenderedComment{Body: body, CreatedAt: createdAt})
	}
	return out, nil
}

// ActivityStream renders the activity sub-stream. Only approval
// activity becomes a comment; every other kind is ignored.
func (r *Renderer) ActivityStream(activity []models.Activity) ([]models.RenderedComment, error) {
	var out []models.RenderedComment
	for i := range activity {
		approval := activity[i].Approval
		if approval == nil {
			continue
		}
		body, err := r.ApprovalBody(approval)
		if err != nil {
			return nil, err
		}
		createdAt, err := ISODate(approval.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, models.RenderedComment{Body: body, CreatedAt: createdAt})
	}
	return out, nil
}

// MergeTimeline concatenates independently rendered sub-streams and
// stably sorts them by creation timestamp, so ties keep the order the
// streams were passed in.
func MergeTimeline(streams ...[]models.RenderedComment) []models.RenderedComment {
	var merged []models.RenderedComment
	for _, s := range streams {
		merged = append(merged, s...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged
}
