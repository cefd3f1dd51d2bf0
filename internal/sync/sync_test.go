package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoenig/bb2gh/config"
	"github.com/tkoenig/bb2gh/internal/bitbucket"
	"github.com/tkoenig/bb2gh/internal/github"
	"github.com/tkoenig/bb2gh/internal/mapping"
	"github.com/tkoenig/bb2gh/internal/models"
	"github.com/tkoenig/bb2gh/internal/render"
)

type fakeSource struct {
	issues      []models.Issue
	pulls       map[int]*models.PullRequest
	pullCount   int
	attachments map[int]map[string]models.Attachment
	content     map[string][]byte
}

func (f *fakeSource) RepoFullName() string { return "acme/widgets" }

func (f *fakeSource) Issues(ctx context.Context) ([]models.Issue, error) {
	return f.issues, nil
}

func (f *fakeSource) Issue(ctx context.Context, id int) (*models.Issue, error) {
	for i := range f.issues {
		if f.issues[i].ID == id {
			return &f.issues[i], nil
		}
	}
	return nil, fmt.Errorf("issue %d: %w", id, bitbucket.ErrNotFound)
}

func (f *fakeSource) IssueComments(ctx context.Context, issueID int) (map[int]models.Comment, error) {
	return nil, nil
}

func (f *fakeSource) Changes(ctx context.Context, issueID int) ([]models.ChangeEvent, error) {
	return nil, nil
}

func (f *fakeSource) Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error) {
	return f.attachments[issueID], nil
}

func (f *fakeSource) AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error) {
	return f.content[name], nil
}

func (f *fakeSource) PullCount(ctx context.Context) (int, error) {
	return f.pullCount, nil
}

func (f *fakeSource) Pull(ctx context.Context, id int) (*models.PullRequest, error) {
	pull, ok := f.pulls[id]
	if !ok {
		return nil, fmt.Errorf("pull %d: %w", id, bitbucket.ErrNotFound)
	}
	return pull, nil
}

func (f *fakeSource) PullComments(ctx context.Context, pullID int) (map[int]models.Comment, error) {
	return nil, nil
}

func (f *fakeSource) Activity(ctx context.Context, pullID int) ([]models.Activity, error) {
	return nil, nil
}

type fakeTarget struct {
	items          []*github.Item
	createdIssues  int
	createdPulls   int
	updates        int
	gists          map[string]*models.Archive
	failPullCreate bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{gists: make(map[string]*models.Archive)}
}

func (f *fakeTarget) RepoFullName() string { return "acme-gh/widgets" }

func (f *fakeTarget) ExistingIssues(ctx context.Context) (map[int]*github.Item, error) {
	out := make(map[int]*github.Item)
	for _, item := range f.items {
		if !item.IsPull {
			out[item.Number] = item
		}
	}
	return out, nil
}

func (f *fakeTarget) ExistingPulls(ctx context.Context) (map[int]*github.Item, error) {
	out := make(map[int]*github.Item)
	for _, item := range f.items {
		if item.IsPull {
			out[item.Number] = item
		}
	}
	return out, nil
}

func (f *fakeTarget) add(title, body string, isPull bool) *github.Item {
	item := &github.Item{
		Number: len(f.items) + 1,
		Title:  title,
		Body:   body,
		IsPull: isPull,
	}
	f.items = append(f.items, item)
	return item
}

func (f *fakeTarget) CreateIssue(ctx context.Context, data *models.IssueData) (*github.Item, error) {
	f.createdIssues++
	return f.add(data.Title, data.Body, false), nil
}

func (f *fakeTarget) UpdateIssue(ctx context.Context, existing *github.Item, data *models.IssueData) error {
	f.updates++
	existing.Title = data.Title
	existing.Body = data.Body
	return nil
}

func (f *fakeTarget) CreatePull(ctx context.Context, data *models.PullData) (*github.Item, error) {
	if f.failPullCreate {
		return nil, fmt.Errorf("branch %q not found", data.Head)
	}
	f.createdPulls++
	return f.add(data.Title, data.Body, true), nil
}

func (f *fakeTarget) UpdatePull(ctx context.Context, existing *github.Item, data *models.PullData) error {
	f.updates++
	existing.Title = data.Title
	existing.Body = data.Body
	return nil
}

func (f *fakeTarget) CreateOrFetchGist(ctx context.Context, description string, files map[string]string) (*models.Archive, error) {
	if archive, ok := f.gists[description]; ok {
		return archive, nil
	}
	urls := make(map[string]string, len(files))
	for name := range files {
		urls[name] = "https://gist.example/raw/" + name
	}
	archive := &models.Archive{Description: description, FileURLs: urls}
	f.gists[description] = archive
	return archive, nil
}

func (f *fakeTarget) RemainingWriteQuota(ctx context.Context) (int, error) {
	return 5000, nil
}

func testMapper() *mapping.Mapper {
	return mapping.New(&config.Config{
		Users: map[string]string{"alice": "alice-gh"},
		States: map[string]string{
			"open": config.NoLabel, "resolved": config.NoLabel,
			"OPEN": config.NoLabel, "MERGED": "merged", "DECLINED": "declined",
		},
		Kinds:      map[string]string{"bug": "bug"},
		Priorities: map[string]string{"major": "major"},
		OpenStates: []string{"open", "new", "on hold", "OPEN"},
		Repos:      map[string]string{"acme/widgets": "acme-gh/widgets"},
	})
}

func newTestSyncer(src *fakeSource, dst *fakeTarget, opts Options) *Syncer {
	mapper := testMapper()
	return New(src, dst, mapper, render.New(mapper, "acme/widgets"), opts)
}

func branch(name string) *models.Branch { return &models.Branch{Name: name} }

func testPull(id int, state string, source, dest *models.Branch) *models.PullRequest {
	return &models.PullRequest{
		ID:        id,
		Title:     fmt.Sprintf("pull %d", id),
		State:     state,
		Author:    &models.User{Nickname: "alice"},
		CreatedOn: "2019-03-01T10:00:00+00:00",
		UpdatedOn: "2019-03-01T10:00:00+00:00",
		Source: models.Endpoint{
			Branch:     source,
			Commit:     &models.Commit{Hash: "abc123"},
			Repository: &models.Repository{FullName: "acme/widgets"},
		},
		Destination: models.Endpoint{
			Branch:     dest,
			Commit:     &models.Commit{Hash: "def456"},
			Repository: &models.Repository{FullName: "acme/widgets"},
		},
	}
}

func testIssue(id int) models.Issue {
	return models.Issue{
		ID:        id,
		Title:     fmt.Sprintf("issue %d", id),
		Content:   models.Content{Raw: "some problem"},
		State:     "open",
		Kind:      "bug",
		Priority:  "major",
		Reporter:  &models.User{Nickname: "alice"},
		CreatedOn: "2019-03-01T10:00:00+00:00",
		UpdatedOn: "2019-03-01T10:00:00+00:00",
	}
}

func TestRunMigratesIssuesAndPulls(t *testing.T) {
	src := &fakeSource{
		issues: []models.Issue{testIssue(1), testIssue(2)},
		pulls: map[int]*models.PullRequest{
			1: testPull(1, "OPEN", branch("feature"), branch("master")),
			2: testPull(2, "MERGED", branch("feature"), branch("master")),
		},
		pullCount: 2,
	}
	dst := newFakeTarget()

	syncer := newTestSyncer(src, dst, Options{})
	require.NoError(t, syncer.Run(context.Background()))

	// Both issues, one real pull request, and the merged pull as issue.
	assert.Equal(t, 3, dst.createdIssues)
	assert.Equal(t, 1, dst.createdPulls)
	assert.Equal(t, "[BB i#1] issue 1", dst.items[0].Title)
	assert.Equal(t, "[BB pr#1] pull 1", dst.items[2].Title)
}

func TestRunIsIdempotent(t *testing.T) {
	src := &fakeSource{
		issues: []models.Issue{testIssue(1)},
		pulls: map[int]*models.PullRequest{
			1: testPull(1, "MERGED", branch("feature"), branch("master")),
		},
		pullCount: 1,
	}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))
	first := len(dst.items)

	// A fresh syncer rebuilds its indices from the target and finds
	// everything already migrated.
	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))
	assert.Equal(t, first, len(dst.items))
	assert.Equal(t, 0, dst.updates)
}

func TestUpdateModeRewritesExistingItems(t *testing.T) {
	src := &fakeSource{issues: []models.Issue{testIssue(1)}}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))

	src.issues[0].Title = "issue 1 renamed"
	require.NoError(t, newTestSyncer(src, dst, Options{Update: true}).Run(context.Background()))

	assert.Equal(t, 1, dst.createdIssues)
	assert.Equal(t, 1, dst.updates)
	assert.Equal(t, "[BB i#1] issue 1 renamed", dst.items[0].Title)
}

func TestOpenPullWithMissingBranchBecomesIssue(t *testing.T) {
	src := &fakeSource{
		pulls: map[int]*models.PullRequest{
			1: testPull(1, "OPEN", nil, branch("master")),
		},
		pullCount: 1,
	}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))

	assert.Equal(t, 0, dst.createdPulls)
	assert.Equal(t, 1, dst.createdIssues)
	assert.False(t, dst.items[0].IsPull)
}

func TestDeletedPullBecomesPlaceholder(t *testing.T) {
	src := &fakeSource{
		pulls: map[int]*models.PullRequest{
			2: testPull(2, "MERGED", branch("feature"), branch("master")),
		},
		pullCount: 2,
	}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))

	require.Equal(t, 2, dst.createdIssues)
	assert.Equal(t, "[BB pr#1] Deleted issue #1", dst.items[0].Title)
	assert.Equal(t, "(deleted)", dst.items[0].Body)
}

func TestPullCreationFailureIsIsolated(t *testing.T) {
	src := &fakeSource{
		pulls: map[int]*models.PullRequest{
			1: testPull(1, "OPEN", branch("feature"), branch("master")),
			2: testPull(2, "MERGED", branch("feature"), branch("master")),
		},
		pullCount: 2,
	}
	dst := newFakeTarget()
	dst.failPullCreate = true

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))

	// The failed pull is logged and skipped; the merged one still lands.
	assert.Equal(t, 0, dst.createdPulls)
	assert.Equal(t, 1, dst.createdIssues)
}

func TestAttachmentArchives(t *testing.T) {
	src := &fakeSource{
		issues: []models.Issue{testIssue(1)},
		attachments: map[int]map[string]models.Attachment{
			1: {"crash.log": {Name: "crash.log"}},
		},
		content: map[string][]byte{"crash.log": []byte("stack trace")},
	}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{}).Run(context.Background()))

	require.Len(t, dst.gists, 1)
	assert.Contains(t, dst.items[0].Body,
		"[**`crash.log`**](https://gist.example/raw/crash.log)")
}

func TestSkipAttachments(t *testing.T) {
	src := &fakeSource{
		issues: []models.Issue{testIssue(1)},
		attachments: map[int]map[string]models.Attachment{
			1: {"crash.log": {Name: "crash.log"}},
		},
		content: map[string][]byte{"crash.log": []byte("stack trace")},
	}
	dst := newFakeTarget()

	require.NoError(t, newTestSyncer(src, dst, Options{SkipAttachments: true}).Run(context.Background()))

	assert.Empty(t, dst.gists)
	assert.Contains(t, dst.items[0].Body, "(missing link)")
}

func TestExplicitIDSubsets(t *testing.T) {
	src := &fakeSource{
		issues: []models.Issue{testIssue(1), testIssue(2), testIssue(3)},
		pulls: map[int]*models.PullRequest{
			1: testPull(1, "MERGED", branch("a"), branch("master")),
			2: testPull(2, "MERGED", branch("b"), branch("master")),
		},
		pullCount: 2,
	}
	dst := newFakeTarget()

	opts := Options{IssueIDs: []int{2}, PullIDs: []int{2}}
	require.NoError(t, newTestSyncer(src, dst, opts).Run(context.Background()))

	require.Len(t, dst.items, 2)
	assert.Equal(t, "[BB i#2] issue 2", dst.items[0].Title)
	assert.Equal(t, "[BB pr#2] pull 2", dst.items[1].Title)
}
