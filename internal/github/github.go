// Package github is the write side of the migration: a rate-limit aware
// GitHub client that lists existing items, creates or updates issues
// and pull requests with their comment timelines, and hosts attachment
// archives as gists.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/rs/zerolog/log"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/tkoenig/bb2gh/internal/models"
)

// Item is an existing GitHub issue or pull request, reduced to what
// correlation and updates need.
type Item struct {
	Number int
	Title  string
	Body   string
	IsPull bool
}

// Client wraps the GitHub REST and GraphQL APIs for one repository.
// Mutations go through REST; the bulk listing of existing items goes
// through GraphQL. In dry-run mode every mutating call is replaced by a
// structured log of the payload.
type Client struct {
	rest    *gh.Client
	graphql *githubv4.Client
	owner   string
	name    string
	dryRun  bool
}

// NewClient creates a client for a repository full name ("owner/name").
func NewClient(token, repo string, dryRun bool) (*Client, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repo)
	}

	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		rest:    gh.NewClient(tc),
		graphql: githubv4.NewClient(tc),
		owner:   parts[0],
		name:    parts[1],
		dryRun:  dryRun,
	}, nil
}

// RepoFullName returns the repository this client writes to.
func (c *Client) RepoFullName() string {
	return c.owner + "/" + c.name
}

// RemainingWriteQuota returns the remaining core API quota. The quota
// belongs to GitHub; the client only observes it.
func (c *Client) RemainingWriteQuota(ctx context.Context) (int, error) {
	limits, _, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limits: %w", err)
	}
	return limits.GetCore().Remaining, nil
}

// CreateIssue creates an issue with its full comment timeline and closes
// it when the payload says so. It returns nil in dry-run mode.
func (c *Client) CreateIssue(ctx context.Context, data *models.IssueData) (*Item, error) {
	if c.dryRun {
		log.Info().Str("title", data.Title).Strs("labels", data.Labels).
			Bool("closed", data.Closed).Int("comments", len(data.Comments)).
			Msg("dry run: would create issue")
		return nil, nil
	}

	req := &gh.IssueRequest{
		Title:  gh.String(data.Title),
		Body:   gh.String(data.Body),
		Labels: &data.Labels,
	}
	if data.Assignee != "" {
		req.Assignee = gh.String(data.Assignee)
	}

	issue, _, err := c.rest.Issues.Create(ctx, c.owner, c.name, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	number := issue.GetNumber()

	if err := c.appendComments(ctx, number, data.Comments); err != nil {
		return nil, err
	}

	if data.Closed {
		if err := c.setIssueState(ctx, number, "closed"); err != nil {
			return nil, err
		}
	}

	return &Item{Number: number, Title: issue.GetTitle(), Body: issue.GetBody()}, nil
}

// UpdateIssue rewrites an existing issue from the payload and appends
// the rendered comments the target does not have yet.
func (c *Client) UpdateIssue(ctx context.Context, existing *Item, data *models.IssueData) error {
	if c.dryRun {
		log.Info().Int("number", existing.Number).Str("title", data.Title).
			Msg("dry run: would update issue")
		return nil
	}

	state := "open"
	if data.Closed {
		state = "closed"
	}
	req := &gh.IssueRequest{
		Title:  gh.String(data.Title),
		Body:   gh.String(data.Body),
		Labels: &data.Labels,
		State:  gh.String(state),
	}
	if data.Assignee != "" {
		req.Assignee = gh.String(data.Assignee)
	}

	if _, _, err := c.rest.Issues.Edit(ctx, c.owner, c.name, existing.Number, req); err != nil {
		return fmt.Errorf("failed to update issue #%d: %w", existing.Number, err)
	}

	return c.appendMissingComments(ctx, existing.Number, data.Comments)
}

// CreatePull creates a pull request with labels, assignees, reviewers
// and its comment timeline. It returns nil in dry-run mode.
func (c *Client) CreatePull(ctx context.Context, data *models.PullData) (*Item, error) {
	if c.dryRun {
		log.Info().Str("title", data.Title).Str("head", data.Head).Str("base", data.Base).
			Int("comments", len(data.Comments)).Msg("dry run: would create pull request")
		return nil, nil
	}

	pull, _, err := c.rest.PullRequests.Create(ctx, c.owner, c.name, &gh.NewPullRequest{
		Title: gh.String(data.Title),
		Body:  gh.String(data.Body),
		Head:  gh.String(data.Head),
		Base:  gh.String(data.Base),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	number := pull.GetNumber()

	// Labels and assignees live on the issue side of a pull request.
	if _, _, err := c.rest.Issues.Edit(ctx, c.owner, c.name, number, &gh.IssueRequest{
		Labels:    &data.Labels,
		Assignees: &data.Assignees,
	}); err != nil {
		return nil, fmt.Errorf("failed to label pull request #%d: %w", number, err)
	}

	if len(data.Reviewers) > 0 {
		if _, _, err := c.rest.PullRequests.RequestReviewers(ctx, c.owner, c.name, number, gh.ReviewersRequest{
			Reviewers: data.Reviewers,
		}); err != nil {
			return nil, fmt.Errorf("failed to request reviewers on pull request #%d: %w", number, err)
		}
	}

	if err := c.appendComments(ctx, number, data.Comments); err != nil {
		return nil, err
	}

	if data.Closed {
		if err := c.setIssueState(ctx, number, "closed"); err != nil {
			return nil, err
		}
	}

	return &Item{Number: number, Title: pull.GetTitle(), Body: pull.GetBody(), IsPull: true}, nil
}

// UpdatePull rewrites an existing pull request from the payload and
// appends missing comments. Base and head are immutable after creation
// and left untouched.
func (c *Client) UpdatePull(ctx context.Context, existing *Item, data *models.PullData) error {
	if c.dryRun {
		log.Info().Int("number", existing.Number).Str("title", data.Title).
			Msg("dry run: would update pull request")
		return nil
	}

	state := "open"
	if data.Closed {
		state = "closed"
	}
	if _, _, err := c.rest.Issues.Edit(ctx, c.owner, c.name, existing.Number, &gh.IssueRequest{
		Title:  gh.String(data.Title),
		Body:   gh.String(data.Body),
		Labels: &data.Labels,
		State:  gh.String(state),
	}); err != nil {
		return fmt.Errorf("failed to update pull request #%d: %w", existing.Number, err)
	}

	return c.appendMissingComments(ctx, existing.Number, data.Comments)
}

// CreateOrFetchGist creates the attachment archive gist, or returns the
// existing one when a gist with the same description already exists.
// The description is the idempotency key.
func (c *Client) CreateOrFetchGist(ctx context.Context, description string, files map[string]string) (*models.Archive, error) {
	existing, err := c.findGist(ctx, description)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if c.dryRun {
		log.Info().Str("description", description).Int("files", len(files)).
			Msg("dry run: would create gist")
		return &models.Archive{Description: description, FileURLs: map[string]string{}}, nil
	}

	payload := &gh.Gist{
		Description: gh.String(description),
		Public:      gh.Bool(false),
		Files:       map[gh.GistFilename]gh.GistFile{},
	}
	for name, content := range files {
		payload.Files[gh.GistFilename(name)] = gh.GistFile{Content: gh.String(content)}
	}

	gist, _, err := c.rest.Gists.Create(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create gist: %w", err)
	}
	return archiveFromGist(gist), nil
}

// findGist scans the authenticated user's gists for one with the given
// description.
func (c *Client) findGist(ctx context.Context, description string) (*models.Archive, error) {
	opts := &gh.GistListOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		gists, resp, err := c.rest.Gists.List(ctx, "", opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list gists: %w", err)
		}
		for _, gist := range gists {
			if gist.GetDescription() == description {
				return archiveFromGist(gist), nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func archiveFromGist(gist *gh.Gist) *models.Archive {
	urls := make(map[string]string, len(gist.Files))
	for name, file := range gist.Files {
		urls[string(name)] = file.GetRawURL()
	}
	return &models.Archive{Description: gist.GetDescription(), FileURLs: urls}
}

// appendComments posts every rendered comment in order.
func (c *Client) appendComments(ctx context.Context, number int, comments []models.RenderedComment) error {
	for _, comment := range comments {
		if _, _, err := c.rest.Issues.CreateComment(ctx, c.owner, c.name, number, &gh.IssueComment{
			Body: gh.String(comment.Body),
		}); err != nil {
			return fmt.Errorf("failed to create comment on #%d: %w", number, err)
		}
	}
	return nil
}

// appendMissingComments posts the tail of the rendered timeline the
// target item does not have yet. Migrated comments are only ever
// appended, never rewritten, so the existing count is the resume point.
func (c *Client) appendMissingComments(ctx context.Context, number int, comments []models.RenderedComment) error {
	issue, _, err := c.rest.Issues.Get(ctx, c.owner, c.name, number)
	if err != nil {
		return fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	have := issue.GetComments()
	if have >= len(comments) {
		return nil
	}
	return c.appendComments(ctx, number, comments[have:])
}

func (c *Client) setIssueState(ctx context.Context, number int, state string) error {
	if _, _, err := c.rest.Issues.Edit(ctx, c.owner, c.name, number, &gh.IssueRequest{
		State: gh.String(state),
	}); err != nil {
		return fmt.Errorf("failed to set state of #%d: %w", number, err)
	}
	return nil
}
