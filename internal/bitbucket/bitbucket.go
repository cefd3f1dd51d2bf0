// Package bitbucket provides read access to the Bitbucket cloud API for
// one repository: issues, pull requests, comments, change events,
// activity and attachment content.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tkoenig/bb2gh/internal/models"
)

const apiBase = "https://api.bitbucket.org/2.0/repositories/"

// pullStatesQuery matches the lifecycle states the migration covers.
const pullStatesQuery = "?state=MERGED&state=SUPERSEDED&state=OPEN&state=DECLINED"

// ErrNotFound marks a definitive 404 from Bitbucket. Callers decide
// whether that means "feature disabled" or "record deleted".
var ErrNotFound = errors.New("not found")

// retryAttempts bounds how often a single request is retried on
// transient server errors.
const retryAttempts = 10

// Client is a rate-limited, retrying Bitbucket API client for one
// repository.
type Client struct {
	repo        string
	username    string
	appPassword string
	httpClient  *http.Client
	limiter     *rate.Limiter
	repoURL     string
}

// New creates a client for a repository full name ("workspace/slug").
// Credentials may be empty for public repositories.
func New(repo, username, appPassword string) *Client {
	return &Client{
		repo:        repo,
		username:    username,
		appPassword: appPassword,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 5),
		repoURL:     apiBase + repo,
	}
}

// NewForTesting creates a client pointed at a test server.
func NewForTesting(repo, baseURL string) *Client {
	c := New(repo, "", "")
	c.repoURL = baseURL + "/" + repo
	return c
}

// RepoFullName returns the repository this client reads from.
func (c *Client) RepoFullName() string {
	return c.repo
}

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	return backoff.WithMaxRetries(bo, retryAttempts-1)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// get fetches a URL with rate limiting and transient-error retry. A 404
// yields ErrNotFound; any other non-200 status is a permanent error.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.appPassword)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s: %w", url, ErrNotFound))
		case retryableStatus(resp.StatusCode):
			return fmt.Errorf("request to %s failed with status %s", url, resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("request to %s failed with status %s", url, resp.Status))
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(newRetryBackoff(), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// page is the envelope of Bitbucket's cursor pagination protocol.
type page struct {
	Values []json.RawMessage `json:"values"`
	Next   string            `json:"next"`
	Size   int               `json:"size"`
}

// paginated follows the "next" cursor until exhausted and decodes every
// value into T.
func paginated[T any](ctx context.Context, c *Client, url string) ([]T, error) {
	var out []T
	next := url
	for next != "" {
		var p page
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}
		for _, raw := range p.Values {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("failed to decode page value: %w", err)
			}
			out = append(out, v)
		}
		next = p.Next
	}
	return out, nil
}

// Issues lists all issues of the repository in ascending id order. A
// 404 means the issue tracker is disabled and yields an empty list.
func (c *Client) Issues(ctx context.Context) ([]models.Issue, error) {
	log.Info().Str("repo", c.repo).Msg("fetching all bitbucket issues")
	issues, err := paginated[models.Issue](ctx, c, c.repoURL+"/issues")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info().Str("repo", c.repo).Msg("issues not activated for this repo, skipping")
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	return issues, nil
}

// Issue fetches one issue by id.
func (c *Client) Issue(ctx context.Context, id int) (*models.Issue, error) {
	var issue models.Issue
	if err := c.getJSON(ctx, fmt.Sprintf("%s/issues/%d", c.repoURL, id), &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// IssueComments returns an issue's comments keyed by comment id.
func (c *Client) IssueComments(ctx context.Context, issueID int) (map[int]models.Comment, error) {
	return c.comments(ctx, fmt.Sprintf("%s/issues/%d/comments", c.repoURL, issueID))
}

// PullComments returns a pull request's comments keyed by comment id.
func (c *Client) PullComments(ctx context.Context, pullID int) (map[int]models.Comment, error) {
	return c.comments(ctx, fmt.Sprintf("%s/pullrequests/%d/comments", c.repoURL, pullID))
}

// comments pages through a comment listing. The list payload carries
// incomplete inline data, so inline comments are re-fetched through
// their self link before being returned.
func (c *Client) comments(ctx context.Context, url string) (map[int]models.Comment, error) {
	list, err := paginated[models.Comment](ctx, c, url)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]models.Comment, len(list))
	for _, comment := range list {
		if comment.Inline != nil && comment.Links.Self.Href != "" {
			var detailed models.Comment
			if err := c.getJSON(ctx, comment.Links.Self.Href, &detailed); err != nil {
				return nil, fmt.Errorf("failed to fetch detailed comment %d: %w", comment.ID, err)
			}
			comment = detailed
		}
		byID[comment.ID] = comment
	}
	return byID, nil
}

// Changes returns an issue's change events in ascending id order.
func (c *Client) Changes(ctx context.Context, issueID int) ([]models.ChangeEvent, error) {
	changes, err := paginated[models.ChangeEvent](ctx, c, fmt.Sprintf("%s/issues/%d/changes", c.repoURL, issueID))
	if err != nil {
		return nil, err
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes, nil
}

// Attachments returns an issue's attachment metadata keyed by name.
func (c *Client) Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error) {
	list, err := paginated[models.Attachment](ctx, c, fmt.Sprintf("%s/issues/%d/attachments", c.repoURL, issueID))
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.Attachment, len(list))
	for _, a := range list {
		byName[a.Name] = a
	}
	return byName, nil
}

// AttachmentBytes downloads the content of one attachment.
func (c *Client) AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error) {
	return c.get(ctx, fmt.Sprintf("%s/issues/%d/attachments/%s", c.repoURL, issueID, name))
}

// PullCount returns the number of pull requests in the covered states.
func (c *Client) PullCount(ctx context.Context) (int, error) {
	var p page
	if err := c.getJSON(ctx, c.repoURL+"/pullrequests"+pullStatesQuery, &p); err != nil {
		return 0, err
	}
	return p.Size, nil
}

// Pull fetches one detailed pull request by id. Deleted pulls yield
// ErrNotFound.
func (c *Client) Pull(ctx context.Context, id int) (*models.PullRequest, error) {
	var pull models.PullRequest
	if err := c.getJSON(ctx, fmt.Sprintf("%s/pullrequests/%d", c.repoURL, id), &pull); err != nil {
		return nil, err
	}
	return &pull, nil
}

// Activity returns a pull request's activity stream.
func (c *Client) Activity(ctx context.Context, pullID int) ([]models.Activity, error) {
	return paginated[models.Activity](ctx, c, fmt.Sprintf("%s/pullrequests/%d/activity", c.repoURL, pullID))
}
