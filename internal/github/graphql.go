package github

import (
	"context"
	"fmt"

	"github.com/shurcooL/githubv4"
)

// itemNode carries the fields correlation needs from one GraphQL node.
type itemNode struct {
	Number githubv4.Int
	Title  githubv4.String
	Body   githubv4.String
}

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage githubv4.Boolean
}

// ExistingIssues lists every issue of the target repository, keyed by
// number. GraphQL keeps this to a handful of requests even for large
// repositories, where the REST listing would page through every body.
func (c *Client) ExistingIssues(ctx context.Context) (map[int]*Item, error) {
	var q struct {
		Repository struct {
			Issues struct {
				Nodes    []itemNode
				PageInfo pageInfo
			} `graphql:"issues(first: 100, after: $cursor, states: [OPEN, CLOSED])"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	items := make(map[int]*Item)
	vars := map[string]interface{}{
		"owner":  githubv4.String(c.owner),
		"name":   githubv4.String(c.name),
		"cursor": (*githubv4.String)(nil),
	}
	for {
		if err := c.graphql.Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("failed to list existing issues: %w", err)
		}
		for _, node := range q.Repository.Issues.Nodes {
			items[int(node.Number)] = &Item{
				Number: int(node.Number),
				Title:  string(node.Title),
				Body:   string(node.Body),
			}
		}
		if !q.Repository.Issues.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(q.Repository.Issues.PageInfo.EndCursor)
	}
	return items, nil
}

// ExistingPulls lists every pull request of the target repository,
// keyed by number.
func (c *Client) ExistingPulls(ctx context.Context) (map[int]*Item, error) {
	var q struct {
		Repository struct {
			PullRequests struct {
				Nodes    []itemNode
				PageInfo pageInfo
			} `graphql:"pullRequests(first: 100, after: $cursor, states: [OPEN, CLOSED, MERGED])"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	items := make(map[int]*Item)
	vars := map[string]interface{}{
		"owner":  githubv4.String(c.owner),
		"name":   githubv4.String(c.name),
		"cursor": (*githubv4.String)(nil),
	}
	for {
		if err := c.graphql.Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("failed to list existing pull requests: %w", err)
		}
		for _, node := range q.Repository.PullRequests.Nodes {
			items[int(node.Number)] = &Item{
				Number: int(node.Number),
				Title:  string(node.Title),
				Body:   string(node.Body),
				IsPull: true,
			}
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(q.Repository.PullRequests.PageInfo.EndCursor)
	}
	return items, nil
}
