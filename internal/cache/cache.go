// Package cache is a sqlite-backed read-through cache in front of the
// Bitbucket client. Migrations over large repositories are re-run many
// times while tuning the configuration; the cache makes every run after
// the first read from disk instead of the network.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tkoenig/bb2gh/internal/bitbucket"
	"github.com/tkoenig/bb2gh/internal/models"
)

// Cache wraps a Bitbucket client and persists its responses.
type Cache struct {
	db  *sql.DB
	src *bitbucket.Client
}

// notFoundMarker is stored in place of a payload for lookups that came
// back 404, so repeated runs do not retry known-deleted records.
const notFoundMarker = "\x00not-found"

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, src *bitbucket.Client) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		repository TEXT NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		payload BLOB NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (repository, kind, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Cache{db: db, src: src}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// RepoFullName returns the wrapped client's repository slug.
func (c *Cache) RepoFullName() string {
	return c.src.RepoFullName()
}

func (c *Cache) lookup(kind, key string) ([]byte, bool, error) {
	var payload []byte
	query := `SELECT payload FROM responses WHERE repository = ? AND kind = ? AND key = ?`
	err := c.db.QueryRow(query, c.src.RepoFullName(), kind, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	return payload, true, nil
}

func (c *Cache) store(kind, key string, payload []byte) error {
	query := `
	INSERT INTO responses (repository, kind, key, payload, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(repository, kind, key) DO UPDATE SET
		payload = excluded.payload,
		fetched_at = excluded.fetched_at
	`
	_, err := c.db.Exec(query, c.src.RepoFullName(), kind, key, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// through serves one logical lookup: cached payload when present,
// otherwise the fetch result, stored before it is returned. A cached
// not-found marker is replayed as bitbucket.ErrNotFound.
func through[T any](c *Cache, kind, key string, fetch func() (T, error)) (T, error) {
	var zero T

	payload, ok, err := c.lookup(kind, key)
	if err != nil {
		return zero, err
	}
	if ok {
		if string(payload) == notFoundMarker {
			return zero, fmt.Errorf("%s %s: %w", kind, key, bitbucket.ErrNotFound)
		}
		var value T
		if err := json.Unmarshal(payload, &value); err != nil {
			return zero, fmt.Errorf("failed to decode cached %s %s: %w", kind, key, err)
		}
		return value, nil
	}

	value, err := fetch()
	if err != nil {
		if errors.Is(err, bitbucket.ErrNotFound) {
			if serr := c.store(kind, key, []byte(notFoundMarker)); serr != nil {
				return zero, serr
			}
		}
		return zero, err
	}

	payload, err = json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s %s: %w", kind, key, err)
	}
	if err := c.store(kind, key, payload); err != nil {
		return zero, err
	}
	return value, nil
}

// Issues lists all issues, served from cache after the first run.
func (c *Cache) Issues(ctx context.Context) ([]models.Issue, error) {
	return through(c, "issues", "all", func() ([]models.Issue, error) {
		return c.src.Issues(ctx)
	})
}

// Issue fetches a single issue.
func (c *Cache) Issue(ctx context.Context, id int) (*models.Issue, error) {
	return through(c, "issue", strconv.Itoa(id), func() (*models.Issue, error) {
		return c.src.Issue(ctx, id)
	})
}

// IssueComments fetches the comments of an issue.
func (c *Cache) IssueComments(ctx context.Context, issueID int) (map[int]models.Comment, error) {
	return through(c, "issue-comments", strconv.Itoa(issueID), func() (map[int]models.Comment, error) {
		return c.src.IssueComments(ctx, issueID)
	})
}

// Changes fetches the change events of an issue.
func (c *Cache) Changes(ctx context.Context, issueID int) ([]models.ChangeEvent, error) {
	return through(c, "changes", strconv.Itoa(issueID), func() ([]models.ChangeEvent, error) {
		return c.src.Changes(ctx, issueID)
	})
}

// Attachments fetches the attachment metadata of an issue.
func (c *Cache) Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error) {
	return through(c, "attachments", strconv.Itoa(issueID), func() (map[string]models.Attachment, error) {
		return c.src.Attachments(ctx, issueID)
	})
}

// AttachmentBytes fetches the raw content of one attachment.
func (c *Cache) AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error) {
	key := strconv.Itoa(issueID) + "/" + name
	return through(c, "attachment-bytes", key, func() ([]byte, error) {
		return c.src.AttachmentBytes(ctx, issueID, name)
	})
}

// PullCount fetches the total number of pull requests ever opened.
func (c *Cache) PullCount(ctx context.Context) (int, error) {
	return through(c, "pull-count", "all", func() (int, error) {
		return c.src.PullCount(ctx)
	})
}

// Pull fetches a single pull request. Deleted pulls are cached as
// not-found and replayed as such.
func (c *Cache) Pull(ctx context.Context, id int) (*models.PullRequest, error) {
	return through(c, "pull", strconv.Itoa(id), func() (*models.PullRequest, error) {
		return c.src.Pull(ctx, id)
	})
}

// PullComments fetches the comments of a pull request.
func (c *Cache) PullComments(ctx context.Context, pullID int) (map[int]models.Comment, error) {
	return through(c, "pull-comments", strconv.Itoa(pullID), func() (map[int]models.Comment, error) {
		return c.src.PullComments(ctx, pullID)
	})
}

// Activity fetches the activity log of a pull request.
func (c *Cache) Activity(ctx context.Context, pullID int) ([]models.Activity, error) {
	return through(c, "activity", strconv.Itoa(pullID), func() ([]models.Activity, error) {
		return c.src.Activity(ctx, pullID)
	})
}
