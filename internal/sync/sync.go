// Package sync drives the migration: it correlates Bitbucket records
// with existing GitHub items through embedded title tags and performs
// idempotent create-or-update writes, one record at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkoenig/bb2gh/internal/bitbucket"
	"github.com/tkoenig/bb2gh/internal/bundle"
	"github.com/tkoenig/bb2gh/internal/github"
	"github.com/tkoenig/bb2gh/internal/mapping"
	"github.com/tkoenig/bb2gh/internal/models"
	"github.com/tkoenig/bb2gh/internal/render"
	"github.com/tkoenig/bb2gh/internal/tag"
)

// Source is the read capability the orchestrator depends on. It is an
// interface so the per-record detail fan-out can be served by a caching
// implementation without touching orchestration logic.
type Source interface {
	RepoFullName() string
	Issues(ctx context.Context) ([]models.Issue, error)
	Issue(ctx context.Context, id int) (*models.Issue, error)
	IssueComments(ctx context.Context, issueID int) (map[int]models.Comment, error)
	Changes(ctx context.Context, issueID int) ([]models.ChangeEvent, error)
	Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error)
	AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error)
	PullCount(ctx context.Context) (int, error)
	Pull(ctx context.Context, id int) (*models.PullRequest, error)
	PullComments(ctx context.Context, pullID int) (map[int]models.Comment, error)
	Activity(ctx context.Context, pullID int) ([]models.Activity, error)
}

// Target is the write capability of the migration.
type Target interface {
	RepoFullName() string
	ExistingIssues(ctx context.Context) (map[int]*github.Item, error)
	ExistingPulls(ctx context.Context) (map[int]*github.Item, error)
	CreateIssue(ctx context.Context, data *models.IssueData) (*github.Item, error)
	UpdateIssue(ctx context.Context, existing *github.Item, data *models.IssueData) error
	CreatePull(ctx context.Context, data *models.PullData) (*github.Item, error)
	UpdatePull(ctx context.Context, existing *github.Item, data *models.PullData) error
	CreateOrFetchGist(ctx context.Context, description string, files map[string]string) (*models.Archive, error)
	RemainingWriteQuota(ctx context.Context) (int, error)
}

// Options are the run parameters handed in by the CLI layer.
type Options struct {
	// SkipAttachments disables the attachment pre-pass.
	SkipAttachments bool
	// Update enables updating already migrated items; otherwise they
	// are skipped.
	Update bool
	// IssueIDs and PullIDs, when non-empty, restrict the run to those
	// records in the given order and skip the bulk listing.
	IssueIDs []int
	PullIDs  []int
}

// Syncer migrates one Bitbucket repository to one GitHub repository.
type Syncer struct {
	src    Source
	dst    Target
	mapper *mapping.Mapper
	render *render.Renderer
	opts   Options

	// Correlation indices, built once per run from target-side state.
	issueIndex map[int]*github.Item
	pullIndex  map[int]*github.Item

	// archives maps a source issue id to the gist hosting its
	// attachments, shared by every record referencing the issue.
	archives map[int]*models.Archive
}

// New creates a syncer.
func New(src Source, dst Target, mapper *mapping.Mapper, renderer *render.Renderer, opts Options) *Syncer {
	return &Syncer{
		src:        src,
		dst:        dst,
		mapper:     mapper,
		render:     renderer,
		opts:       opts,
		issueIndex: make(map[int]*github.Item),
		pullIndex:  make(map[int]*github.Item),
		archives:   make(map[int]*models.Archive),
	}
}

// Run migrates the repository: correlation index build, attachment
// pre-pass, issue pass, pull request pass. Re-running over an unchanged
// corpus performs no additional creations.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.buildIndices(ctx); err != nil {
		return err
	}

	issues, err := s.sourceIssues(ctx)
	if err != nil {
		return err
	}

	if s.opts.SkipAttachments {
		log.Warn().Msg("migration of bitbucket attachments has been skipped")
	} else {
		if err := s.migrateAttachments(ctx, issues); err != nil {
			return err
		}
	}

	if err := s.migrateIssues(ctx, issues); err != nil {
		return err
	}
	return s.migratePulls(ctx)
}

// buildIndices lists all existing target items and extracts their
// source ids from the embedded title tags.
func (s *Syncer) buildIndices(ctx context.Context) error {
	issues, err := s.dst.ExistingIssues(ctx)
	if err != nil {
		return err
	}
	for _, item := range issues {
		issueID, pullID := tag.Extract(item.Title, item.Body)
		if issueID != 0 && pullID != 0 {
			log.Warn().Int("number", item.Number).
				Msg("target item carries both an issue and a pull request tag")
		}
		if issueID != 0 {
			s.issueIndex[issueID] = item
		}
		if pullID != 0 {
			s.pullIndex[pullID] = item
		}
	}

	pulls, err := s.dst.ExistingPulls(ctx)
	if err != nil {
		return err
	}
	for _, item := range pulls {
		_, pullID := tag.Extract(item.Title, item.Body)
		if pullID != 0 {
			s.pullIndex[pullID] = item
		}
	}

	log.Info().Int("issues", len(s.issueIndex)).Int("pulls", len(s.pullIndex)).
		Msg("correlated existing github items")
	return nil
}

// sourceIssues fetches the issues to visit: the explicit subset when
// one was given, otherwise the full listing.
func (s *Syncer) sourceIssues(ctx context.Context) ([]models.Issue, error) {
	if len(s.opts.IssueIDs) > 0 {
		issues := make([]models.Issue, 0, len(s.opts.IssueIDs))
		for _, id := range s.opts.IssueIDs {
			issue, err := s.src.Issue(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch issue #%d: %w", id, err)
			}
			issues = append(issues, *issue)
		}
		return issues, nil
	}
	return s.src.Issues(ctx)
}

// migrateAttachments is the pre-pass creating one gist per issue that
// owns attachments. The gist description is the idempotency key, so
// re-runs reuse the archive instead of duplicating it.
func (s *Syncer) migrateAttachments(ctx context.Context, issues []models.Issue) error {
	log.Info().Msg("migrating bitbucket attachments to github")
	for i := range issues {
		issueID := issues[i].ID
		description, files, err := bundle.Build(ctx, s.src, s.src.RepoFullName(), s.dst.RepoFullName(), issueID)
		if err != nil {
			return err
		}
		if files == nil {
			continue
		}
		s.pauseOnLowQuota(ctx)
		archive, err := s.dst.CreateOrFetchGist(ctx, description, files)
		if err != nil {
			return fmt.Errorf("failed to create attachment archive for issue #%d: %w", issueID, err)
		}
		s.archives[issueID] = archive
	}
	return nil
}

// migrateIssues performs the create-or-update pass over source issues.
func (s *Syncer) migrateIssues(ctx context.Context, issues []models.Issue) error {
	log.Info().Msg("transferring bitbucket issues")
	for i := range issues {
		issue := &issues[i]
		s.pauseOnLowQuota(ctx)

		existing := s.issueIndex[issue.ID]
		switch {
		case existing != nil && s.opts.Update:
			log.Info().Int("github", existing.Number).Int("bitbucket", issue.ID).
				Msg("updating github issue from bitbucket issue")
			data, err := s.issueData(ctx, issue)
			if err != nil {
				return err
			}
			if err := s.dst.UpdateIssue(ctx, existing, data); err != nil {
				return err
			}
		case existing != nil:
			log.Info().Int("github", existing.Number).Int("bitbucket", issue.ID).
				Msg("skipping update of already migrated issue")
		default:
			log.Info().Int("bitbucket", issue.ID).Msg("creating github issue from bitbucket issue")
			data, err := s.issueData(ctx, issue)
			if err != nil {
				return err
			}
			item, err := s.dst.CreateIssue(ctx, data)
			if err != nil {
				return err
			}
			if item != nil {
				s.issueIndex[issue.ID] = item
			}
		}
	}
	return nil
}

// migratePulls performs the pull request pass. Pull requests are
// fetched one by one; a 404 means the pull was deleted and yields a
// closed placeholder issue so the record set stays dense.
func (s *Syncer) migratePulls(ctx context.Context) error {
	log.Info().Msg("transferring bitbucket pull requests")

	ids := s.opts.PullIDs
	if len(ids) == 0 {
		count, err := s.src.PullCount(ctx)
		if err != nil {
			return err
		}
		for id := 1; id <= count; id++ {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		s.pauseOnLowQuota(ctx)

		pull, err := s.src.Pull(ctx, id)
		if errors.Is(err, bitbucket.ErrNotFound) {
			if err := s.migrateDeletedPull(ctx, id); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to fetch pull request #%d: %w", id, err)
		}

		if err := s.migratePull(ctx, pull); err != nil {
			return err
		}
	}
	return nil
}

// migratePull migrates one pull request, applying the shape rule: only
// an open pull with both branches resolvable becomes a github pull
// request; everything else becomes an issue.
func (s *Syncer) migratePull(ctx context.Context, pull *models.PullRequest) error {
	existing := s.pullIndex[pull.ID]

	// The target shape is immutable once created; updates follow the
	// existing item's type and the shape rule only governs creation.
	if existing != nil {
		if !s.opts.Update {
			log.Info().Int("github", existing.Number).Int("bitbucket", pull.ID).
				Msg("skipping update of already migrated pull request")
			return nil
		}
		if existing.IsPull {
			log.Info().Int("github", existing.Number).Int("bitbucket", pull.ID).
				Msg("updating github pull request from bitbucket pull request")
			data, err := s.pullData(ctx, pull)
			if err != nil {
				return err
			}
			return s.dst.UpdatePull(ctx, existing, data)
		}
		log.Info().Int("github", existing.Number).Int("bitbucket", pull.ID).
			Msg("updating github issue from bitbucket pull request")
		data, err := s.pullAsIssueData(ctx, pull)
		if err != nil {
			return err
		}
		return s.dst.UpdateIssue(ctx, existing, data)
	}

	if s.mapsToPull(pull) {
		log.Info().Int("bitbucket", pull.ID).Msg("creating github pull request from bitbucket pull request")
		data, err := s.pullData(ctx, pull)
		if err != nil {
			return err
		}
		// Pull request creation is the riskiest write (branches may
		// have diverged or vanished since the export), so failures are
		// isolated and the batch keeps moving.
		item, err := s.dst.CreatePull(ctx, data)
		if err != nil {
			log.Error().Err(err).Int("bitbucket", pull.ID).
				Msg("problem creating github pull request from bitbucket pull request")
			return nil
		}
		if item != nil {
			s.pullIndex[pull.ID] = item
		}
		return nil
	}

	log.Info().Int("bitbucket", pull.ID).Msg("creating github issue from bitbucket pull request")
	data, err := s.pullAsIssueData(ctx, pull)
	if err != nil {
		return err
	}
	item, err := s.dst.CreateIssue(ctx, data)
	if err != nil {
		return err
	}
	if item != nil {
		s.pullIndex[pull.ID] = item
	}
	return nil
}

// mapsToPull reports whether a source pull request becomes a target
// pull request. A nominally open pull with an unresolvable branch is
// downgraded to an issue with a warning.
func (s *Syncer) mapsToPull(pull *models.PullRequest) bool {
	if s.mapper.Closed(pull.State) {
		return false
	}
	if branchName(pull.Source.Branch) == "" || branchName(pull.Destination.Branch) == "" {
		log.Warn().Int("bitbucket", pull.ID).
			Msg("pull request is open but the source or destination branch does not exist; consider closing it")
		return false
	}
	return true
}

func branchName(b *models.Branch) string {
	if b == nil {
		return ""
	}
	return b.Name
}

// migrateDeletedPull writes the closed placeholder standing in for a
// deleted pull request.
func (s *Syncer) migrateDeletedPull(ctx context.Context, id int) error {
	data := &models.IssueData{
		Title:     tag.PullTitle(id, fmt.Sprintf("Deleted issue #%d", id)),
		Body:      "(deleted)",
		CreatedAt: "2020-01-01T12:00:00Z",
		UpdatedAt: "2020-01-01T12:00:00Z",
		Closed:    true,
		Labels:    []string{"pull request"},
	}

	existing := s.pullIndex[id]
	switch {
	case existing != nil && s.opts.Update:
		return s.dst.UpdateIssue(ctx, existing, data)
	case existing != nil:
		log.Info().Int("github", existing.Number).Int("bitbucket", id).
			Msg("skipping update of already migrated deleted pull request")
		return nil
	default:
		log.Info().Int("bitbucket", id).Msg("creating placeholder issue for deleted bitbucket pull request")
		item, err := s.dst.CreateIssue(ctx, data)
		if err != nil {
			return err
		}
		if item != nil {
			s.pullIndex[id] = item
		}
		return nil
	}
}

// issueData assembles the full target payload for a source issue.
func (s *Syncer) issueData(ctx context.Context, issue *models.Issue) (*models.IssueData, error) {
	attachments, err := s.src.Attachments(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	comments, err := s.src.IssueComments(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	changes, err := s.src.Changes(ctx, issue.ID)
	if err != nil {
		return nil, err
	}

	body, err := s.render.IssueBody(issue, attachments, s.archives[issue.ID])
	if err != nil {
		return nil, err
	}
	commentStream, err := s.render.CommentStream(comments)
	if err != nil {
		return nil, err
	}
	changeStream, err := s.render.ChangeStream(changes)
	if err != nil {
		return nil, err
	}
	createdAt, err := render.ISODate(issue.CreatedOn)
	if err != nil {
		return nil, err
	}
	updatedAt, err := render.ISODate(issue.UpdatedOn)
	if err != nil {
		return nil, err
	}

	return &models.IssueData{
		Title:     tag.IssueTitle(issue.ID, issue.Title),
		Body:      body,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Assignee:  s.mapper.User(issue.Assignee),
		Closed:    s.mapper.Closed(issue.State),
		Labels:    s.mapper.IssueLabels(issue),
		Comments:  render.MergeTimeline(commentStream, changeStream),
	}, nil
}

// pullTimeline renders and merges a pull request's comment and
// approval-activity sub-streams.
func (s *Syncer) pullTimeline(ctx context.Context, pullID int) ([]models.RenderedComment, error) {
	comments, err := s.src.PullComments(ctx, pullID)
	if err != nil {
		return nil, err
	}
	activity, err := s.src.Activity(ctx, pullID)
	if err != nil {
		return nil, err
	}
	commentStream, err := s.render.CommentStream(comments)
	if err != nil {
		return nil, err
	}
	activityStream, err := s.render.ActivityStream(activity)
	if err != nil {
		return nil, err
	}
	return render.MergeTimeline(commentStream, activityStream), nil
}

// pullData assembles the target payload for a pull request migrated as
// a github pull request.
func (s *Syncer) pullData(ctx context.Context, pull *models.PullRequest) (*models.PullData, error) {
	body, err := s.render.PullBody(pull)
	if err != nil {
		return nil, err
	}
	comments, err := s.pullTimeline(ctx, pull.ID)
	if err != nil {
		return nil, err
	}

	var assignees []string
	if author := s.mapper.User(pull.Author); author != "" {
		assignees = append(assignees, author)
	}
	var reviewers []string
	for i := range pull.Reviewers {
		if reviewer := s.mapper.User(&pull.Reviewers[i]); reviewer != "" {
			reviewers = append(reviewers, reviewer)
		}
	}

	return &models.PullData{
		Title:     tag.PullTitle(pull.ID, pull.Title),
		Body:      body,
		Assignees: assignees,
		Reviewers: reviewers,
		Closed:    s.mapper.Closed(pull.State),
		Labels:    s.mapper.PullLabels(pull),
		Base:      branchName(pull.Destination.Branch),
		Head:      branchName(pull.Source.Branch),
		Comments:  comments,
	}, nil
}

// pullAsIssueData assembles the target payload for a pull request
// migrated as a plain github issue.
func (s *Syncer) pullAsIssueData(ctx context.Context, pull *models.PullRequest) (*models.IssueData, error) {
	body, err := s.render.PullBody(pull)
	if err != nil {
		return nil, err
	}
	comments, err := s.pullTimeline(ctx, pull.ID)
	if err != nil {
		return nil, err
	}
	createdAt, err := render.ISODate(pull.CreatedOn)
	if err != nil {
		return nil, err
	}
	updatedAt, err := render.ISODate(pull.UpdatedOn)
	if err != nil {
		return nil, err
	}

	return &models.IssueData{
		Title:     tag.PullTitle(pull.ID, pull.Title),
		Body:      body,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Assignee:  s.mapper.User(pull.Author),
		Closed:    s.mapper.Closed(pull.State),
		Labels:    s.mapper.PullLabels(pull),
		Comments:  comments,
	}, nil
}

// pauseOnLowQuota checks the remaining write quota before a mutating
// call and pauses briefly when it is exhausted. Quota accounting
// belongs to GitHub; the engine only observes it.
func (s *Syncer) pauseOnLowQuota(ctx context.Context) {
	remaining, err := s.dst.RemainingWriteQuota(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to query remaining github quota")
		return
	}
	log.Debug().Int("remaining", remaining).Msg("remaining github quota")
	if remaining < 1 {
		log.Info().Msg("github write quota exhausted, pausing")
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
}
