// Package bundle converts a Bitbucket issue's attachment set into the
// file payload of a single gist archive on GitHub.
package bundle

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tkoenig/bb2gh/internal/models"
)

// MaxFileSize is the per-file ceiling for gist content. Larger
// attachments are replaced with a placeholder and must be moved by hand.
const MaxFileSize = 500 * 1000

// readmeName sorts before every attachment in the gist file list.
const readmeName = "# README.md"

// AttachmentSource is the slice of the source client the bundler needs.
type AttachmentSource interface {
	Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error)
	AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error)
}

// Description is the deterministic gist description for one issue's
// attachments. It doubles as the idempotency key for gist creation.
func Description(ghRepo string, issueID int) string {
	return fmt.Sprintf("Attachments for issue https://github.com/%s/issues/%d", ghRepo, issueID)
}

// Build fetches every attachment of an issue and assembles the gist
// payload. It returns nil files when the issue has no attachments.
// Empty content is replaced with "(empty)" and content over MaxFileSize
// with "(too big)"; both keep the archive creatable.
func Build(ctx context.Context, src AttachmentSource, bbRepo, ghRepo string, issueID int) (string, map[string]string, error) {
	attachments, err := src.Attachments(ctx, issueID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list attachments of issue #%d: %w", issueID, err)
	}
	if len(attachments) == 0 {
		return "", nil, nil
	}

	description := Description(ghRepo, issueID)
	files := map[string]string{readmeName: description}

	names := make([]string, 0, len(attachments))
	for name := range attachments {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := src.AttachmentBytes(ctx, issueID, name)
		if err != nil {
			return "", nil, fmt.Errorf("failed to download attachment %q of issue #%d: %w", name, issueID, err)
		}
		content := string(data)
		switch {
		case len(data) == 0:
			log.Warn().Str("file", name).Str("repo", bbRepo).Int("issue", issueID).
				Msg("attachment is empty")
			content = "(empty)"
		case len(data) > MaxFileSize:
			log.Error().Str("file", name).Str("repo", bbRepo).Int("issue", issueID).
				Msg("attachment is too big for a gist file and has to be migrated manually")
			content = "(too big)"
		}
		files[name] = content
	}

	return description, files, nil
}
