package bundle

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoenig/bb2gh/internal/models"
)

type fakeSource struct {
	attachments map[string]models.Attachment
	content     map[string][]byte
}

func (f *fakeSource) Attachments(ctx context.Context, issueID int) (map[string]models.Attachment, error) {
	return f.attachments, nil
}

func (f *fakeSource) AttachmentBytes(ctx context.Context, issueID int, name string) ([]byte, error) {
	return f.content[name], nil
}

func TestBuildNoAttachments(t *testing.T) {
	src := &fakeSource{}

	description, files, err := Build(context.Background(), src, "acme/widgets", "acme-gh/widgets", 7)
	require.NoError(t, err)
	assert.Empty(t, description)
	assert.Nil(t, files)
}

func TestBuild(t *testing.T) {
	src := &fakeSource{
		attachments: map[string]models.Attachment{
			"crash.log": {Name: "crash.log"},
			"fix.patch": {Name: "fix.patch"},
		},
		content: map[string][]byte{
			"crash.log": []byte("stack trace"),
			"fix.patch": []byte("diff --git"),
		},
	}

	description, files, err := Build(context.Background(), src, "acme/widgets", "acme-gh/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, "Attachments for issue https://github.com/acme-gh/widgets/issues/7", description)
	assert.Equal(t, map[string]string{
		"# README.md": description,
		"crash.log":   "stack trace",
		"fix.patch":   "diff --git",
	}, files)
}

func TestBuildPlaceholders(t *testing.T) {
	src := &fakeSource{
		attachments: map[string]models.Attachment{
			"empty.txt": {Name: "empty.txt"},
			"exact.bin": {Name: "exact.bin"},
			"huge.bin":  {Name: "huge.bin"},
		},
		content: map[string][]byte{
			"empty.txt": {},
			"exact.bin": bytes.Repeat([]byte("x"), MaxFileSize),
			"huge.bin":  bytes.Repeat([]byte("x"), MaxFileSize+1),
		},
	}

	_, files, err := Build(context.Background(), src, "acme/widgets", "acme-gh/widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, "(empty)", files["empty.txt"])
	assert.Len(t, files["exact.bin"], MaxFileSize)
	assert.Equal(t, "(too big)", files["huge.bin"])
}
