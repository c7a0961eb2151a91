package sinks

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{}, nil
}

type fakeDownloader struct {
	payload []byte
	key     string
	err     error
}

func (f *fakeDownloader) Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error) {
	f.key = aws.ToString(params.Key)
	if f.err != nil {
		return 0, f.err
	}
	n, err := w.WriteAt(f.payload, 0)
	return int64(n), err
}

func newTestArchiver(uploader Uploader, downloader Downloader) *S3Archiver {
	return &S3Archiver{
		uploader:   uploader,
		downloader: downloader,
		config: S3Config{
			Bucket:         "agentmesh-archive",
			PathPrefix:     "contexts",
			RequestTimeout: time.Second,
		},
		logger: observability.NewNoopLogger(),
	}
}

func TestS3Archiver_ArchiveUploadsJSONEntry(t *testing.T) {
	uploader := &fakeUploader{}
	archiver := newTestArchiver(uploader, &fakeDownloader{})

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &ArchiveEntry{
		ContextID: "ctx-1",
		VersionID: "v-5",
		Version:   5,
		Content:   models.JSONMap{"status": "active"},
		Timestamp: stamp,
	}

	err := archiver.Archive(context.Background(), entry)
	require.NoError(t, err)
	require.NotNil(t, uploader.input)

	assert.Equal(t, "agentmesh-archive", aws.ToString(uploader.input.Bucket))
	assert.Equal(t, "contexts/ctx-1/v-5.json", aws.ToString(uploader.input.Key))
	assert.Equal(t, "application/json", aws.ToString(uploader.input.ContentType))

	body, err := io.ReadAll(uploader.input.Body)
	require.NoError(t, err)

	var stored ArchiveEntry
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, "ctx-1", stored.ContextID)
	assert.Equal(t, 5, stored.Version)
	assert.Equal(t, models.JSONMap{"status": "active"}, stored.Content)
	assert.True(t, stored.Timestamp.Equal(stamp))
}

func TestS3Archiver_ArchiveValidatesEntry(t *testing.T) {
	archiver := newTestArchiver(&fakeUploader{}, &fakeDownloader{})

	err := archiver.Archive(context.Background(), nil)
	require.Error(t, err)

	err = archiver.Archive(context.Background(), &ArchiveEntry{ContextID: "ctx-1"})
	require.Error(t, err)
}

func TestS3Archiver_ArchivePropagatesUploadError(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("connection reset")}
	archiver := newTestArchiver(uploader, &fakeDownloader{})

	err := archiver.Archive(context.Background(), &ArchiveEntry{
		ContextID: "ctx-1",
		VersionID: "v-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to archive context ctx-1")
}

func TestS3Archiver_FetchRestoresEntry(t *testing.T) {
	entry := &ArchiveEntry{
		ContextID: "ctx-2",
		VersionID: "v-10",
		Version:   10,
		Content:   models.JSONMap{"progress": float64(80)},
		Timestamp: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	downloader := &fakeDownloader{payload: payload}
	archiver := newTestArchiver(&fakeUploader{}, downloader)

	fetched, err := archiver.Fetch(context.Background(), "ctx-2", "v-10")
	require.NoError(t, err)

	assert.Equal(t, "contexts/ctx-2/v-10.json", downloader.key)
	assert.Equal(t, entry.ContextID, fetched.ContextID)
	assert.Equal(t, entry.Version, fetched.Version)
	assert.Equal(t, entry.Content, fetched.Content)
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3Config{Region: "us-west-2"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}
