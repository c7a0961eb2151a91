package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// S3Config holds configuration for the S3 archival sink
type S3Config struct {
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Endpoint       string        `mapstructure:"endpoint"`
	PathPrefix     string        `mapstructure:"path_prefix"`
	UploadPartSize int64         `mapstructure:"upload_part_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
}

// Uploader is the slice of the S3 transfer manager the archiver uploads through.
type Uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Downloader is the slice of the S3 transfer manager the archiver reads through.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// S3Archiver stores archive entries as JSON objects in an S3 bucket under
// <path_prefix>/<context_id>/<version_id>.json.
type S3Archiver struct {
	uploader   Uploader
	downloader Downloader
	config     S3Config
	logger     observability.Logger
}

// NewS3Archiver creates an archiver against the configured bucket. A custom
// endpoint switches the client to S3 compatible services such as LocalStack.
func NewS3Archiver(ctx context.Context, cfg S3Config, logger observability.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "contexts"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	var options []func(*awsconfig.LoadOptions) error
	options = append(options, awsconfig.WithRegion(cfg.Region))

	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     region,
			}, nil
		})
		options = append(options, awsconfig.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Options := []func(*s3.Options){}
	if cfg.ForcePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.UploadPartSize > 0 {
			u.PartSize = cfg.UploadPartSize
		}
	})
	downloader := manager.NewDownloader(client)

	return &S3Archiver{
		uploader:   uploader,
		downloader: downloader,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Archive uploads the entry as a JSON object.
func (a *S3Archiver) Archive(ctx context.Context, entry *ArchiveEntry) error {
	if entry == nil || entry.ContextID == "" || entry.VersionID == "" {
		return errors.New("archive entry requires context and version ids")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal archive entry")
	}

	key := a.entryKey(entry.ContextID, entry.VersionID)

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to archive context %s version %s", entry.ContextID, entry.VersionID)
	}

	a.logger.Debug("Archived context version", map[string]interface{}{
		"context_id": entry.ContextID,
		"version_id": entry.VersionID,
		"key":        key,
	})
	return nil
}

// Fetch downloads a previously archived entry.
func (a *S3Archiver) Fetch(ctx context.Context, contextID, versionID string) (*ArchiveEntry, error) {
	if contextID == "" || versionID == "" {
		return nil, errors.New("context and version ids are required")
	}

	buf := manager.NewWriteAtBuffer([]byte{})

	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()

	_, err := a.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(a.entryKey(contextID, versionID)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch archived context %s version %s", contextID, versionID)
	}

	var entry ArchiveEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal archive entry")
	}

	return &entry, nil
}

// Close is a no-op; the underlying SDK clients hold no resources.
func (a *S3Archiver) Close() error {
	return nil
}

func (a *S3Archiver) entryKey(contextID, versionID string) string {
	return fmt.Sprintf("%s/%s/%s.json", a.config.PathPrefix, contextID, versionID)
}
