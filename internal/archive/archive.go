// Package archive uploads finished capture files to Amazon S3 or any
// S3-compatible object store (MinIO, R2, ...).
//
// Objects are keyed as <prefix>/<yyyy>/<mm>/<dd>/<run-id>-<file name> and are
// never overwritten: uploads are conditional on the key not existing yet.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/MrWong99/audiocap/internal/config"
)

// ErrExists is returned by [Uploader.Upload] when the target key is already
// taken.
var ErrExists = errors.New("archive: object already exists")

// S3Client abstracts the S3 API operations used by [Uploader].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies local files into a bucket.
type Uploader struct {
	client S3Client
	bucket string
	prefix string
}

// New returns an Uploader writing to bucket under prefix ("" for none).
func New(client S3Client, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewFromConfig builds an S3 client from the default AWS credential chain
// (environment, shared config, instance role) and cfg.
func NewFromConfig(ctx context.Context, cfg config.ArchiveConfig) (*Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// Key returns the object key for the file at localPath recorded by runID at
// the given time.
func (u *Uploader) Key(runID, localPath string, at time.Time) string {
	name := runID + "-" + filepath.Base(localPath)
	return path.Join(u.prefix, at.UTC().Format("2006/01/02"), name)
}

// Upload streams the file at localPath to the bucket and returns its key.
func (u *Uploader) Upload(ctx context.Context, runID, localPath string, at time.Time) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: stat %s: %w", localPath, err)
	}

	key := u.Key(runID, localPath, at)
	start := time.Now()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
		IfNoneMatch:   aws.String("*"),
		Metadata: map[string]string{
			"run-id":      runID,
			"captured-at": at.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("archive: upload s3://%s/%s: %w", u.bucket, key, ErrExists)
		}
		return "", fmt.Errorf("archive: upload s3://%s/%s: %w", u.bucket, key, err)
	}

	slog.Info("archived capture",
		"bucket", u.bucket,
		"key", key,
		"bytes", info.Size(),
		"duration", time.Since(start),
	)
	return key, nil
}

// contentType guesses the MIME type from the file extension.
func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".mka":
		return "audio/x-matroska"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// isPreconditionFailed reports whether err is S3's answer to a conditional
// write whose key already exists.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}
