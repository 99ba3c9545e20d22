// Package s3blob uploads report archives to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2) via AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// minPartSize is the S3 minimum multipart part size (5 MiB).
	minPartSize int64 = 5 * 1024 * 1024
	// multipartThreshold is the file size above which uploads switch to the
	// concurrent multipart manager.
	multipartThreshold int64 = 64 * 1024 * 1024
)

// Config holds the object-store connection parameters. Endpoint is only
// needed for non-AWS providers; ForcePathStyle puts the bucket in the URL
// path, which most self-hosted providers require.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Prefix         string
	UseSSL         bool
	ForcePathStyle bool
}

// Archiver uploads the report CSV files under one date-stamped key per day,
// e.g. "<prefix>/2026-08-30/orders.csv". Uploads overwrite the day's
// previous object, so a rerun within the same day only refreshes the copy.
type Archiver struct {
	s3     *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver builds the S3 client and verifies the bucket is reachable.
func NewArchiver(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3blob: bucket %s unreachable: %w", cfg.Bucket, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "futuresmon"
	}
	return &Archiver{
		s3:     client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "s3_archiver")),
	}, nil
}

// ArchiveFiles uploads each existing non-empty file under the day key
// derived from at. Missing files are skipped; the first upload failure
// aborts the batch.
func (a *Archiver) ArchiveFiles(ctx context.Context, at time.Time, paths []string) error {
	day := at.UTC().Format("2006-01-02")

	for _, path := range paths {
		stat, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("s3blob: stat %s: %w", path, err)
		}
		if stat.Size() == 0 {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("s3blob: open %s: %w", path, err)
		}

		key := a.prefix + "/" + day + "/" + filepath.Base(path)
		err = a.upload(ctx, key, f, stat.Size())
		f.Close()
		if err != nil {
			return err
		}

		a.logger.Info("report archived",
			slog.String("key", key),
			slog.Int64("bytes", stat.Size()))
	}
	return nil
}

func (a *Archiver) upload(ctx context.Context, key string, f *os.File, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	}

	if size > multipartThreshold {
		uploader := manager.NewUploader(a.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		})
		if _, err := uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}

	if _, err := a.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// normaliseEndpoint prepends a scheme when the endpoint lacks one.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
