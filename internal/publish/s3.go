// Package publish uploads rendered reports to S3 or an S3-compatible store.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/leapstack-labs/impalineage/internal/report"
)

// Config configures an Uploader.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint, for S3-compatible stores.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Uploader puts reports into one bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New creates an Uploader. Without an access key, requests are sent unsigned.
func New(cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("publish: bucket is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:                     region,
		UsePathStyle:               cfg.PathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	}

	return &Uploader{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Key returns the object key of a run's report.
func (u *Uploader) Key(runID string, format report.Format) string {
	name := runID + "." + format.Ext()
	if u.prefix == "" {
		return name
	}
	return path.Join(strings.TrimSuffix(u.prefix, "/"), name)
}

// Upload stores a rendered report and returns its s3:// location.
func (u *Uploader) Upload(ctx context.Context, runID string, format report.Format, body []byte) (string, error) {
	key := u.Key(runID, format)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(format.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.logger.Info("report uploaded", slog.String("location", location), slog.Int("bytes", len(body)))
	return location, nil
}
