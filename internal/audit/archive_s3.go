package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"rental-platform/internal/config"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver uploads CSV exports of the audit feed to an S3-compatible
// bucket (AWS S3 or MinIO) for long-term compliance retention.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	clock  func() time.Time
}

// NewS3Archiver builds a client from the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("ARCHIVE_S3_BUCKET is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3ArchiverWithClient(client, cfg.Bucket), nil
}

func NewS3ArchiverWithClient(client *s3.Client, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: "audit-exports", clock: time.Now}
}

// ArchiveExport writes every record matching f (up to limit) as CSV and
// uploads it under audit-exports/YYYY/MM/DD/. It returns the object key and
// the number of records archived.
func (a *S3Archiver) ArchiveExport(ctx context.Context, qs *QueryService, f Filter, limit int) (string, int, error) {
	var buf bytes.Buffer
	n, err := qs.ExportCSV(ctx, &buf, f, limit)
	if err != nil {
		return "", 0, fmt.Errorf("export audit csv: %w", err)
	}

	now := a.clock().UTC()
	key := fmt.Sprintf("%s/%s/audit-%s.csv", a.prefix, now.Format("2006/01/02"), now.Format("20060102T150405Z"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"record-count": fmt.Sprintf("%d", n),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return key, n, nil
}
