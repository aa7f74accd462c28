// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SnapshotArchive writes pruned treasury-snapshot batches to R2 so that
// down-sampling moves points to cold storage rather than destroying the
// only copy. It is optional: when the R2 env vars are absent the archive
// is simply disabled and pruning deletes outright.
type SnapshotArchive struct {
	client *s3.Client
	bucket string
}

// NewSnapshotArchiveFromEnv builds the archive from the R2 env vars, or
// returns (nil, nil) when they are not configured.
func NewSnapshotArchiveFromEnv() (*SnapshotArchive, error) {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	bucket := os.Getenv("R2_BUCKET_NAME")
	if accountID == "" || accessKeyID == "" || accessKeySecret == "" || bucket == "" {
		return nil, nil
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	return &SnapshotArchive{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// ArchivePruned uploads one JSON batch of pruned snapshot rows under
// treasury-archive/<settlementId>/<timestamp>.json.
func (a *SnapshotArchive) ArchivePruned(ctx context.Context, settlementID string, rows interface{}) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal pruned snapshots: %w", err)
	}
	key := fmt.Sprintf("treasury-archive/%s/%s.json", settlementID, time.Now().UTC().Format("20060102T150405Z"))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot archive %s: %w", key, err)
	}
	return nil
}
