package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3AnchorConfig holds configuration for the S3 anchor store.
type S3AnchorConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// KeyPrefix namespaces anchor objects inside the bucket. Defaults to
	// "ledger".
	KeyPrefix string
}

// S3AnchorStore implements AnchorStore against an S3-compatible bucket.
// Snapshots are stored as JSON objects keyed by sequence and content hash.
type S3AnchorStore struct {
	client     *s3.Client
	bucketName string
	keyPrefix  string
}

// NewS3AnchorStore creates an S3-backed anchor store.
func NewS3AnchorStore(cfg S3AnchorConfig) (*S3AnchorStore, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ledger"
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3AnchorStore{
		client:     client,
		bucketName: cfg.BucketName,
		keyPrefix:  cfg.KeyPrefix,
	}, nil
}

// Commit uploads the snapshot and returns its object key as the anchor
// reference.
func (s *S3AnchorStore) Commit(ctx context.Context, snap *Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/%08d-%s.json", s.keyPrefix, snap.Sequence, snap.ContentHash[:12])
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to anchor snapshot %d: %w", snap.Sequence, err)
	}
	return key, nil
}

// Get downloads a committed snapshot by its anchor reference.
func (s *S3AnchorStore) Get(ctx context.Context, ref string) (*Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrAnchorNotFound
		}
		return nil, fmt.Errorf("failed to fetch anchor %s: %w", ref, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor %s: %w", ref, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode anchor %s: %w", ref, err)
	}
	return &snap, nil
}
