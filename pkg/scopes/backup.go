package scopes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mcpgate/mcpgate/pkg/observability"
)

// BackupConfig holds S3 snapshot settings
type BackupConfig struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// BackupWriter uploads normalized exports of the full scope document set
// to S3. Snapshot keys carry a timestamp and the sum of the version vector,
// so a restored snapshot can be matched against the store state it captured.
type BackupWriter struct {
	client *s3.Client
	store  Store
	logger *observability.Logger
	bucket string
	prefix string
}

// NewBackupWriter creates an S3-backed snapshot writer
func NewBackupWriter(ctx context.Context, cfg BackupConfig, store Store, logger *observability.Logger) (*BackupWriter, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials for MinIO or AWS with explicit keys
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	return &BackupWriter{
		client: client,
		store:  store,
		logger: logger.WithField("component", "backup"),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// snapshot is the serialized form of one backup object
type snapshot struct {
	TakenAt       time.Time        `json:"taken_at"`
	SchemaVersion int              `json:"schema_version"`
	VersionVector VersionVector    `json:"version_vector"`
	Documents     []*ScopeDocument `json:"documents"`
}

// Snapshot exports every document in normalized form and uploads it,
// returning the object key
func (b *BackupWriter) Snapshot(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "BackupWriter.Snapshot")
	defer span.End()

	docs, err := b.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		return "", fmt.Errorf("failed to list scope documents for backup: %w", err)
	}
	vector, err := b.store.VersionVector(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		return "", fmt.Errorf("failed to read version vector for backup: %w", err)
	}

	normalized := make([]*ScopeDocument, len(docs))
	for i, doc := range docs {
		normalized[i] = Normalize(doc)
	}

	snap := snapshot{
		TakenAt:       time.Now().UTC(),
		SchemaVersion: CurrentSchemaVersion,
		VersionVector: vector,
		Documents:     normalized,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup snapshot: %w", err)
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	var vectorSum int64
	for _, v := range vector {
		vectorSum += v
	}
	key := fmt.Sprintf("%sscopes-%s-v%d.json", b.prefix, snap.TakenAt.Format("20060102T150405Z"), vectorSum)

	span.SetAttributes(
		attribute.String("s3.bucket", b.bucket),
		attribute.String("s3.key", key),
		attribute.Int("backup.documents", len(normalized)),
	)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return "", fmt.Errorf("failed to upload backup snapshot: %w", err)
	}

	b.logger.WithField("key", key).WithField("documents", len(normalized)).Info("scope backup uploaded")
	return key, nil
}

// Schedule runs periodic snapshots until ctx is cancelled
func (b *BackupWriter) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Snapshot(ctx); err != nil {
				b.logger.WithError(err).Error("scheduled scope backup failed")
			}
		}
	}
}
