package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "equityflow/config"
	"equityflow/logger"
	"equityflow/models"
)

// Mirror uploads written day files to S3 alongside the local copy.
type Mirror struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewMirror builds an S3 mirror from storage.s3 settings. Credentials must
// resolve at construction time so an auth problem surfaces before any data is
// fetched.
func NewMirror(cfg *appconfig.Config) (*Mirror, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_mirror").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("s3 mirror initialized")

	return &Mirror{config: cfg, s3Client: s3Client, log: log}, nil
}

// Upload puts the encoded day file into the bucket under a hive-style
// partitioned key.
func (m *Mirror) Upload(ctx context.Context, batch models.DayBatch, data []byte) error {
	key := m.generateKey(batch)

	log := m.log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"s3_key":    key,
		"data_size": len(data),
		"operation": "upload",
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        m.config.Writer.Formats.Parquet.Compression,
			"equityflow-version": m.config.Equityflow.Version,
		},
	}

	// Finish in-flight uploads even when the run is being cancelled.
	_, err := m.s3Client.PutObject(context.WithoutCancel(ctx), input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", m.config.Storage.S3.Bucket, err)
	}

	logger.IncrementS3Mirror(int64(len(data)))
	log.Info("successfully mirrored to S3")
	return nil
}

func (m *Mirror) generateKey(batch models.DayBatch) string {
	parts := []string{
		fmt.Sprintf("kind=%s", batch.Kind),
		fmt.Sprintf("symbol=%s", batch.Symbol),
		fmt.Sprintf("date=%s", batch.Date),
		fmt.Sprintf("%s_%s.parquet", batch.Symbol, batch.Date),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}
