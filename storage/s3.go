package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"trial-etl/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver spiegelt geschriebene Roh-Snapshots an einen entfernten Ort.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) (string, error)
}

// NewS3Client erstellt einen S3-Client für den konfigurierten S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.ArchiveS3URL)
		o.UsePathStyle = true
	}), nil
}

// S3Archive legt Snapshots unter einem Präfix in einem Bucket ab.
type S3Archive struct {
	Client  *s3.Client
	Bucket  string
	Prefix  string
	BaseURL string
}

// NewS3Archive erstellt ein S3Archive aus der Konfiguration.
func NewS3Archive(ctx context.Context, cfg *config.Config) (*S3Archive, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Archive{Client: client, Bucket: cfg.ArchiveS3Bucket, Prefix: "raw", BaseURL: cfg.ArchiveS3URL}, nil
}

// Archive lädt eine Datei ins S3 hoch und gibt den Link zurück.
func (a *S3Archive) Archive(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := path.Join(a.Prefix, key)
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", a.BaseURL, a.Bucket, objectKey), nil
}

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "text/plain"
	}
}
