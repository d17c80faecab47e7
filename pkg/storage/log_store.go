package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogStore keeps the output captured from each tool invocation
type LogStore interface {
	// Store saves logs and returns a reference path/URL
	Store(ctx context.Context, jobID string, logs []byte) (string, error)
	// Retrieve fetches logs by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3LogStore stores captured output in S3-compatible storage
type S3LogStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string        // e.g., "logs/conversions/"
	Region          string
	Endpoint        string        // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string        // Local cache for frequently accessed logs
}

// NewS3LogStore creates a new S3-backed log store
func NewS3LogStore(cfg S3LogStoreConfig) (*S3LogStore, error) {
	// Build AWS config
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	// Custom credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client
	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	// Ensure local cache directory exists
	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3LogStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

// Store saves captured output to S3
func (s *S3LogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	key := s.buildKey(jobID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}

	// Also cache locally for fast access
	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, jobID+".log")
		_ = os.WriteFile(cachePath, logs, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches logs from S3
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	// Extract key from reference
	key := extractKey(reference)

	// Check local cache first
	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	// Fetch from S3
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	// Update cache
	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(key))
		_ = os.WriteFile(cachePath, data, 0644)
	}

	return data, nil
}

func (s *S3LogStore) buildKey(jobID string) string {
	timestamp := time.Now().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%s.log", s.prefix, timestamp, jobID)
}

// extractKey accepts either a bare key or an s3://bucket/key reference.
func extractKey(reference string) string {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return reference
	}
	if _, key, found := strings.Cut(rest, "/"); found {
		return key
	}
	return reference
}

// LocalLogStore stores captured output on the local filesystem (for
// development and the batch CLI)
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store saves logs to local filesystem
func (l *LocalLogStore) Store(ctx context.Context, jobID string, logs []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.Base(jobID)+".log")
	if err := os.WriteFile(path, logs, 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return path, nil
}

// Retrieve fetches logs from local filesystem
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
