// Package s3 implements the storage.MultipartStore interface for AWS S3
// and S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rgeorgiev/sensorvault/internal/storage"
)

const (
	// maxPartNumber is the highest part number S3 accepts for a multipart upload.
	maxPartNumber = 10000

	// listPageSize is the page size for ListMultipartUploads pagination.
	listPageSize = 1000
)

// S3Config holds configuration for S3 multipart storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool // Use path-style addressing (required for MinIO)
}

// S3Store implements storage.MultipartStore for AWS S3 and S3-compatible storage.
type S3Store struct {
	client *s3.Client
	bucket string
}

// Ensure S3Store implements storage.MultipartStore
var _ storage.MultipartStore = (*S3Store)(nil)

// NewS3Store creates a new S3Store with the given configuration.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	// Verify bucket access with a HEAD request
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 multipart store initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// validateKey ensures the S3 key doesn't contain path traversal attacks or
// dangerous characters.
func (s *S3Store) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}
	if strings.Contains(key, "%") {
		return fmt.Errorf("encoded characters not allowed in key")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}
	return nil
}

// validateUploadID ensures the remote upload id is present and sane.
func (s *S3Store) validateUploadID(uploadID string) error {
	if uploadID == "" {
		return fmt.Errorf("upload ID is required")
	}
	if strings.ContainsRune(uploadID, '\x00') {
		return fmt.Errorf("null bytes not allowed in upload ID")
	}
	return nil
}

// validatePartNumber ensures the part number is within S3's accepted range.
func (s *S3Store) validatePartNumber(partNumber int) error {
	if partNumber < 1 || partNumber > maxPartNumber {
		return fmt.Errorf("part number out of range: %d", partNumber)
	}
	return nil
}

// Begin opens a multipart upload for the key and returns the S3 upload id.
func (s *S3Store) Begin(ctx context.Context, key string) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("Begin", key, err, "key validation failed")
	}

	resp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", storage.NewStorageError("Begin", key, err)
	}
	if resp.UploadId == nil || *resp.UploadId == "" {
		return "", storage.NewStorageErrorWithMessage("Begin", key, nil, "S3 returned no upload id")
	}

	slog.Debug("multipart upload opened", "key", key, "remote_upload_id", *resp.UploadId)
	return *resp.UploadId, nil
}

// UploadPart uploads one part and returns the etag S3 assigned to it.
// A response without an etag is treated as a failure.
func (s *S3Store) UploadPart(ctx context.Context, key, remoteUploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "key validation failed")
	}
	if err := s.validateUploadID(remoteUploadID); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "invalid upload ID")
	}
	if err := s.validatePartNumber(partNumber); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "invalid part number")
	}

	input := &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(remoteUploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       data,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	resp, err := s.client.UploadPart(ctx, input)
	if err != nil {
		return "", storage.NewStorageError("UploadPart", key, err)
	}
	if resp.ETag == nil || *resp.ETag == "" {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, nil, "S3 returned no etag for part")
	}

	slog.Debug("part uploaded",
		"key", key,
		"part_number", partNumber,
		"size", size,
	)

	return *resp.ETag, nil
}

// Complete assembles the uploaded parts into the final object.
func (s *S3Store) Complete(ctx context.Context, key, remoteUploadID string, parts []storage.Part) error {
	if err := s.validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Complete", key, err, "key validation failed")
	}
	if err := s.validateUploadID(remoteUploadID); err != nil {
		return storage.NewStorageErrorWithMessage("Complete", key, err, "invalid upload ID")
	}
	if len(parts) == 0 {
		return storage.NewStorageErrorWithMessage("Complete", key, nil, "no parts to complete")
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		})
	}

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(remoteUploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return storage.NewStorageError("Complete", key, err)
	}

	slog.Info("multipart upload completed", "key", key, "parts", len(parts))
	return nil
}

// Abort discards a multipart upload. S3 reports NoSuchUpload for an
// upload that is already gone; that is treated as success so aborts can
// be safely retried.
func (s *S3Store) Abort(ctx context.Context, key, remoteUploadID string) error {
	if err := s.validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Abort", key, err, "key validation failed")
	}
	if err := s.validateUploadID(remoteUploadID); err != nil {
		return storage.NewStorageErrorWithMessage("Abort", key, err, "invalid upload ID")
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(remoteUploadID),
	})
	if err != nil {
		var nsu *types.NoSuchUpload
		if errors.As(err, &nsu) {
			slog.Debug("abort of unknown upload treated as success", "key", key)
			return nil
		}
		return storage.NewStorageError("Abort", key, err)
	}

	slog.Debug("multipart upload aborted", "key", key)
	return nil
}

// ListInProgress walks every multipart upload the bucket holds open,
// paginating with the key/upload-id markers S3 hands back.
func (s *S3Store) ListInProgress(ctx context.Context, fn func(storage.InProgressUpload) error) error {
	var keyMarker, uploadIDMarker *string

	for {
		resp, err := s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(s.bucket),
			MaxUploads:     aws.Int32(listPageSize),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return storage.NewStorageError("ListInProgress", s.bucket, err)
		}

		for _, u := range resp.Uploads {
			if u.Key == nil || u.UploadId == nil {
				continue
			}
			initiated := time.Time{}
			if u.Initiated != nil {
				initiated = *u.Initiated
			}
			if err := fn(storage.InProgressUpload{
				Key:            *u.Key,
				RemoteUploadID: *u.UploadId,
				InitiatedAt:    initiated,
			}); err != nil {
				return err
			}
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			return nil
		}
		keyMarker = resp.NextKeyMarker
		uploadIDMarker = resp.NextUploadIdMarker
	}
}

// HealthCheck verifies that the bucket is accessible with a HEAD request.
// Includes a 5-second timeout to prevent indefinite blocking on network issues.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return storage.NewStorageErrorWithMessage("HealthCheck", s.bucket, err, "S3 bucket not accessible")
	}
	return nil
}
