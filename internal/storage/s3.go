package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// S3Config configures an S3Disk.
type S3Config struct {
	Disk            string
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	PartSize        int64
}

// s3API is the subset of the S3 client used besides uploads.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Client is what an S3Disk needs from the SDK. *s3.Client satisfies it.
type S3Client interface {
	s3API
	manager.UploadAPIClient
}

// S3Disk stores files as objects in a bucket.
//
// Free names are found with HeadObject before the upload. Keys being uploaded
// by this process are reserved, so concurrent commits here never pick the same
// name. Two instances committing the same name at the same moment can still
// both see it free, and the later upload wins.
type S3Disk struct {
	client   S3Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	disk     string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewS3Disk loads AWS configuration and creates an S3Disk.
func NewS3Disk(ctx context.Context, cfg S3Config) (*S3Disk, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewS3DiskWithClient(s3.NewFromConfig(*awsCfg), cfg), nil
}

// NewS3DiskWithClient creates an S3Disk on an existing client.
func NewS3DiskWithClient(client S3Client, cfg S3Config) *S3Disk {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize >= manager.MinUploadPartSize {
			u.PartSize = cfg.PartSize
		}
	})
	return &S3Disk{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(core.NormalizePath(cfg.Prefix), "/"),
		disk:     cfg.Disk,
		inflight: make(map[string]struct{}),
	}
}

func loadAWSConfig(ctx context.Context, region, accessKeyID, secretKey string) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		slog.Debug("aws credentials provided, using them")
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %w", err)
	}
	return &cfg, nil
}

// Disk returns the disk identifier.
func (d *S3Disk) Disk() string { return d.disk }

// PutFileAs uploads file to folder/name, picking a " (n)" suffixed name when
// the key is taken. The returned path excludes the configured prefix.
func (d *S3Disk) PutFileAs(ctx context.Context, folder string, file core.FinishedFile, name string) (string, error) {
	rel, err := d.reserve(ctx, folder, name)
	if err != nil {
		return "", err
	}
	defer d.release(rel)

	body, err := file.Open()
	if err != nil {
		return "", err
	}
	defer body.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(rel)),
		Body:   body,
	}
	if file.MimeType != "" {
		input.ContentType = aws.String(file.MimeType)
	}

	if _, err := d.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", d.key(rel), err)
	}
	return rel, nil
}

// reserve picks the first candidate name that is neither uploading in this
// process nor present in the bucket, and holds it until release.
func (d *S3Disk) reserve(ctx context.Context, folder, name string) (string, error) {
	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		candidate := objectKey(folder, candidateName(name, attempt))

		d.mu.Lock()
		_, busy := d.inflight[candidate]
		if !busy {
			d.inflight[candidate] = struct{}{}
		}
		d.mu.Unlock()
		if busy {
			continue
		}

		exists, err := d.exists(ctx, d.key(candidate))
		if err == nil && !exists {
			return candidate, nil
		}
		d.release(candidate)
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free key for %q after %d attempts", name, maxCollisionAttempts)
}

func (d *S3Disk) release(rel string) {
	d.mu.Lock()
	delete(d.inflight, rel)
	d.mu.Unlock()
}

// Delete removes an object. S3 treats missing keys as success.
func (d *S3Disk) Delete(ctx context.Context, p string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(core.NormalizePath(p))),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (d *S3Disk) key(rel string) string {
	if d.prefix == "" {
		return rel
	}
	return d.prefix + "/" + rel
}

func (d *S3Disk) exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", key, err)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}
