// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/shop-backend/internal/config"
)

const receiptFolder = "receipts"

// StorageService archives generated receipts. Without AWS credentials it
// writes to a local directory instead.
type StorageService struct {
	s3Client s3iface.S3API
	bucket   string
	region   string
	localDir string
}

type StoredObject struct {
	Key      string `json:"key"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.AccessKeyID == "" {
		// Return service without S3 for local development
		return &StorageService{localDir: cfg.LocalStorageDir}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3StorageService(s3.New(sess), cfg.S3Bucket, cfg.Region), nil
}

func NewS3StorageService(client s3iface.S3API, bucket, region string) *StorageService {
	return &StorageService{s3Client: client, bucket: bucket, region: region}
}

func NewLocalStorageService(dir string) *StorageService {
	return &StorageService{localDir: dir}
}

func ReceiptKey(txRef string) string {
	return fmt.Sprintf("%s/%s.pdf", receiptFolder, txRef)
}

// StoreReceipt overwrites any previous copy, so retries are harmless.
func (s *StorageService) StoreReceipt(ctx context.Context, txRef string, pdf []byte) (*StoredObject, error) {
	key := ReceiptKey(txRef)
	if s.s3Client != nil {
		return s.uploadToS3(ctx, key, pdf)
	}
	return s.uploadToLocal(key, pdf)
}

func (s *StorageService) uploadToS3(ctx context.Context, key string, data []byte) (*StoredObject, error) {
	params := &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/pdf"),
		ContentLength:        aws.Int64(int64(len(data))),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	}

	if _, err := s.s3Client.PutObjectWithContext(ctx, params); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &StoredObject{
		Key:      key,
		Location: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key),
		Size:     int64(len(data)),
	}, nil
}

func (s *StorageService) uploadToLocal(key string, data []byte) (*StoredObject, error) {
	if s.localDir == "" {
		logrus.WithField("key", key).Info("Receipt storage not configured, skipping archive")
		return &StoredObject{Key: key, Size: int64(len(data))}, nil
	}

	path := filepath.Join(s.localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write receipt: %w", err)
	}

	return &StoredObject{Key: key, Location: path, Size: int64(len(data))}, nil
}

// PresignReceipt returns a temporary download link for an archived receipt.
func (s *StorageService) PresignReceipt(txRef string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", ErrReceiptUnavailable
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ReceiptKey(txRef)),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}
