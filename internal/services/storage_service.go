// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
)

// StorageService archives settlement receipts to S3, or to a local directory
// when no AWS credentials are configured.
type StorageService struct {
	s3Client s3iface.S3API
	config   config.AWSConfig
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.AccessKeyID == "" {
		// Local development keeps receipts on disk
		return &StorageService{config: cfg}, nil
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

	return &StorageService{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

// NewStorageServiceWithClient is used with a preconfigured or fake S3 client.
func NewStorageServiceWithClient(client s3iface.S3API, cfg config.AWSConfig) *StorageService {
	return &StorageService{s3Client: client, config: cfg}
}

func (s *StorageService) objectKey(key string) string {
	if s.config.ReceiptPrefix == "" {
		return key
	}
	return path.Join(s.config.ReceiptPrefix, key)
}

func (s *StorageService) localPath(key string) (string, error) {
	dir := s.config.LocalReceiptDir
	if dir == "" {
		dir = "receipts"
	}
	clean := filepath.Clean(filepath.Join(dir, filepath.FromSlash(s.objectKey(key))))
	if !strings.HasPrefix(clean, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", apperrors.Validation("invalid receipt key %q", key)
	}
	return clean, nil
}

// Archive stores data under key and returns where it can be fetched from.
func (s *StorageService) Archive(ctx context.Context, key string, data []byte) (string, error) {
	if s.s3Client == nil {
		return s.archiveLocal(key, data)
	}

	objectKey := s.objectKey(key)
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.S3Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return s.getS3URL(objectKey), nil
}

func (s *StorageService) archiveLocal(key string, data []byte) (string, error) {
	p, err := s.localPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create receipt directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write receipt: %w", err)
	}

	logrus.WithField("path", p).Debug("Receipt archived locally")
	return "file://" + filepath.ToSlash(p), nil
}

// Fetch reads an archived receipt back.
func (s *StorageService) Fetch(ctx context.Context, key string) ([]byte, error) {
	if s.s3Client == nil {
		p, err := s.localPath(key)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			return nil, apperrors.NotFound("receipt %s not found", key)
		}
		return data, err
	}

	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, apperrors.NotFound("receipt %s not found", key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *StorageService) getS3URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.S3Bucket, s.config.Region, key)
}
