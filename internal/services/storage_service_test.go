// internal/services/storage_service_test.go
package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
)

type fakeS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestLocalReceiptStorage(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorageService(config.AWSConfig{LocalReceiptDir: dir, ReceiptPrefix: "receipts"})
	require.NoError(t, err)

	url, err := storage.Archive(context.Background(), "abc.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "receipts/abc.json"))

	data, err := storage.Fetch(context.Background(), "abc.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = storage.Fetch(context.Background(), "missing.json")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = storage.Archive(context.Background(), "../../escape.json", []byte("x"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestS3ReceiptStorage(t *testing.T) {
	client := &fakeS3{}
	storage := NewStorageServiceWithClient(client, config.AWSConfig{S3Bucket: "receipts-bucket", Region: "eu-west-1", ReceiptPrefix: "settlements"})

	url, err := storage.Archive(context.Background(), "abc.json", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "https://receipts-bucket.s3.eu-west-1.amazonaws.com/settlements/abc.json", url)
	assert.Contains(t, client.objects, "receipts-bucket/settlements/abc.json")

	data, err := storage.Fetch(context.Background(), "abc.json")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = storage.Fetch(context.Background(), "other.json")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
