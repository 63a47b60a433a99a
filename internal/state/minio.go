package state

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBackend mirrors the snapshot to an S3-compatible bucket so several
// build machines can continue the same search.
type MinioBackend struct {
	client *minio.Client
	bucket string
	key    string
}

// MinioConfig locates the mirror object.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinioBackend connects to the endpoint in cfg. No request is made until
// the first Read or Write.
func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("minio mirror requires bucket and key")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioBackend{client: client, bucket: cfg.Bucket, key: cfg.Key}, nil
}

func (m *MinioBackend) Read(ctx context.Context) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.mapErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.mapErr(err)
	}
	return data, nil
}

func (m *MinioBackend) Write(ctx context.Context, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *MinioBackend) String() string {
	return fmt.Sprintf("s3://%s/%s", m.bucket, m.key)
}

func (m *MinioBackend) mapErr(err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return ErrNotFound
	}
	return err
}
